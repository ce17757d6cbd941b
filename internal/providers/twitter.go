package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itracker-hq/metrics-bot/internal/apify"
	"github.com/itracker-hq/metrics-bot/internal/models"
	"github.com/itracker-hq/metrics-bot/internal/util"
)

const (
	twitterMetricsActorID  = "pratikdani~twitter-posts-scraper"
	twitterCommentsActorID = "aLoAjAhdEpacDuwjr"

	// The posts scraper returns the whole conversation, so pull enough items
	// to find the requested tweet among them.
	twitterDatasetLimit = 100
)

// Twitter fetches tweet metrics and replies through scraping actors. Tweet
// runs are slower than the other actors and get the extended attempt budget.
type Twitter struct {
	jobs *apify.Client
}

// NewTwitter creates a Twitter client on top of the given job API client.
func NewTwitter(jobs *apify.Client) *Twitter {
	if jobs == nil {
		panic("providers: job client is required")
	}
	return &Twitter{jobs: jobs}
}

func (t *Twitter) Platform() models.Platform {
	return models.PlatformTwitter
}

// twitterItem is the posts scraper's dataset item. Views arrive as a string.
type twitterItem struct {
	TweetID        string          `json:"tweet_id"`
	ScreenName     string          `json:"screen_name"`
	Text           string          `json:"text"`
	CreatedAt      string          `json:"created_at"`
	Favorites      int64           `json:"favorites"`
	Retweets       int64           `json:"retweets"`
	Replies        int64           `json:"replies"`
	Quotes         int64           `json:"quotes"`
	Bookmarks      int64           `json:"bookmarks"`
	Views          string          `json:"views"`
	Lang           string          `json:"lang"`
	Source         string          `json:"source"`
	ConversationID string          `json:"conversation_id"`
	IsRetweet      bool            `json:"is_retweet"`
	IsQuote        bool            `json:"is_quote"`
	IsReply        bool            `json:"is_reply"`
	UserInfo       json.RawMessage `json:"user_info"`
	Entities       json.RawMessage `json:"entities"`
	Media          json.RawMessage `json:"media"`
}

// twitterPost is the tweet record carried in raw_response.
type twitterPost struct {
	TweetID        string          `json:"tweet_id"`
	ScreenName     string          `json:"screen_name"`
	Text           string          `json:"text"`
	CreatedAt      string          `json:"created_at"`
	Favorites      int64           `json:"favorites"`
	Retweets       int64           `json:"retweets"`
	Replies        int64           `json:"replies"`
	Quotes         int64           `json:"quotes"`
	Bookmarks      int64           `json:"bookmarks"`
	Views          string          `json:"views"`
	Lang           string          `json:"lang"`
	Source         string          `json:"source"`
	ConversationID string          `json:"conversation_id"`
	IsRetweet      bool            `json:"is_retweet"`
	IsQuote        bool            `json:"is_quote"`
	IsReply        bool            `json:"is_reply"`
	UserInfo       json.RawMessage `json:"user_info"`
	Entities       json.RawMessage `json:"entities"`
	Media          json.RawMessage `json:"media"`
	EngageRate     float64         `json:"engageRate"`
}

type twitterPlatformData struct {
	Retweets       int64           `json:"retweets"`
	Quotes         int64           `json:"quotes"`
	Bookmarks      int64           `json:"bookmarks"`
	Lang           string          `json:"lang"`
	Source         string          `json:"source"`
	ConversationID string          `json:"conversation_id"`
	IsRetweet      bool            `json:"is_retweet"`
	IsQuote        bool            `json:"is_quote"`
	IsReply        bool            `json:"is_reply"`
	UserInfo       json.RawMessage `json:"user_info"`
	Entities       json.RawMessage `json:"entities"`
	Media          json.RawMessage `json:"media"`
}

// FetchMetrics scrapes a tweet and returns its canonical record. The actor
// returns the surrounding conversation, so the target tweet is matched by
// the status ID extracted from the URL.
func (t *Twitter) FetchMetrics(ctx context.Context, postID, postURL string) (*models.CanonicalMetrics, error) {
	cleanURL, err := util.NormaliseTweetURL(postURL)
	if err != nil {
		return nil, err
	}
	tweetID, err := util.ExtractTweetID(cleanURL)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("post_id", postID).
		Str("tweet_id", tweetID).
		Str("actor_id", twitterMetricsActorID).
		Msg("Fetching Twitter metrics")

	items, err := t.jobs.RunActor(ctx, twitterMetricsActorID, map[string]any{
		"postURLs": []string{cleanURL},
	}, apify.ExtendedMaxAttempts, twitterDatasetLimit)
	if err != nil {
		return nil, fmt.Errorf("twitter metrics scrape failed: %w", err)
	}

	var target *twitterItem
	for _, rawItem := range items {
		var item twitterItem
		if err := json.Unmarshal(rawItem, &item); err != nil {
			continue
		}
		if item.TweetID == tweetID {
			target = &item
			break
		}
	}
	if target == nil {
		return nil, &MappingError{Platform: models.PlatformTwitter, Field: "tweet_id"}
	}

	return normaliseTwitter(postID, cleanURL, target), nil
}

// normaliseTwitter converts a tweet payload to the canonical shape. The
// engagement ratio counts favorites, replies, retweets and quotes over views.
func normaliseTwitter(postID, postURL string, item *twitterItem) *models.CanonicalMetrics {
	views, _ := strconv.ParseInt(item.Views, 10, 64)
	engageRate := engagementRatio(views, item.Favorites+item.Replies+item.Retweets+item.Quotes)

	viewsField := item.Views
	if viewsField == "" {
		viewsField = "0"
	}

	post := &twitterPost{
		TweetID:        item.TweetID,
		ScreenName:     item.ScreenName,
		Text:           item.Text,
		CreatedAt:      item.CreatedAt,
		Favorites:      item.Favorites,
		Retweets:       item.Retweets,
		Replies:        item.Replies,
		Quotes:         item.Quotes,
		Bookmarks:      item.Bookmarks,
		Views:          viewsField,
		Lang:           pickString(item.Lang, "en"),
		Source:         item.Source,
		ConversationID: item.ConversationID,
		IsRetweet:      item.IsRetweet,
		IsQuote:        item.IsQuote,
		IsReply:        item.IsReply,
		UserInfo:       item.UserInfo,
		Entities:       item.Entities,
		Media:          item.Media,
		EngageRate:     engageRate,
	}

	raw := newRawEnvelope(map[string]any{"basicTwitterPost": post})
	title := truncateText(item.Text, 100)

	return &models.CanonicalMetrics{
		PostID:         postID,
		Platform:       models.PlatformTwitter,
		ContentID:      item.TweetID,
		PostURL:        postURL,
		Title:          &title,
		LikesCount:     item.Favorites,
		CommentsCount:  item.Replies,
		ViewsCount:     views,
		EngagementRate: engageRate,
		PlatformData: &twitterPlatformData{
			Retweets:       item.Retweets,
			Quotes:         item.Quotes,
			Bookmarks:      item.Bookmarks,
			Lang:           post.Lang,
			Source:         item.Source,
			ConversationID: item.ConversationID,
			IsRetweet:      item.IsRetweet,
			IsQuote:        item.IsQuote,
			IsReply:        item.IsReply,
			UserInfo:       item.UserInfo,
			Entities:       item.Entities,
			Media:          item.Media,
		},
		QuotaUsed:    raw.QuotaUsed,
		APITimestamp: raw.Timestamp,
		APISuccess:   true,
		RawResponse:  raw,
	}
}

// FetchComments scrapes up to limit replies to a tweet. A run that succeeds
// without producing any items yields an empty slice, not an error.
func (t *Twitter) FetchComments(ctx context.Context, postURL string, limit int) ([]models.Comment, error) {
	cleanURL, err := util.NormaliseTweetURL(postURL)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("url", cleanURL).
		Int("limit", limit).
		Str("actor_id", twitterCommentsActorID).
		Msg("Fetching Twitter comments")

	items, err := t.jobs.RunActor(ctx, twitterCommentsActorID, map[string]any{
		"postURLs":          []string{cleanURL},
		"maxRequestRetries": 3,
		"maxConcurrency":    1,
	}, apify.ExtendedMaxAttempts, twitterDatasetLimit)
	if err != nil {
		if jobErr, ok := apify.IsJobError(err); ok && jobErr.Kind == apify.ErrEmptyResult {
			return []models.Comment{}, nil
		}
		return nil, fmt.Errorf("twitter comments scrape failed: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	comments := make([]models.Comment, 0, len(items))
	for _, rawItem := range items {
		var item twitterItem
		if err := json.Unmarshal(rawItem, &item); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable Twitter comment")
			continue
		}
		if strings.TrimSpace(item.Text) == "" {
			continue
		}

		comments = append(comments, models.Comment{
			ID:          item.TweetID,
			Text:        item.Text,
			Author:      item.ScreenName,
			Platform:    models.PlatformTwitter,
			LikeCount:   item.Favorites,
			ReplyCount:  item.Replies,
			PublishedAt: pickString(item.CreatedAt, now),
			ScrapedAt:   now,
		})
		if len(comments) == limit {
			break
		}
	}

	log.Info().
		Int("total", len(items)).
		Int("valid", len(comments)).
		Msg("Twitter comments fetched")

	return comments, nil
}

// truncateText shortens text to max runes, appending an ellipsis when
// anything was cut.
func truncateText(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
