package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itracker-hq/metrics-bot/internal/apify"
	"github.com/itracker-hq/metrics-bot/internal/models"
	"github.com/itracker-hq/metrics-bot/internal/util"
)

const (
	instagramMetricsActorID  = "nH2AHrwxeTRJoN5hX"               // alternative Instagram post scraper
	instagramCommentsActorID = "apify~instagram-comment-scraper" // SbK00X0JYCPblD2wp
)

// Instagram fetches post metrics and comments through scraping actors.
type Instagram struct {
	jobs *apify.Client
}

// NewInstagram creates an Instagram client on top of the given job API client.
func NewInstagram(jobs *apify.Client) *Instagram {
	if jobs == nil {
		panic("providers: job client is required")
	}
	return &Instagram{jobs: jobs}
}

func (i *Instagram) Platform() models.Platform {
	return models.PlatformInstagram
}

// instagramItem is the post scraper's dataset item. Only the fields the
// canonical record and platform_data need are decoded; the rest rides along
// untyped in the raw message.
type instagramItem struct {
	ID             string            `json:"id"`
	URL            string            `json:"url"`
	Type           string            `json:"type"`
	Caption        string            `json:"caption"`
	LikesCount     int64             `json:"likesCount"`
	CommentsCount  int64             `json:"commentsCount"`
	VideoViewCount int64             `json:"videoViewCount"`
	VideoPlayCount int64             `json:"videoPlayCount"`
	VideoDuration  float64           `json:"videoDuration"`
	Hashtags       []string          `json:"hashtags"`
	IsSponsored    bool              `json:"isSponsored"`
	Timestamp      string            `json:"timestamp"`
	ShortCode      string            `json:"shortCode"`
	OwnerID        string            `json:"ownerId"`
	OwnerUsername  string            `json:"ownerUsername"`
	OwnerFullName  string            `json:"ownerFullName"`
	Mentions       []string          `json:"mentions"`
	TaggedUsers    []json.RawMessage `json:"taggedUsers"`
	FirstComment   string            `json:"firstComment"`
	LatestComments []json.RawMessage `json:"latestComments"`
	DimensionsW    int64             `json:"dimensionsWidth"`
	DimensionsH    int64             `json:"dimensionsHeight"`
	ProductType    string            `json:"productType"`
	MusicInfo      json.RawMessage   `json:"musicInfo"`
	VideoURL       string            `json:"videoUrl"`
	DisplayURL     string            `json:"displayUrl"`
}

type instagramPlatformData struct {
	Lang              string            `json:"lang"`
	Likes             int64             `json:"likes"`
	Title             string            `json:"title"`
	Views             int64             `json:"views"`
	Length            float64           `json:"length"`
	PostID            string            `json:"postId"`
	Category          string            `json:"category"`
	Comments          int64             `json:"comments"`
	Hashtags          []string          `json:"hashtags"`
	IsVideo           bool              `json:"isVideo"`
	EngageRate        float64           `json:"engageRate"`
	UploadDate        int64             `json:"uploadDate"`
	IsStreaming       bool              `json:"isStreaming"`
	IsPaidPromote     bool              `json:"isPaidPromote"`
	CommentLikeRatio  float64           `json:"commentLikeRatio"`
	SelfCommentRatio  float64           `json:"selfCommentRatio"`
	CommentReplyRatio float64           `json:"commentReplyRatio"`
	ShortCode         string            `json:"shortCode"`
	OwnerID           string            `json:"ownerId"`
	OwnerUsername     string            `json:"ownerUsername"`
	OwnerFullName     string            `json:"ownerFullName"`
	Mentions          []string          `json:"mentions"`
	TaggedUsers       []json.RawMessage `json:"taggedUsers"`
	FirstComment      string            `json:"firstComment"`
	LatestComments    []json.RawMessage `json:"latestComments"`
	VideoPlayCount    int64             `json:"videoPlayCount"`
	VideoViewCount    int64             `json:"videoViewCount"`
	DimensionsWidth   int64             `json:"dimensionsWidth"`
	DimensionsHeight  int64             `json:"dimensionsHeight"`
	ProductType       string            `json:"productType"`
	MusicInfo         json.RawMessage   `json:"musicInfo"`
	VideoURL          string            `json:"videoUrl"`
	ImageURL          string            `json:"imageUrl"`
}

// FetchMetrics scrapes a single post and returns its canonical record. A
// payload with no likes counter is rejected as a mapping error; the actor
// emits that shape when the post was not actually resolved.
func (i *Instagram) FetchMetrics(ctx context.Context, postID, postURL string) (*models.CanonicalMetrics, error) {
	cleanURL := util.CleanPostURL(postURL)

	log.Info().
		Str("post_id", postID).
		Str("url", cleanURL).
		Str("actor_id", instagramMetricsActorID).
		Msg("Fetching Instagram metrics")

	items, err := i.jobs.RunActor(ctx, instagramMetricsActorID, map[string]any{
		"username":          []string{cleanURL},
		"resultsLimit":      1,
		"maxRequestRetries": 3,
		"maxConcurrency":    1,
	}, apify.DefaultMaxAttempts, 1)
	if err != nil {
		return nil, fmt.Errorf("instagram metrics scrape failed: %w", err)
	}

	var item instagramItem
	if err := json.Unmarshal(items[0], &item); err != nil {
		return nil, fmt.Errorf("failed to decode instagram payload: %w", err)
	}
	if item.LikesCount == 0 {
		return nil, &MappingError{Platform: models.PlatformInstagram, Field: "likesCount"}
	}

	return normaliseInstagram(postID, postURL, &item), nil
}

// normaliseInstagram converts a post payload to the canonical shape.
//
// The display engagement rate is a percentage of views; views fall back to
// likes for image posts that carry no view counter. The nested engageRate
// keeps the historical extra division by 100 so stored rows stay comparable
// across snapshots.
func normaliseInstagram(postID, postURL string, item *instagramItem) *models.CanonicalMetrics {
	likes := item.LikesCount
	comments := item.CommentsCount
	views := pickInt64(item.VideoViewCount, item.VideoPlayCount, likes)

	var engagementRate, engageRateForPlatform float64
	if views > 0 {
		engagementRate = float64(likes+comments) / float64(views) * 100
		engageRateForPlatform = float64(likes+comments) / float64(views) / 100
	}

	var commentLikeRatio float64
	if likes > 0 {
		commentLikeRatio = float64(comments) / float64(likes)
	}

	var uploadDate int64
	if ts, err := time.Parse(time.RFC3339, item.Timestamp); err == nil {
		uploadDate = ts.UnixMilli()
	}

	raw := newRawEnvelope(map[string]any{
		"basicInstagramPost": &instagramPlatformData{
			Lang:             "spa",
			Likes:            likes,
			Title:            item.Caption,
			Views:            views,
			Length:           item.VideoDuration,
			PostID:           item.ID,
			Category:         "Social Media",
			Comments:         comments,
			Hashtags:         item.Hashtags,
			IsVideo:          item.Type == "Video",
			EngageRate:       engageRateForPlatform,
			UploadDate:       uploadDate,
			IsPaidPromote:    item.IsSponsored,
			CommentLikeRatio: commentLikeRatio,
			ShortCode:        item.ShortCode,
			OwnerID:          item.OwnerID,
			OwnerUsername:    item.OwnerUsername,
			OwnerFullName:    item.OwnerFullName,
			Mentions:         item.Mentions,
			TaggedUsers:      item.TaggedUsers,
			FirstComment:     item.FirstComment,
			LatestComments:   item.LatestComments,
			VideoPlayCount:   item.VideoPlayCount,
			VideoViewCount:   item.VideoViewCount,
			DimensionsWidth:  item.DimensionsW,
			DimensionsHeight: item.DimensionsH,
			ProductType:      item.ProductType,
			MusicInfo:        item.MusicInfo,
			VideoURL:         item.VideoURL,
			ImageURL:         item.DisplayURL,
		},
	})

	var title *string
	if item.Caption != "" {
		caption := item.Caption
		title = &caption
	}

	return &models.CanonicalMetrics{
		PostID:         postID,
		Platform:       models.PlatformInstagram,
		ContentID:      postID,
		PostURL:        postURL,
		Title:          title,
		LikesCount:     likes,
		CommentsCount:  comments,
		ViewsCount:     views,
		EngagementRate: engagementRate,
		PlatformData:   raw,
		QuotaUsed:      raw.QuotaUsed,
		APITimestamp:   raw.Timestamp,
		APISuccess:     true,
		RawResponse:    raw,
	}
}

// instagramComment is the comment scraper's dataset item.
type instagramComment struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	OwnerUsername string `json:"ownerUsername"`
	Timestamp     string `json:"timestamp"`
	LikesCount    int64  `json:"likesCount"`
	RepliesCount  int64  `json:"repliesCount"`
}

// FetchComments scrapes up to limit comments for a post. The comment scraper
// takes direct post URLs, unlike the metrics actor. A run that succeeds
// without producing any items yields an empty slice, not an error.
func (i *Instagram) FetchComments(ctx context.Context, postURL string, limit int) ([]models.Comment, error) {
	cleanURL := util.CleanPostURL(postURL)

	log.Info().
		Str("url", cleanURL).
		Int("limit", limit).
		Str("actor_id", instagramCommentsActorID).
		Msg("Fetching Instagram comments")

	items, err := i.jobs.RunActor(ctx, instagramCommentsActorID, map[string]any{
		"directUrls":   []string{cleanURL},
		"resultsLimit": limit,
	}, apify.DefaultMaxAttempts, limit)
	if err != nil {
		if jobErr, ok := apify.IsJobError(err); ok && jobErr.Kind == apify.ErrEmptyResult {
			return []models.Comment{}, nil
		}
		return nil, fmt.Errorf("instagram comments scrape failed: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	comments := make([]models.Comment, 0, len(items))
	for _, rawItem := range items {
		var item instagramComment
		if err := json.Unmarshal(rawItem, &item); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable Instagram comment")
			continue
		}
		if item.ID == "" || item.Text == "" || item.OwnerUsername == "" {
			continue
		}

		comments = append(comments, models.Comment{
			ID:          item.ID,
			Text:        item.Text,
			Author:      item.OwnerUsername,
			Platform:    models.PlatformInstagram,
			LikeCount:   item.LikesCount,
			ReplyCount:  item.RepliesCount,
			PublishedAt: pickString(item.Timestamp, now),
			ScrapedAt:   now,
		})
	}

	log.Info().
		Int("total", len(items)).
		Int("valid", len(comments)).
		Msg("Instagram comments fetched")

	return comments, nil
}
