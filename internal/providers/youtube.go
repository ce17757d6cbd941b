package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/itracker-hq/metrics-bot/internal/models"
	"github.com/itracker-hq/metrics-bot/internal/util"
)

// YouTubeConfig holds the settings for the YouTube Data API client.
type YouTubeConfig struct {
	BaseURL        string        // API base URL
	APIKey         string        // Data API key
	RequestTimeout time.Duration // Timeout for individual HTTP calls
	PageDelay      time.Duration // Pause between comment pages
}

// DefaultYouTubeConfig returns a YouTubeConfig with production defaults for
// the given API key.
func DefaultYouTubeConfig(apiKey string) *YouTubeConfig {
	return &YouTubeConfig{
		BaseURL:        "https://www.googleapis.com/youtube/v3",
		APIKey:         apiKey,
		RequestTimeout: 30 * time.Second,
		PageDelay:      time.Second,
	}
}

// YouTube fetches video metrics and comments through the Data API. Unlike
// the scraped platforms this is a synchronous REST API with no run to poll.
type YouTube struct {
	config     *YouTubeConfig
	httpClient *http.Client
}

// NewYouTube creates a YouTube Data API client. If config is nil, default
// configuration is used (which still requires an API key to be set).
func NewYouTube(config *YouTubeConfig) *YouTube {
	if config == nil {
		config = DefaultYouTubeConfig("")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}

	return &YouTube{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (y *YouTube) Platform() models.Platform {
	return models.PlatformYouTube
}

type youtubeVideoList struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string   `json:"title"`
			PublishedAt string   `json:"publishedAt"`
			Tags        []string `json:"tags"`
			CategoryID  string   `json:"categoryId"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type youtubeCommentThreads struct {
	Items []struct {
		Snippet struct {
			TopLevelComment struct {
				ID      string `json:"id"`
				Snippet struct {
					TextDisplay       string `json:"textDisplay"`
					AuthorDisplayName string `json:"authorDisplayName"`
					LikeCount         int64  `json:"likeCount"`
					PublishedAt       string `json:"publishedAt"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
			TotalReplyCount int64 `json:"totalReplyCount"`
		} `json:"snippet"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

type youtubePlatformData struct {
	Lang              string   `json:"lang"`
	Likes             int64    `json:"likes"`
	Title             string   `json:"title"`
	Views             int64    `json:"views"`
	Length            int64    `json:"length"`
	VideoID           string   `json:"videoId"`
	Category          string   `json:"category"`
	Comments          int64    `json:"comments"`
	Hashtags          []string `json:"hashtags"`
	IsShorts          bool     `json:"isShorts"`
	EngageRate        float64  `json:"engageRate"`
	UploadDate        int64    `json:"uploadDate"`
	IsStreaming       bool     `json:"isStreaming"`
	IsPaidPromote     bool     `json:"isPaidPromote"`
	CommentLikeRatio  float64  `json:"commentLikeRatio"`
	SelfCommentRatio  float64  `json:"selfCommentRatio"`
	CommentReplyRatio float64  `json:"commentReplyRatio"`
}

// FetchMetrics reads a video's statistics and returns its canonical record.
func (y *YouTube) FetchMetrics(ctx context.Context, postID, postURL string) (*models.CanonicalMetrics, error) {
	videoID, err := util.ExtractYouTubeVideoID(postURL)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("post_id", postID).
		Str("video_id", videoID).
		Msg("Fetching YouTube metrics")

	params := url.Values{}
	params.Set("part", "snippet,statistics,contentDetails")
	params.Set("id", videoID)
	params.Set("key", y.config.APIKey)

	var list youtubeVideoList
	if err := y.get(ctx, "/videos", params, &list); err != nil {
		return nil, fmt.Errorf("youtube video lookup failed: %w", err)
	}
	if len(list.Items) == 0 {
		return nil, &MappingError{Platform: models.PlatformYouTube, Field: "items"}
	}

	return normaliseYouTube(postID, postURL, &list), nil
}

// normaliseYouTube converts a video list response to the canonical shape.
// The display engagement rate is a percentage of views; the nested
// engageRate is the plain 0-1 ratio.
func normaliseYouTube(postID, postURL string, list *youtubeVideoList) *models.CanonicalMetrics {
	video := list.Items[0]

	views, _ := strconv.ParseInt(video.Statistics.ViewCount, 10, 64)
	likes, _ := strconv.ParseInt(video.Statistics.LikeCount, 10, 64)
	comments, _ := strconv.ParseInt(video.Statistics.CommentCount, 10, 64)

	var engagementRate, engageRateForPlatform float64
	if views > 0 {
		engagementRate = float64(likes+comments) / float64(views) * 100
		engageRateForPlatform = float64(likes+comments) / float64(views)
	}

	var commentLikeRatio float64
	if likes > 0 {
		commentLikeRatio = float64(comments) / float64(likes)
	}

	duration := parseISODuration(video.ContentDetails.Duration)

	var uploadDate int64
	if ts, err := time.Parse(time.RFC3339, video.Snippet.PublishedAt); err == nil {
		uploadDate = ts.UnixMilli()
	}

	raw := newRawEnvelope(map[string]any{
		"basicYoutubePost": &youtubePlatformData{
			Lang:             "spa",
			Likes:            likes,
			Title:            video.Snippet.Title,
			Views:            views,
			Length:           duration,
			VideoID:          video.ID,
			Category:         pickString(video.Snippet.CategoryID, "Entertainment"),
			Comments:         comments,
			Hashtags:         video.Snippet.Tags,
			IsShorts:         duration <= 60,
			EngageRate:       engageRateForPlatform,
			UploadDate:       uploadDate,
			CommentLikeRatio: commentLikeRatio,
		},
	})

	var title *string
	if video.Snippet.Title != "" {
		t := video.Snippet.Title
		title = &t
	}

	return &models.CanonicalMetrics{
		PostID:         postID,
		Platform:       models.PlatformYouTube,
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

// FetchComments reads up to limit top-level comments, following page tokens
// with a pause between pages to stay inside the API's rate limits.
func (y *YouTube) FetchComments(ctx context.Context, postURL string, limit int) ([]models.Comment, error) {
	videoID, err := util.ExtractYouTubeVideoID(postURL)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("video_id", videoID).
		Int("limit", limit).
		Msg("Fetching YouTube comments")

	now := time.Now().UTC().Format(time.RFC3339)
	comments := make([]models.Comment, 0, limit)
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("part", "snippet")
		params.Set("videoId", videoID)
		params.Set("maxResults", strconv.Itoa(min(100, limit-len(comments))))
		params.Set("order", "relevance")
		params.Set("key", y.config.APIKey)
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page youtubeCommentThreads
		if err := y.get(ctx, "/commentThreads", params, &page); err != nil {
			return nil, fmt.Errorf("youtube comments lookup failed: %w", err)
		}

		for _, item := range page.Items {
			top := item.Snippet.TopLevelComment
			comments = append(comments, models.Comment{
				ID:          top.ID,
				Text:        top.Snippet.TextDisplay,
				Author:      top.Snippet.AuthorDisplayName,
				Platform:    models.PlatformYouTube,
				LikeCount:   top.Snippet.LikeCount,
				ReplyCount:  item.Snippet.TotalReplyCount,
				PublishedAt: top.Snippet.PublishedAt,
				ScrapedAt:   now,
			})
		}

		pageToken = page.NextPageToken
		if pageToken == "" || len(comments) >= limit || len(page.Items) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(y.config.PageDelay):
		}
	}

	if len(comments) > limit {
		comments = comments[:limit]
	}

	log.Info().
		Int("comments", len(comments)).
		Str("video_id", videoID).
		Msg("YouTube comments fetched")

	return comments, nil
}

func (y *YouTube) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := y.config.BaseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

var isoDurationPattern = regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?`)

// parseISODuration converts an ISO 8601 duration like PT1H2M3S to seconds.
func parseISODuration(duration string) int64 {
	match := isoDurationPattern.FindStringSubmatch(duration)
	if match == nil {
		return 0
	}

	parse := func(s string) int64 {
		if s == "" {
			return 0
		}
		v, _ := strconv.ParseInt(s, 10, 64)
		return v
	}

	return parse(match[1])*3600 + parse(match[2])*60 + parse(match[3])
}
