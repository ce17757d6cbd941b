package models

import "time"

// Platform identifies a supported social network.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformTwitter   Platform = "twitter"
)

// NeverMeasuredAge is the sentinel age assigned to posts that have no
// successful metrics snapshot, so they always qualify for processing.
const NeverMeasuredAge = 999

// StalePost describes a tracked post whose metrics need refreshing.
// One instance exists per (post, platform) pair.
type StalePost struct {
	PostID          string    `json:"post_id"`
	Platform        Platform  `json:"platform"`
	PostURL         string    `json:"post_url"`
	LatestMetricsAt time.Time `json:"latest_metrics_at"`
	DaysSinceUpdate int       `json:"days_since_update"`
	InfluencerID    string    `json:"influencer_id"`
	CampaignID      string    `json:"campaign_id"`
	SourceShard     string    `json:"source_shard"`
}

// CanonicalMetrics is the platform-agnostic metrics record persisted for
// every refresh attempt. EngagementRate is stored as a 0-1 fraction; the
// store divides provider-native percentages by 100 on insert.
type CanonicalMetrics struct {
	PostID           string   `json:"post_id"`
	Platform         Platform `json:"platform"`
	ContentID        string   `json:"content_id"`
	PostURL          string   `json:"post_url"`
	Title            *string  `json:"title"`
	LikesCount       int64    `json:"likes_count"`
	CommentsCount    int64    `json:"comments_count"`
	ViewsCount       int64    `json:"views_count"`
	EngagementRate   float64  `json:"engagement_rate"`
	PlatformData     any      `json:"platform_data"`
	QuotaUsed        int      `json:"quota_used"`
	APITimestamp     int64    `json:"api_timestamp"`
	APISuccess       bool     `json:"api_success"`
	APIError         *string  `json:"api_error"`
	RawResponse      any      `json:"raw_response"`
	CommentsAnalysis any      `json:"comments_analysis"`
}

// Comment is a single post comment in the shape shared by every provider.
type Comment struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Author      string            `json:"author"`
	Platform    Platform          `json:"platform"`
	LikeCount   int64             `json:"likeCount"`
	ReplyCount  int64             `json:"replyCount"`
	PublishedAt string            `json:"publishedAt"`
	ScrapedAt   string            `json:"scrapedAt"`
	Sentiment   *CommentSentiment `json:"sentiment,omitempty"`
}

// CommentSentiment is the per-comment classifier verdict.
type CommentSentiment struct {
	Label      string  `json:"label"` // positive, negative or neutral
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// SentimentDistribution splits a topic's comments by sentiment. The three
// components each lie in [0,1] and sum to approximately 1.
type SentimentDistribution struct {
	Positive float64 `json:"positive"`
	Neutral  float64 `json:"neutral"`
	Negative float64 `json:"negative"`
}

// TopicRecord is one extracted discussion topic for a post. All prior
// topics for the post are replaced wholesale when new ones are stored.
type TopicRecord struct {
	PostID                string                `json:"post_id"`
	TopicLabel            string                `json:"topic_label"`
	TopicDescription      string                `json:"topic_description"`
	Keywords              []string              `json:"keywords"`
	RelevanceScore        float64               `json:"relevance_score"`
	ConfidenceScore       float64               `json:"confidence_score"`
	CommentCount          int                   `json:"comment_count"`
	SentimentDistribution SentimentDistribution `json:"sentiment_distribution"`
	ExtractedMethod       string                `json:"extracted_method"`
	LanguageDetected      string                `json:"language_detected"`
}

// BatchResult is the per-post outcome of one refresh attempt.
type BatchResult struct {
	PostID   string   `json:"post_id"`
	Platform Platform `json:"platform"`
	Success  bool     `json:"success"`
	Error    string   `json:"error,omitempty"`
}

// RunSummary aggregates the outcomes of one full refresh run.
type RunSummary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
	Results   []BatchResult `json:"results"`
}
