package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/itracker-hq/metrics-bot/internal/models"
)

// TrackedPost is a row from influencer_posts that has not been soft-deleted.
type TrackedPost struct {
	ID           string
	PostURL      string
	Platform     models.Platform
	InfluencerID string
	CampaignID   string
}

// MetricStamp is the (post, platform, time) triple of one successful metrics
// snapshot, used by staleness selection.
type MetricStamp struct {
	PostID    string
	Platform  models.Platform
	CreatedAt time.Time
}

// ActivePosts returns all tracked posts that have not been soft-deleted.
func (db *DB) ActivePosts(ctx context.Context) ([]TrackedPost, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT id, post_url, platform, COALESCE(influencer_id, ''), COALESCE(campaign_id, '')
		FROM influencer_posts
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked posts: %w", err)
	}
	defer rows.Close()

	var posts []TrackedPost
	for rows.Next() {
		var post TrackedPost
		if err := rows.Scan(&post.ID, &post.PostURL, &post.Platform, &post.InfluencerID, &post.CampaignID); err != nil {
			return nil, fmt.Errorf("failed to scan tracked post: %w", err)
		}
		posts = append(posts, post)
	}

	return posts, rows.Err()
}

// SuccessfulMetricStamps returns the (post, platform, created_at) of every
// successful snapshot, newest first.
func (db *DB) SuccessfulMetricStamps(ctx context.Context) ([]MetricStamp, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT post_id, platform, created_at
		FROM post_metrics
		WHERE api_success = TRUE
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric stamps: %w", err)
	}
	defer rows.Close()

	var stamps []MetricStamp
	for rows.Next() {
		var stamp MetricStamp
		if err := rows.Scan(&stamp.PostID, &stamp.Platform, &stamp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric stamp: %w", err)
		}
		stamps = append(stamps, stamp)
	}

	return stamps, rows.Err()
}

// InsertMetrics persists one metrics snapshot. Engagement rates above 1 are
// provider-native percentages and get divided by 100 so the stored value is
// always a 0-1 fraction.
func (db *DB) InsertMetrics(ctx context.Context, metrics *models.CanonicalMetrics) error {
	engagementRate := metrics.EngagementRate
	if engagementRate > 1 {
		engagementRate = engagementRate / 100
	}

	platformData, err := marshalJSONB(metrics.PlatformData)
	if err != nil {
		return fmt.Errorf("failed to marshal platform data: %w", err)
	}
	rawResponse, err := marshalJSONB(metrics.RawResponse)
	if err != nil {
		return fmt.Errorf("failed to marshal raw response: %w", err)
	}
	commentsAnalysis, err := marshalJSONB(metrics.CommentsAnalysis)
	if err != nil {
		return fmt.Errorf("failed to marshal comments analysis: %w", err)
	}

	_, err = db.client.ExecContext(ctx, `
		INSERT INTO post_metrics (
			id, post_id, platform, content_id, post_url, title,
			likes_count, comments_count, views_count, engagement_rate,
			platform_data, quota_used, api_timestamp, api_success, api_error,
			raw_response, comments_analysis
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		uuid.New().String(), metrics.PostID, metrics.Platform, metrics.ContentID,
		metrics.PostURL, metrics.Title,
		metrics.LikesCount, metrics.CommentsCount, metrics.ViewsCount, engagementRate,
		platformData, metrics.QuotaUsed, metrics.APITimestamp, metrics.APISuccess,
		metrics.APIError, rawResponse, commentsAnalysis,
	)
	if err != nil {
		return fmt.Errorf("failed to insert metrics for post %s: %w", metrics.PostID, err)
	}

	log.Info().
		Str("post_id", metrics.PostID).
		Str("platform", string(metrics.Platform)).
		Str("shard", db.config.Name).
		Msg("Metrics snapshot inserted")

	return nil
}

// UpdatePostCounters refreshes the denormalised counters on the tracked
// post row. The engagement rate gets the same percentage correction as the
// snapshot insert so both tables carry the 0-1 fraction.
func (db *DB) UpdatePostCounters(ctx context.Context, postID string, metrics *models.CanonicalMetrics) error {
	engagementRate := metrics.EngagementRate
	if engagementRate > 1 {
		engagementRate = engagementRate / 100
	}

	_, err := db.client.ExecContext(ctx, `
		UPDATE influencer_posts
		SET likes_count = $1, comments_count = $2, views_count = $3,
			engagement_rate = $4, updated_at = NOW()
		WHERE id = $5
	`, metrics.LikesCount, metrics.CommentsCount, metrics.ViewsCount, engagementRate, postID)
	if err != nil {
		return fmt.Errorf("failed to update counters for post %s: %w", postID, err)
	}

	return nil
}

// ReplaceTopics swaps all stored topics for a post with the given set, in
// one transaction. An empty set removes any stored topics.
func (db *DB) ReplaceTopics(ctx context.Context, postID string, topics []models.TopicRecord) error {
	tx, err := db.client.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM post_topics WHERE post_id = $1`, postID); err != nil {
		return fmt.Errorf("failed to delete topics for post %s: %w", postID, err)
	}

	for _, topic := range topics {
		distribution, err := json.Marshal(topic.SentimentDistribution)
		if err != nil {
			return fmt.Errorf("failed to marshal sentiment distribution: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO post_topics (
				id, post_id, topic_label, topic_description, keywords,
				relevance_score, confidence_score, comment_count,
				sentiment_distribution, extracted_method, language_detected
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			uuid.New().String(), postID, topic.TopicLabel, topic.TopicDescription,
			pq.Array(topic.Keywords), topic.RelevanceScore, topic.ConfidenceScore,
			topic.CommentCount, distribution, topic.ExtractedMethod, topic.LanguageDetected,
		)
		if err != nil {
			return fmt.Errorf("failed to insert topic for post %s: %w", postID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit topics for post %s: %w", postID, err)
	}

	log.Info().
		Str("post_id", postID).
		Int("topics", len(topics)).
		Str("shard", db.config.Name).
		Msg("Post topics replaced")

	return nil
}

// marshalJSONB converts a value to a JSONB parameter, passing NULL through
// for nil values.
func marshalJSONB(value any) (any, error) {
	if value == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
