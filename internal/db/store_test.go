package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itracker-hq/metrics-bot/internal/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	client, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewWithClient(client, "primary"), mock
}

func TestActivePosts(t *testing.T) {
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"id", "post_url", "platform", "influencer_id", "campaign_id"}).
		AddRow("p1", "https://tiktok.com/v/1", "tiktok", "inf-1", "camp-1").
		AddRow("p2", "https://instagram.com/p/2", "instagram", "", "")

	mock.ExpectQuery("SELECT id, post_url, platform").WillReturnRows(rows)

	posts, err := db.ActivePosts(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 2)

	assert.Equal(t, "p1", posts[0].ID)
	assert.Equal(t, models.PlatformTikTok, posts[0].Platform)
	assert.Equal(t, "inf-1", posts[0].InfluencerID)
	assert.Equal(t, "p2", posts[1].ID)
	assert.Empty(t, posts[1].CampaignID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuccessfulMetricStamps(t *testing.T) {
	db, mock := newMockDB(t)

	createdAt := time.Date(2026, 1, 18, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"post_id", "platform", "created_at"}).
		AddRow("p1", "youtube", createdAt)

	mock.ExpectQuery("SELECT post_id, platform, created_at").WillReturnRows(rows)

	stamps, err := db.SuccessfulMetricStamps(context.Background())
	require.NoError(t, err)
	require.Len(t, stamps, 1)

	assert.Equal(t, "p1", stamps[0].PostID)
	assert.Equal(t, models.PlatformYouTube, stamps[0].Platform)
	assert.Equal(t, createdAt, stamps[0].CreatedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMetrics(t *testing.T) {
	tests := []struct {
		name       string
		rate       float64
		storedRate float64
	}{
		{
			name:       "percentage rate is divided by 100",
			rate:       25.0,
			storedRate: 0.25,
		},
		{
			name:       "fraction rate is stored as-is",
			rate:       0.16,
			storedRate: 0.16,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)

			mock.ExpectExec("INSERT INTO post_metrics").
				WithArgs(
					sqlmock.AnyArg(), "p1", "tiktok", "content-1", "https://tiktok.com/v/1", nil,
					int64(100), int64(50), int64(1000), tt.storedRate,
					sqlmock.AnyArg(), 1, int64(1700000000000), true,
					nil, sqlmock.AnyArg(), sqlmock.AnyArg(),
				).
				WillReturnResult(sqlmock.NewResult(0, 1))

			metrics := &models.CanonicalMetrics{
				PostID:         "p1",
				Platform:       models.PlatformTikTok,
				ContentID:      "content-1",
				PostURL:        "https://tiktok.com/v/1",
				LikesCount:     100,
				CommentsCount:  50,
				ViewsCount:     1000,
				EngagementRate: tt.rate,
				PlatformData:   map[string]any{"engage_rate": tt.rate},
				QuotaUsed:      1,
				APITimestamp:   1700000000000,
				APISuccess:     true,
				RawResponse:    map[string]any{"success": true},
			}

			require.NoError(t, db.InsertMetrics(context.Background(), metrics))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestInsertMetricsNilDocumentsBecomeNull(t *testing.T) {
	db, mock := newMockDB(t)

	// platform_data, raw_response and comments_analysis are all unset and
	// must reach the driver as NULL, not the string "null".
	mock.ExpectExec("INSERT INTO post_metrics").
		WithArgs(
			sqlmock.AnyArg(), "p1", "twitter", "t-1", "u", nil,
			int64(0), int64(0), int64(0), 0.0,
			nil, 0, int64(0), false,
			nil, nil, nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	metrics := &models.CanonicalMetrics{
		PostID:    "p1",
		Platform:  models.PlatformTwitter,
		ContentID: "t-1",
		PostURL:   "u",
	}

	require.NoError(t, db.InsertMetrics(context.Background(), metrics))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePostCounters(t *testing.T) {
	tests := []struct {
		name       string
		rate       float64
		storedRate float64
	}{
		{name: "fraction stored as-is", rate: 0.16, storedRate: 0.16},
		{name: "percentage divided by 100", rate: 4.25, storedRate: 0.0425},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)

			mock.ExpectExec("UPDATE influencer_posts").
				WithArgs(int64(100), int64(50), int64(1000), tc.storedRate, "p1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			metrics := &models.CanonicalMetrics{
				LikesCount:     100,
				CommentsCount:  50,
				ViewsCount:     1000,
				EngagementRate: tc.rate,
			}

			require.NoError(t, db.UpdatePostCounters(context.Background(), "p1", metrics))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReplaceTopics(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM post_topics").
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO post_topics").
		WithArgs(
			sqlmock.AnyArg(), "p1", "Reacciones", "Desc", sqlmock.AnyArg(),
			0.9, 0.8, 12, sqlmock.AnyArg(), "openai-gpt", "es",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	topics := []models.TopicRecord{{
		TopicLabel:       "Reacciones",
		TopicDescription: "Desc",
		Keywords:         []string{"Comentarios positivos"},
		RelevanceScore:   0.9,
		ConfidenceScore:  0.8,
		CommentCount:     12,
		SentimentDistribution: models.SentimentDistribution{
			Positive: 0.6, Neutral: 0.3, Negative: 0.1,
		},
		ExtractedMethod:  "openai-gpt",
		LanguageDetected: "es",
	}}

	require.NoError(t, db.ReplaceTopics(context.Background(), "p1", topics))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTopicsRollsBackOnFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM post_topics").
		WithArgs("p1").
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	err := db.ReplaceTopics(context.Background(), "p1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete topics")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTopicsEmptySetOnlyDeletes(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM post_topics").
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, db.ReplaceTopics(context.Background(), "p1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
