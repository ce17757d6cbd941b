package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itracker-hq/metrics-bot/internal/models"
)

func newYouTubeClient(t *testing.T, handler http.Handler) *YouTube {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return NewYouTube(&YouTubeConfig{
		BaseURL:        ts.URL,
		APIKey:         "test-key",
		RequestTimeout: time.Second,
		PageDelay:      0,
	})
}

func videoListResponse(viewCount, likeCount, commentCount, duration string) map[string]any {
	return map[string]any{
		"items": []any{
			map[string]any{
				"id": "dQw4w9WgXcQ",
				"snippet": map[string]any{
					"title":       "Test Video",
					"publishedAt": "2026-01-15T10:00:00Z",
					"tags":        []string{"music"},
					"categoryId":  "10",
				},
				"statistics": map[string]any{
					"viewCount":    viewCount,
					"likeCount":    likeCount,
					"commentCount": commentCount,
				},
				"contentDetails": map[string]any{"duration": duration},
			},
		},
	}
}

func TestYouTubeFetchMetrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "snippet,statistics,contentDetails", r.URL.Query().Get("part"))
		assert.Equal(t, "dQw4w9WgXcQ", r.URL.Query().Get("id"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		_ = json.NewEncoder(w).Encode(videoListResponse("10000", "800", "200", "PT4M13S"))
	})

	client := newYouTubeClient(t, mux)
	got, err := client.FetchMetrics(context.Background(), "post-1", "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.NoError(t, err)

	assert.Equal(t, models.PlatformYouTube, got.Platform)
	assert.Equal(t, "post-1", got.ContentID)
	assert.Equal(t, int64(10000), got.ViewsCount)
	assert.Equal(t, int64(800), got.LikesCount)
	assert.Equal(t, int64(200), got.CommentsCount)
	assert.Equal(t, 10.0, got.EngagementRate)
	require.NotNil(t, got.Title)
	assert.Equal(t, "Test Video", *got.Title)
}

func TestYouTubeFetchMetricsNoItems(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
	})

	client := newYouTubeClient(t, mux)
	_, err := client.FetchMetrics(context.Background(), "post-1", "https://youtu.be/dQw4w9WgXcQ")
	require.Error(t, err)

	mapErr, ok := IsMappingError(err)
	require.True(t, ok)
	assert.Equal(t, models.PlatformYouTube, mapErr.Platform)
	assert.Equal(t, "items", mapErr.Field)
}

func TestNormaliseYouTube(t *testing.T) {
	t.Parallel()

	var list youtubeVideoList
	payload, err := json.Marshal(videoListResponse("10000", "800", "200", "PT45S"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &list))

	got := normaliseYouTube("post-1", "https://youtu.be/dQw4w9WgXcQ", &list)

	// Display rate is a percentage; the nested record carries the plain ratio.
	assert.Equal(t, 10.0, got.EngagementRate)

	raw, ok := got.PlatformData.(rawEnvelope)
	require.True(t, ok)
	data, ok := raw.Data.(map[string]any)
	require.True(t, ok)
	post, ok := data["basicYoutubePost"].(*youtubePlatformData)
	require.True(t, ok)

	assert.InDelta(t, 0.1, post.EngageRate, 0.000001)
	assert.Equal(t, int64(45), post.Length)
	assert.True(t, post.IsShorts)
	assert.Equal(t, "spa", post.Lang)
	assert.Equal(t, "10", post.Category)
}

func commentThread(id, text, author string) map[string]any {
	return map[string]any{
		"snippet": map[string]any{
			"topLevelComment": map[string]any{
				"id": id,
				"snippet": map[string]any{
					"textDisplay":       text,
					"authorDisplayName": author,
				},
			},
			"totalReplyCount": 0,
		},
	}
}

func TestYouTubeFetchCommentsPagination(t *testing.T) {
	pages := map[string]map[string]any{
		"": {
			"items":         []any{commentThread("c1", "first", "alice"), commentThread("c2", "second", "bob")},
			"nextPageToken": "page-2",
		},
		"page-2": {
			"items": []any{commentThread("c3", "third", "carol"), commentThread("c4", "fourth", "dave")},
		},
	}

	var requestedTokens []string
	mux := http.NewServeMux()
	mux.HandleFunc("/commentThreads", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("pageToken")
		requestedTokens = append(requestedTokens, token)
		_ = json.NewEncoder(w).Encode(pages[token])
	})

	client := newYouTubeClient(t, mux)
	comments, err := client.FetchComments(context.Background(), "https://youtu.be/dQw4w9WgXcQ", 3)
	require.NoError(t, err)

	// Two pages fetched, result truncated to the requested limit.
	assert.Equal(t, []string{"", "page-2"}, requestedTokens)
	require.Len(t, comments, 3)
	assert.Equal(t, "c1", comments[0].ID)
	assert.Equal(t, "c2", comments[1].ID)
	assert.Equal(t, "c3", comments[2].ID)
	assert.Equal(t, models.PlatformYouTube, comments[0].Platform)
}

func TestYouTubeFetchCommentsSinglePage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/commentThreads", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "relevance", r.URL.Query().Get("order"))
		assert.Equal(t, "50", r.URL.Query().Get("maxResults"))
		_ = json.NewEncoder(w).Encode(youtubeCommentThreads{})
	})

	client := newYouTubeClient(t, mux)
	comments, err := client.FetchComments(context.Background(), "https://youtu.be/dQw4w9WgXcQ", 50)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestParseISODuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		duration string
		want     int64
	}{
		{"PT1H2M3S", 3723},
		{"PT4M13S", 253},
		{"PT45S", 45},
		{"PT2M", 120},
		{"PT1H", 3600},
		{"", 0},
		{"invalid", 0},
	}

	for _, tt := range tests {
		t.Run(tt.duration, func(t *testing.T) {
			assert.Equal(t, tt.want, parseISODuration(tt.duration))
		})
	}
}
