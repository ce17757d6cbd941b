package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itracker-hq/metrics-bot/internal/analysis"
	"github.com/itracker-hq/metrics-bot/internal/models"
	"github.com/itracker-hq/metrics-bot/internal/providers"
)

type fakeSelector struct {
	stale      []models.StalePost
	unmeasured []models.StalePost
	staleErr   error
}

func (f *fakeSelector) SelectStalePosts(context.Context, int) ([]models.StalePost, error) {
	return f.stale, f.staleErr
}

func (f *fakeSelector) SelectNeverMeasured(context.Context) ([]models.StalePost, error) {
	return f.unmeasured, nil
}

type fakeStore struct {
	mu           sync.Mutex
	name         string
	inserted     []*models.CanonicalMetrics
	counters     []string
	topicsByPost map[string][]models.TopicRecord
	insertErr    error
	counterErr   error
}

func newFakeStore(name string) *fakeStore {
	return &fakeStore{name: name, topicsByPost: map[string][]models.TopicRecord{}}
}

func (f *fakeStore) Name() string { return f.name }

func (f *fakeStore) InsertMetrics(_ context.Context, metrics *models.CanonicalMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, metrics)
	return nil
}

func (f *fakeStore) UpdatePostCounters(_ context.Context, postID string, _ *models.CanonicalMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counterErr != nil {
		return f.counterErr
	}
	f.counters = append(f.counters, postID)
	return nil
}

func (f *fakeStore) ReplaceTopics(_ context.Context, postID string, topics []models.TopicRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topicsByPost[postID] = topics
	return nil
}

func (f *fakeStore) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

// fakeClient is a providers.Client with scripted outcomes per post ID.
type fakeClient struct {
	platform   models.Platform
	fetchErr   map[string]error
	comments   []models.Comment
	commentErr error
	panicOn    string
}

func (f *fakeClient) Platform() models.Platform { return f.platform }

func (f *fakeClient) FetchMetrics(_ context.Context, postID, postURL string) (*models.CanonicalMetrics, error) {
	if postID == f.panicOn {
		panic("scripted provider panic")
	}
	if err, ok := f.fetchErr[postID]; ok {
		return nil, err
	}
	return &models.CanonicalMetrics{
		PostID:     postID,
		Platform:   f.platform,
		PostURL:    postURL,
		APISuccess: true,
	}, nil
}

func (f *fakeClient) FetchComments(context.Context, string, int) ([]models.Comment, error) {
	return f.comments, f.commentErr
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	calls  int
	topics []models.TopicRecord
}

func (f *fakeAnalyzer) AnalyzeComments(_ context.Context, comments []models.Comment) *analysis.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &analysis.Result{
		CommentsAnalysis: &analysis.CommentsAnalysis{
			Comments: comments,
			Metadata: analysis.Metadata{TotalComments: len(comments)},
		},
		Topics: f.topics,
	}
}

type fakeNotifier struct {
	mu        sync.Mutex
	started   int
	completed int
	alerts    []string
}

func (f *fakeNotifier) SendRunStarted(context.Context, int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeNotifier) SendRunCompleted(context.Context, int, int, int, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
}

func (f *fakeNotifier) SendErrorAlert(_ context.Context, message, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, message)
}

func testBotConfig() *Config {
	config := DefaultConfig()
	config.BatchDelay = time.Millisecond
	return config
}

func tiktokPosts(n int) []models.StalePost {
	posts := make([]models.StalePost, n)
	for i := range posts {
		posts[i] = models.StalePost{
			PostID:      fmt.Sprintf("p%d", i+1),
			Platform:    models.PlatformTikTok,
			PostURL:     fmt.Sprintf("https://tiktok.com/v/%d", i+1),
			SourceShard: "primary",
		}
	}
	return posts
}

func newTestOrchestrator(selector Selector, client providers.Client, store MetricsStore, analyzer Analyzer, notifier Notifier) *Orchestrator {
	registry := providers.NewRegistry(client)
	return NewOrchestrator(selector, registry, []MetricsStore{store}, analyzer, notifier, testBotConfig())
}

func TestRunProcessesAllPosts(t *testing.T) {
	selector := &fakeSelector{stale: tiktokPosts(7)}
	client := &fakeClient{platform: models.PlatformTikTok}
	store := newFakeStore("primary")
	analyzer := &fakeAnalyzer{}
	notifier := &fakeNotifier{}

	orchestrator := newTestOrchestrator(selector, client, store, analyzer, notifier)
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, summary.Total)
	assert.Equal(t, 7, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 7, store.insertedCount())
	assert.Len(t, store.counters, 7)
	assert.Equal(t, 1, notifier.started)
	assert.Equal(t, 1, notifier.completed)
}

func TestRunPausesBetweenBatchesOnly(t *testing.T) {
	tests := []struct {
		name   string
		posts  int
		pauses int
	}{
		{name: "seven posts pause twice", posts: 7, pauses: 2},
		{name: "full final batch has no trailing pause", posts: 6, pauses: 1},
		{name: "single batch never pauses", posts: 3, pauses: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			selector := &fakeSelector{stale: tiktokPosts(tc.posts)}
			client := &fakeClient{platform: models.PlatformTikTok}
			store := newFakeStore("primary")

			orchestrator := newTestOrchestrator(selector, client, store, &fakeAnalyzer{}, &fakeNotifier{})

			var mu sync.Mutex
			var pauses []time.Duration
			orchestrator.pause = func(_ context.Context, d time.Duration) error {
				mu.Lock()
				defer mu.Unlock()
				pauses = append(pauses, d)
				return nil
			}

			summary, err := orchestrator.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.posts, summary.Succeeded)

			require.Len(t, pauses, tc.pauses)
			for _, d := range pauses {
				assert.Equal(t, orchestrator.config.BatchDelay, d)
			}
		})
	}
}

func TestRunCancelledPauseFailsRemainingPosts(t *testing.T) {
	selector := &fakeSelector{stale: tiktokPosts(5)}
	client := &fakeClient{platform: models.PlatformTikTok}
	store := newFakeStore("primary")

	orchestrator := newTestOrchestrator(selector, client, store, &fakeAnalyzer{}, &fakeNotifier{})
	orchestrator.pause = func(context.Context, time.Duration) error {
		return context.Canceled
	}

	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.Contains(t, summary.Results[3].Error, "context canceled")
	assert.Contains(t, summary.Results[4].Error, "context canceled")
}

func TestRunEmptySelection(t *testing.T) {
	selector := &fakeSelector{}
	client := &fakeClient{platform: models.PlatformTikTok}
	store := newFakeStore("primary")
	notifier := &fakeNotifier{}

	orchestrator := newTestOrchestrator(selector, client, store, &fakeAnalyzer{}, notifier)
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Total)
	assert.Empty(t, summary.Results)
	assert.Zero(t, notifier.started, "no notifications for an empty run")
	assert.Zero(t, notifier.completed)
}

func TestRunAbortsOnSelectionFailure(t *testing.T) {
	selector := &fakeSelector{staleErr: errors.New("shard exploded")}
	client := &fakeClient{platform: models.PlatformTikTok}
	notifier := &fakeNotifier{}

	orchestrator := newTestOrchestrator(selector, client, newFakeStore("primary"), &fakeAnalyzer{}, notifier)
	_, err := orchestrator.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select stale posts")
	require.Len(t, notifier.alerts, 1)
	assert.Contains(t, notifier.alerts[0], "shard exploded")
}

func TestRunFailingPostDoesNotBlockOthers(t *testing.T) {
	selector := &fakeSelector{stale: tiktokPosts(3)}
	client := &fakeClient{
		platform: models.PlatformTikTok,
		fetchErr: map[string]error{"p2": errors.New("actor timed out")},
	}
	store := newFakeStore("primary")

	orchestrator := newTestOrchestrator(selector, client, store, &fakeAnalyzer{}, &fakeNotifier{})
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, store.insertedCount())

	byID := map[string]models.BatchResult{}
	for _, result := range summary.Results {
		byID[result.PostID] = result
	}
	assert.True(t, byID["p1"].Success)
	assert.False(t, byID["p2"].Success)
	assert.Contains(t, byID["p2"].Error, "actor timed out")
	assert.True(t, byID["p3"].Success)
}

func TestRunRecoversFromProviderPanic(t *testing.T) {
	selector := &fakeSelector{stale: tiktokPosts(2)}
	client := &fakeClient{platform: models.PlatformTikTok, panicOn: "p1"}
	store := newFakeStore("primary")

	orchestrator := newTestOrchestrator(selector, client, store, &fakeAnalyzer{}, &fakeNotifier{})
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	byID := map[string]models.BatchResult{}
	for _, result := range summary.Results {
		byID[result.PostID] = result
	}
	assert.Contains(t, byID["p1"].Error, "panic")
}

func TestRunStoresTopicsAndAnalysis(t *testing.T) {
	selector := &fakeSelector{stale: tiktokPosts(1)}
	client := &fakeClient{
		platform: models.PlatformTikTok,
		comments: []models.Comment{{ID: "c1", Text: "buen video", Author: "alice"}},
	}
	store := newFakeStore("primary")
	analyzer := &fakeAnalyzer{topics: []models.TopicRecord{{TopicLabel: "Reacciones"}}}

	orchestrator := newTestOrchestrator(selector, client, store, analyzer, &fakeNotifier{})
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	require.Equal(t, 1, store.insertedCount())
	require.NotNil(t, store.inserted[0].CommentsAnalysis, "analysis must be attached before insert")
	require.Len(t, store.topicsByPost["p1"], 1)
	assert.Equal(t, "Reacciones", store.topicsByPost["p1"][0].TopicLabel)
	assert.Equal(t, 1, analyzer.calls)
}

func TestRunSkipsAnalysisWithoutComments(t *testing.T) {
	selector := &fakeSelector{stale: tiktokPosts(1)}
	client := &fakeClient{platform: models.PlatformTikTok}
	store := newFakeStore("primary")
	analyzer := &fakeAnalyzer{topics: []models.TopicRecord{{TopicLabel: "ignored"}}}

	orchestrator := newTestOrchestrator(selector, client, store, analyzer, &fakeNotifier{})
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, analyzer.calls)
	assert.Empty(t, store.topicsByPost)
}

func TestRunCommentsFetchFailureIsNonFatal(t *testing.T) {
	selector := &fakeSelector{stale: tiktokPosts(1)}
	client := &fakeClient{platform: models.PlatformTikTok, commentErr: errors.New("comments actor down")}
	store := newFakeStore("primary")

	orchestrator := newTestOrchestrator(selector, client, store, &fakeAnalyzer{}, &fakeNotifier{})
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, store.insertedCount())
}

func TestRunCounterUpdateFailureIsNonFatal(t *testing.T) {
	selector := &fakeSelector{stale: tiktokPosts(1)}
	client := &fakeClient{platform: models.PlatformTikTok}
	store := newFakeStore("primary")
	store.counterErr = errors.New("row locked")

	orchestrator := newTestOrchestrator(selector, client, store, &fakeAnalyzer{}, &fakeNotifier{})
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestRunInsertFailureFailsThePost(t *testing.T) {
	selector := &fakeSelector{stale: tiktokPosts(1)}
	client := &fakeClient{platform: models.PlatformTikTok}
	store := newFakeStore("primary")
	store.insertErr = errors.New("disk full")

	orchestrator := newTestOrchestrator(selector, client, store, &fakeAnalyzer{}, &fakeNotifier{})
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Results[0].Error, "disk full")
}

func TestRunUnknownPlatformFailsThePost(t *testing.T) {
	selector := &fakeSelector{stale: []models.StalePost{{
		PostID:      "p1",
		Platform:    models.PlatformYouTube,
		SourceShard: "primary",
	}}}
	client := &fakeClient{platform: models.PlatformTikTok}

	orchestrator := newTestOrchestrator(selector, client, newFakeStore("primary"), &fakeAnalyzer{}, &fakeNotifier{})
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Results[0].Error, "unsupported platform")
}

func TestRunUnknownShardFailsThePost(t *testing.T) {
	selector := &fakeSelector{stale: []models.StalePost{{
		PostID:      "p1",
		Platform:    models.PlatformTikTok,
		SourceShard: "missing",
	}}}
	client := &fakeClient{platform: models.PlatformTikTok}

	orchestrator := newTestOrchestrator(selector, client, newFakeStore("primary"), &fakeAnalyzer{}, &fakeNotifier{})
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Results[0].Error, "no store for shard")
}

func TestRunCombinesStaleAndNeverMeasured(t *testing.T) {
	selector := &fakeSelector{
		stale: tiktokPosts(1),
		unmeasured: []models.StalePost{{
			PostID:      "new-1",
			Platform:    models.PlatformTikTok,
			PostURL:     "https://tiktok.com/v/new",
			SourceShard: "primary",
		}},
	}
	client := &fakeClient{platform: models.PlatformTikTok}
	store := newFakeStore("primary")

	orchestrator := newTestOrchestrator(selector, client, store, &fakeAnalyzer{}, &fakeNotifier{})
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, store.insertedCount())
}

func TestRunRoutesPostsToTheirShard(t *testing.T) {
	primary := newFakeStore("primary")
	secondary := newFakeStore("secondary")
	selector := &fakeSelector{stale: []models.StalePost{
		{PostID: "p1", Platform: models.PlatformTikTok, SourceShard: "primary"},
		{PostID: "p2", Platform: models.PlatformTikTok, SourceShard: "secondary"},
	}}
	client := &fakeClient{platform: models.PlatformTikTok}

	registry := providers.NewRegistry(client)
	orchestrator := NewOrchestrator(selector, registry, []MetricsStore{primary, secondary}, &fakeAnalyzer{}, &fakeNotifier{}, testBotConfig())

	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, primary.insertedCount())
	assert.Equal(t, 1, secondary.insertedCount())
}
