// Package bot is the refresh orchestrator: it selects the posts that need
// new metrics, fans the work out to the platform clients in small batches
// and persists the results.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/itracker-hq/metrics-bot/internal/analysis"
	"github.com/itracker-hq/metrics-bot/internal/models"
	"github.com/itracker-hq/metrics-bot/internal/observability"
	"github.com/itracker-hq/metrics-bot/internal/providers"
)

// MetricsStore is the shard write surface the orchestrator needs.
type MetricsStore interface {
	Name() string
	InsertMetrics(ctx context.Context, metrics *models.CanonicalMetrics) error
	UpdatePostCounters(ctx context.Context, postID string, metrics *models.CanonicalMetrics) error
	ReplaceTopics(ctx context.Context, postID string, topics []models.TopicRecord) error
}

// Selector finds the posts due for a refresh.
type Selector interface {
	SelectStalePosts(ctx context.Context, daysThreshold int) ([]models.StalePost, error)
	SelectNeverMeasured(ctx context.Context) ([]models.StalePost, error)
}

// Analyzer runs the comments analysis pass.
type Analyzer interface {
	AnalyzeComments(ctx context.Context, comments []models.Comment) *analysis.Result
}

// Notifier reports run lifecycle events.
type Notifier interface {
	SendRunStarted(ctx context.Context, totalPosts, stalePosts, unmeasuredPosts int)
	SendRunCompleted(ctx context.Context, total, succeeded, failed int, elapsed time.Duration)
	SendErrorAlert(ctx context.Context, errorMessage, errContext string)
}

// Config holds the orchestrator's batching settings.
type Config struct {
	BatchSize     int           // Posts refreshed concurrently per batch
	BatchDelay    time.Duration // Pause between batches
	CommentsLimit int           // Comments fetched per post for analysis
	DaysThreshold int           // Snapshot age that makes a post stale
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:     3,
		BatchDelay:    3 * time.Second,
		CommentsLimit: 50,
		DaysThreshold: 2,
	}
}

// Orchestrator runs full refresh passes over every shard.
type Orchestrator struct {
	config   *Config
	selector Selector
	registry *providers.Registry
	stores   map[string]MetricsStore
	analyzer Analyzer
	notifier Notifier
	pause    func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires a refresh orchestrator. If config is nil, default
// configuration is used. Stores are keyed by shard name so each post writes
// back to the shard it was selected from.
func NewOrchestrator(selector Selector, registry *providers.Registry, stores []MetricsStore, analyzer Analyzer, notifier Notifier, config *Config) *Orchestrator {
	if selector == nil {
		panic("bot: selector is required")
	}
	if registry == nil {
		panic("bot: provider registry is required")
	}
	if len(stores) == 0 {
		panic("bot: at least one store is required")
	}
	if analyzer == nil {
		panic("bot: analyzer is required")
	}
	if notifier == nil {
		panic("bot: notifier is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 3
	}

	byName := make(map[string]MetricsStore, len(stores))
	for _, store := range stores {
		byName[store.Name()] = store
	}

	return &Orchestrator{
		config:   config,
		selector: selector,
		registry: registry,
		stores:   byName,
		analyzer: analyzer,
		notifier: notifier,
		pause:    sleepContext,
	}
}

// sleepContext waits for the given duration unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run executes one full refresh pass: select stale and never-measured posts,
// process them in batches and report the outcome. Selection failures abort
// the run; per-post failures only mark that post's result.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunSummary, error) {
	start := time.Now()
	log.Info().Msg("Starting metrics refresh run")

	stale, err := o.selector.SelectStalePosts(ctx, o.config.DaysThreshold)
	if err != nil {
		return o.abortRun(ctx, fmt.Errorf("failed to select stale posts: %w", err))
	}
	unmeasured, err := o.selector.SelectNeverMeasured(ctx)
	if err != nil {
		return o.abortRun(ctx, fmt.Errorf("failed to select never-measured posts: %w", err))
	}

	// A post can appear in both sets when an earlier snapshot exists on one
	// shard only; both entries are processed and each produces a snapshot.
	posts := append(append([]models.StalePost{}, stale...), unmeasured...)

	if len(posts) == 0 {
		log.Info().Msg("No posts need a refresh")
		return &models.RunSummary{Results: []models.BatchResult{}}, nil
	}

	log.Info().
		Int("total", len(posts)).
		Int("stale", len(stale)).
		Int("never_measured", len(unmeasured)).
		Msg("Posts selected for refresh")

	o.notifier.SendRunStarted(ctx, len(posts), len(stale), len(unmeasured))

	results := o.processBatches(ctx, posts)

	summary := &models.RunSummary{
		Total:   len(results),
		Elapsed: time.Since(start),
		Results: results,
	}
	for _, result := range results {
		if result.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	log.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("elapsed", summary.Elapsed).
		Msg("Metrics refresh run completed")

	o.notifier.SendRunCompleted(ctx, summary.Total, summary.Succeeded, summary.Failed, summary.Elapsed)

	return summary, nil
}

func (o *Orchestrator) abortRun(ctx context.Context, err error) (*models.RunSummary, error) {
	log.Error().Err(err).Msg("Refresh run aborted")
	sentry.CaptureException(err)
	o.notifier.SendErrorAlert(ctx, err.Error(), "Error de ejecución")
	return nil, err
}

// processBatches refreshes posts in fixed-size batches, every post in a
// batch concurrently, with a pause between batches but not after the last.
func (o *Orchestrator) processBatches(ctx context.Context, posts []models.StalePost) []models.BatchResult {
	results := make([]models.BatchResult, len(posts))
	batchSize := o.config.BatchSize
	totalBatches := (len(posts) + batchSize - 1) / batchSize

	for offset := 0; offset < len(posts); offset += batchSize {
		end := min(offset+batchSize, len(posts))

		log.Info().
			Int("batch", offset/batchSize+1).
			Int("total_batches", totalBatches).
			Msg("Processing batch")

		done := make(chan struct{})
		for i := offset; i < end; i++ {
			go func(i int) {
				defer func() { done <- struct{}{} }()
				results[i] = o.processSinglePost(ctx, posts[i])
			}(i)
		}
		for i := offset; i < end; i++ {
			<-done
		}

		if end < len(posts) {
			if err := o.pause(ctx, o.config.BatchDelay); err != nil {
				for i := end; i < len(posts); i++ {
					results[i] = models.BatchResult{
						PostID:   posts[i].PostID,
						Platform: posts[i].Platform,
						Error:    err.Error(),
					}
				}
				return results
			}
		}
	}

	return results
}

// processSinglePost refreshes one post: fetch metrics, attach comments
// analysis, persist the snapshot, update the tracked post's counters and
// replace its topics. A panic in a provider client is contained to this
// post's result.
func (o *Orchestrator) processSinglePost(ctx context.Context, post models.StalePost) (result models.BatchResult) {
	start := time.Now()
	result = models.BatchResult{PostID: post.PostID, Platform: post.Platform}

	ctx, span := observability.StartRefreshSpan(ctx, observability.RefreshSpanInfo{
		PostID:   post.PostID,
		Platform: string(post.Platform),
		PostURL:  post.PostURL,
		Shard:    post.SourceShard,
	})

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic refreshing post %s: %v", post.PostID, r)
			log.Error().Err(err).Msg("Recovered from refresh panic")
			sentry.CaptureException(err)
			result.Success = false
			result.Error = err.Error()
		}

		status := "success"
		if !result.Success {
			status = "failure"
		}
		observability.RecordPostRefresh(ctx, observability.RefreshMetrics{
			Platform: string(post.Platform),
			Status:   status,
			Duration: time.Since(start),
		})
		span.End()
	}()

	log.Info().
		Str("post_id", post.PostID).
		Str("platform", string(post.Platform)).
		Int("days_since_update", post.DaysSinceUpdate).
		Msg("Refreshing post metrics")

	client, err := o.registry.For(post.Platform)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	store, ok := o.stores[post.SourceShard]
	if !ok {
		result.Error = fmt.Sprintf("no store for shard %q", post.SourceShard)
		return result
	}

	metrics, err := client.FetchMetrics(ctx, post.PostID, post.PostURL)
	if err != nil {
		log.Error().Err(err).Str("post_id", post.PostID).Msg("Metrics fetch failed")
		sentry.CaptureException(err)
		result.Error = err.Error()
		return result
	}

	// Comments analysis enriches the snapshot but never fails the refresh.
	topics := o.analyzeComments(ctx, client, post, metrics)

	if err := store.InsertMetrics(ctx, metrics); err != nil {
		log.Error().Err(err).Str("post_id", post.PostID).Msg("Metrics insert failed")
		sentry.CaptureException(err)
		result.Error = err.Error()
		return result
	}

	if err := store.UpdatePostCounters(ctx, post.PostID, metrics); err != nil {
		log.Warn().Err(err).Str("post_id", post.PostID).Msg("Counter update failed")
	}

	if len(topics) > 0 {
		if err := store.ReplaceTopics(ctx, post.PostID, topics); err != nil {
			log.Warn().Err(err).Str("post_id", post.PostID).Msg("Topic replacement failed")
		}
	}

	log.Info().Str("post_id", post.PostID).Msg("Post metrics refreshed")

	result.Success = true
	return result
}

// analyzeComments fetches the post's comments and runs the analysis pass,
// attaching the result to the snapshot. Returns the extracted topics. Any
// failure degrades to no analysis.
func (o *Orchestrator) analyzeComments(ctx context.Context, client providers.Client, post models.StalePost, metrics *models.CanonicalMetrics) []models.TopicRecord {
	comments, err := client.FetchComments(ctx, post.PostURL, o.config.CommentsLimit)
	if err != nil {
		log.Warn().Err(err).Str("post_id", post.PostID).Msg("Comments fetch failed, skipping analysis")
		return nil
	}
	if len(comments) == 0 {
		log.Info().Str("post_id", post.PostID).Msg("No comments to analyse")
		return nil
	}

	analysisResult := o.analyzer.AnalyzeComments(ctx, comments)
	metrics.CommentsAnalysis = analysisResult.CommentsAnalysis

	log.Info().
		Str("post_id", post.PostID).
		Int("comments", len(comments)).
		Int("topics", len(analysisResult.Topics)).
		Msg("Comments analysis attached")

	return analysisResult.Topics
}
