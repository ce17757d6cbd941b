// Package staleness decides which tracked posts are due for a metrics
// refresh, reading every configured shard.
package staleness

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/itracker-hq/metrics-bot/internal/db"
	"github.com/itracker-hq/metrics-bot/internal/models"
)

// Store is the shard read surface the selector needs.
type Store interface {
	Name() string
	ActivePosts(ctx context.Context) ([]db.TrackedPost, error)
	SuccessfulMetricStamps(ctx context.Context) ([]db.MetricStamp, error)
}

// Selector finds stale and never-measured posts across shards. An
// unreachable shard is skipped with a warning rather than failing the whole
// selection; the remaining shards still get refreshed.
type Selector struct {
	stores []Store
	now    func() time.Time
}

// NewSelector creates a selector over the given shards.
func NewSelector(stores ...Store) *Selector {
	if len(stores) == 0 {
		panic("staleness: at least one store is required")
	}
	return &Selector{stores: stores, now: time.Now}
}

// SelectStalePosts returns every post whose most recent successful snapshot
// is at least daysThreshold calendar days old. Age is measured on dates, not
// timestamps, so a snapshot from yesterday evening is one day old this
// morning.
func (s *Selector) SelectStalePosts(ctx context.Context, daysThreshold int) ([]models.StalePost, error) {
	var mu sync.Mutex
	var stale []models.StalePost

	g, ctx := errgroup.WithContext(ctx)
	for _, store := range s.stores {
		g.Go(func() error {
			posts := s.selectStaleFromShard(ctx, store, daysThreshold)
			mu.Lock()
			stale = append(stale, posts...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info().
		Int("count", len(stale)).
		Int("days_threshold", daysThreshold).
		Msg("Stale posts selected")

	return stale, nil
}

func (s *Selector) selectStaleFromShard(ctx context.Context, store Store, daysThreshold int) []models.StalePost {
	stamps, err := store.SuccessfulMetricStamps(ctx)
	if err != nil {
		log.Warn().Err(err).Str("shard", store.Name()).Msg("Shard unreachable, skipping stale selection")
		return nil
	}
	posts, err := store.ActivePosts(ctx)
	if err != nil {
		log.Warn().Err(err).Str("shard", store.Name()).Msg("Shard unreachable, skipping stale selection")
		return nil
	}

	postsByID := make(map[string]db.TrackedPost, len(posts))
	for _, post := range posts {
		postsByID[post.ID] = post
	}

	// Keep only the newest stamp per (post, platform).
	type key struct {
		postID   string
		platform models.Platform
	}
	latest := make(map[key]db.MetricStamp)
	for _, stamp := range stamps {
		k := key{stamp.PostID, stamp.Platform}
		if existing, ok := latest[k]; !ok || stamp.CreatedAt.After(existing.CreatedAt) {
			latest[k] = stamp
		}
	}

	now := s.now()
	var stale []models.StalePost
	for _, stamp := range latest {
		age := ageDays(stamp.CreatedAt, now)
		if age < daysThreshold {
			continue
		}
		post, ok := postsByID[stamp.PostID]
		if !ok {
			// Snapshot for a deleted or foreign post; nothing to refresh.
			continue
		}

		stale = append(stale, models.StalePost{
			PostID:          stamp.PostID,
			Platform:        stamp.Platform,
			PostURL:         post.PostURL,
			LatestMetricsAt: stamp.CreatedAt,
			DaysSinceUpdate: age,
			InfluencerID:    post.InfluencerID,
			CampaignID:      post.CampaignID,
			SourceShard:     store.Name(),
		})
	}

	return stale
}

// SelectNeverMeasured returns every active post that has no successful
// snapshot at all, with the sentinel age so downstream ordering always
// processes them.
func (s *Selector) SelectNeverMeasured(ctx context.Context) ([]models.StalePost, error) {
	var mu sync.Mutex
	var unmeasured []models.StalePost

	g, ctx := errgroup.WithContext(ctx)
	for _, store := range s.stores {
		g.Go(func() error {
			posts := s.selectNeverMeasuredFromShard(ctx, store)
			mu.Lock()
			unmeasured = append(unmeasured, posts...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info().Int("count", len(unmeasured)).Msg("Never-measured posts selected")

	return unmeasured, nil
}

func (s *Selector) selectNeverMeasuredFromShard(ctx context.Context, store Store) []models.StalePost {
	posts, err := store.ActivePosts(ctx)
	if err != nil {
		log.Warn().Err(err).Str("shard", store.Name()).Msg("Shard unreachable, skipping never-measured selection")
		return nil
	}
	stamps, err := store.SuccessfulMetricStamps(ctx)
	if err != nil {
		log.Warn().Err(err).Str("shard", store.Name()).Msg("Shard unreachable, skipping never-measured selection")
		return nil
	}

	measured := make(map[string]struct{}, len(stamps))
	for _, stamp := range stamps {
		measured[stamp.PostID] = struct{}{}
	}

	var unmeasured []models.StalePost
	for _, post := range posts {
		if _, ok := measured[post.ID]; ok {
			continue
		}
		unmeasured = append(unmeasured, models.StalePost{
			PostID:          post.ID,
			Platform:        post.Platform,
			PostURL:         post.PostURL,
			LatestMetricsAt: time.Unix(0, 0).UTC(),
			DaysSinceUpdate: models.NeverMeasuredAge,
			InfluencerID:    post.InfluencerID,
			CampaignID:      post.CampaignID,
			SourceShard:     store.Name(),
		})
	}

	return unmeasured
}

// ageDays returns the whole calendar days between two instants, comparing
// UTC dates only. Both sides move to UTC first so a stamp scanned in UTC and
// a wall clock in another zone never disagree near midnight.
func ageDays(from, now time.Time) int {
	from, now = from.UTC(), now.UTC()
	fromDate := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	nowDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(nowDate.Sub(fromDate).Hours() / 24)
}
