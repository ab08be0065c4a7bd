package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/impact-crawler/internal/impact"
)

// Store is the subset of impact.EntityStore the aggregator needs.
type Store interface {
	Upsert(ctx context.Context, in impact.UpsertInput) (impact.UpsertResult, error)
	Scores(ctx context.Context, platform impact.Platform) ([]int, error)
	Distribution(ctx context.Context, platform impact.Platform) (impact.ScoreDistribution, error)
	GetStats(ctx context.Context, platform impact.Platform) (impact.PlatformStats, error)
	UpsertStats(ctx context.Context, stats impact.PlatformStats) error
}

// Aggregator commits scored entities and keeps PlatformStats in step with them.
// Commits for one platform are serialized by an in-process lock held across the
// entity upsert and the stats read-modify-write, so PlatformStats.Count always
// equals the number of stored entities of that platform.
type Aggregator struct {
	store  Store
	clock  impact.Clock
	logger *zap.Logger

	mu    sync.Mutex
	locks map[impact.Platform]*platformLock
}

type platformLock struct {
	sync.Mutex
	// stale is set when an entity was committed but its stats update failed;
	// the next commit rebuilds from scratch instead of applying a delta.
	stale bool
}

// NewAggregator constructs an Aggregator.
func NewAggregator(store Store, clock impact.Clock, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		store:  store,
		clock:  clock,
		logger: logger,
		locks:  make(map[impact.Platform]*platformLock),
	}
}

func (a *Aggregator) lockFor(platform impact.Platform) *platformLock {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[platform]
	if !ok {
		l = &platformLock{}
		a.locks[platform] = l
	}
	return l
}

// Commit upserts the entity and updates the platform stats in one serialized unit.
// When the upsert succeeds but the stats update fails, the entity result is
// still returned alongside the error.
func (a *Aggregator) Commit(ctx context.Context, in impact.UpsertInput) (impact.UpsertResult, impact.PlatformStats, error) {
	l := a.lockFor(in.Platform)
	l.Lock()
	defer l.Unlock()

	res, err := a.store.Upsert(ctx, in)
	if err != nil {
		return impact.UpsertResult{}, impact.PlatformStats{}, fmt.Errorf("upsert entity: %w", err)
	}

	stats, err := a.update(ctx, l, in.Platform, res)
	if err != nil {
		l.stale = true
		return res, impact.PlatformStats{}, err
	}
	l.stale = false
	return res, stats, nil
}

// Rebuild recomputes a platform's stats from every stored score.
func (a *Aggregator) Rebuild(ctx context.Context, platform impact.Platform) (impact.PlatformStats, error) {
	l := a.lockFor(platform)
	l.Lock()
	defer l.Unlock()

	stats, err := a.bootstrap(ctx, platform)
	if err != nil {
		l.stale = true
		return impact.PlatformStats{}, err
	}
	l.stale = false
	return stats, nil
}

func (a *Aggregator) update(
	ctx context.Context,
	l *platformLock,
	platform impact.Platform,
	res impact.UpsertResult,
) (impact.PlatformStats, error) {
	if l.stale {
		a.logger.Info("rebuilding stale platform stats", zap.String("platform", string(platform)))
		return a.bootstrap(ctx, platform)
	}

	current, err := a.store.GetStats(ctx, platform)
	if errors.Is(err, impact.ErrNotFound) {
		// The freshly upserted row is already part of the stored scores.
		a.logger.Info("bootstrapping platform stats", zap.String("platform", string(platform)))
		return a.bootstrap(ctx, platform)
	}
	if err != nil {
		return impact.PlatformStats{}, fmt.Errorf("load stats: %w", err)
	}

	score := res.Entity.Score
	var next impact.PlatformStats
	if res.Created {
		next = Observe(current, score)
	} else {
		next = Replace(current, res.PreviousScore, score)
	}

	dist, err := a.store.Distribution(ctx, platform)
	if err != nil {
		return impact.PlatformStats{}, fmt.Errorf("load distribution: %w", err)
	}
	next.Median = dist.Median
	if !res.Created {
		next.Min, next.Max = dist.Min, dist.Max
	}
	if dist.Count != next.Count {
		a.logger.Warn("stats count drifted from stored entities; rebuilding",
			zap.String("platform", string(platform)),
			zap.Int64("stats_count", next.Count),
			zap.Int64("stored_count", dist.Count),
		)
		return a.bootstrap(ctx, platform)
	}
	next.Platform = platform
	next.UpdatedAt = a.clock.Now()

	if err := a.store.UpsertStats(ctx, next); err != nil {
		return impact.PlatformStats{}, fmt.Errorf("save stats: %w", err)
	}
	return next, nil
}

func (a *Aggregator) bootstrap(ctx context.Context, platform impact.Platform) (impact.PlatformStats, error) {
	scores, err := a.store.Scores(ctx, platform)
	if err != nil {
		return impact.PlatformStats{}, fmt.Errorf("load scores: %w", err)
	}
	stats := Bootstrap(platform, scores, a.clock.Now())
	if err := a.store.UpsertStats(ctx, stats); err != nil {
		return impact.PlatformStats{}, fmt.Errorf("save stats: %w", err)
	}
	return stats, nil
}
