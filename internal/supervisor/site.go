package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/logging"
	"github.com/JakeFAU/impact-crawler/internal/metrics"
	"github.com/JakeFAU/impact-crawler/internal/queue/memory"
	"github.com/JakeFAU/impact-crawler/internal/scoring"
	"github.com/JakeFAU/impact-crawler/internal/stats"
	"github.com/JakeFAU/impact-crawler/internal/worker"
)

// Pagination and search bounds applied by the façade.
const (
	DefaultPerPage     = 20
	MaxPerPage         = 100
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// Site is the per-platform façade: it owns the platform's crawl queue and
// worker and answers every read and score request for that platform.
type Site struct {
	platform   impact.Platform
	adapter    impact.Adapter
	store      impact.EntityStore
	aggregator *stats.Aggregator
	publisher  impact.Publisher
	topic      string
	clock      impact.Clock
	queue      *memory.Queue
	worker     *worker.Worker
	logger     *zap.Logger
}

func newSite(adapter impact.Adapter, deps Deps, aggregator *stats.Aggregator, cfg Config, logger *zap.Logger) *Site {
	info := adapter.Info()
	s := &Site{
		platform:   info.Name,
		adapter:    adapter,
		store:      deps.Store,
		aggregator: aggregator,
		publisher:  deps.Publisher,
		topic:      deps.Topic,
		clock:      deps.Clock,
		queue:      memory.NewQueue(cfg.QueueCapacity),
		logger:     logging.ForPlatform(logger, string(info.Name)),
	}
	s.worker = worker.New(
		s.platform,
		s.queue,
		adapter,
		worker.PipelineFunc(s.commit),
		cfg.Worker,
		s.logger.Named("worker"),
	)
	return s
}

// Platform returns the platform this site serves.
func (s *Site) Platform() impact.Platform { return s.platform }

// Info returns the adapter's descriptive metadata.
func (s *Site) Info() impact.PlatformInfo { return s.adapter.Info() }

// Start starts the crawl worker.
func (s *Site) Start() { s.worker.Start() }

// Stop stops the crawl worker and waits for it to exit.
func (s *Site) Stop() { s.worker.Stop() }

// WorkerState reports the crawl worker's lifecycle state.
func (s *Site) WorkerState() worker.State { return s.worker.State() }

// QueueLen reports the number of queued work items.
func (s *Site) QueueLen() int { return s.queue.Len() }

// Score synchronously fetches, scores and commits key, then queues a relation
// expansion for it. Fetch failures wrap impact.ErrFetch; persistence failures
// wrap impact.ErrStore. A failed run leaves any stored entity untouched.
func (s *Site) Score(ctx context.Context, key string) (impact.ScoredEntity, error) {
	entity, err := s.commit(ctx, key)
	if err != nil {
		return impact.ScoredEntity{}, err
	}
	s.worker.Expand(key, 0)
	return entity, nil
}

// Run is Score with failures logged instead of returned.
func (s *Site) Run(ctx context.Context, key string) (impact.ScoredEntity, bool) {
	entity, err := s.Score(ctx, key)
	if err != nil {
		s.logger.Warn("score run failed", zap.String("identifier", key), zap.Error(err))
		return impact.ScoredEntity{}, false
	}
	return entity, true
}

// commit is the scoring pipeline shared by Score and the crawl worker.
func (s *Site) commit(ctx context.Context, key string) (entity impact.ScoredEntity, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ObserveScore(string(s.platform), result, time.Since(start))
	}()

	info, err := s.adapter.FetchRecords(ctx, key)
	if err != nil {
		if !errors.Is(err, impact.ErrFetch) {
			err = fmt.Errorf("%w: %w", impact.ErrFetch, err)
		}
		return impact.ScoredEntity{}, fmt.Errorf("fetch records for %s: %w", key, err)
	}

	score, total := scoring.HIndex(info.Records)
	in := impact.UpsertInput{
		Platform:    s.platform,
		Identifier:  key,
		Score:       score,
		TotalMetric: total,
		URL:         info.Metadata.URL,
		CreatedAt:   info.Metadata.CreatedAt,
	}

	res, platformStats, err := s.aggregator.Commit(ctx, in)
	if err != nil {
		if res.Entity.Identifier == "" {
			return impact.ScoredEntity{}, fmt.Errorf("commit %s: %w", key, err)
		}
		// The entity is stored; the aggregator rebuilds stats on the next commit.
		s.logger.Error("platform stats update failed",
			zap.String("identifier", key), zap.Error(err))
	} else {
		s.logger.Debug("platform stats updated",
			zap.Int64("count", platformStats.Count),
			zap.Float64("mean", platformStats.Mean),
			zap.Float64("median", platformStats.Median),
		)
	}

	s.publish(ctx, res)
	return res.Entity, nil
}

func (s *Site) publish(ctx context.Context, res impact.UpsertResult) {
	if s.publisher == nil || s.topic == "" {
		return
	}
	event := impact.ScoredEvent{
		Platform:    s.platform,
		Identifier:  res.Entity.Identifier,
		Score:       res.Entity.Score,
		TotalMetric: res.Entity.TotalMetric,
		Created:     res.Created,
		ScoredAt:    res.Entity.UpdatedAt,
	}
	if _, err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		s.logger.Warn("publish score event failed",
			zap.String("identifier", res.Entity.Identifier), zap.Error(err))
	}
}

// RetrieveEntity reads a stored entity without any upstream traffic.
func (s *Site) RetrieveEntity(ctx context.Context, key string) (impact.ScoredEntity, bool) {
	entity, err := s.store.Get(ctx, s.platform, key)
	if err != nil {
		if !errors.Is(err, impact.ErrNotFound) {
			s.logger.Warn("retrieve entity failed", zap.String("identifier", key), zap.Error(err))
		}
		return impact.ScoredEntity{}, false
	}
	return entity, true
}

// GetEntityStats returns the entity's percentile rank in [0, 100], rounded to
// two decimals. Unknown entities and empty platforms yield 0.
func (s *Site) GetEntityStats(ctx context.Context, key string) float64 {
	entity, ok := s.RetrieveEntity(ctx, key)
	if !ok {
		return 0
	}
	total, err := s.store.Count(ctx, s.platform)
	if err != nil {
		s.logger.Warn("count entities failed", zap.Error(err))
		return 0
	}
	if total == 0 {
		return 0
	}
	above, err := s.store.CountAbove(ctx, s.platform, entity.Score)
	if err != nil {
		s.logger.Warn("count entities above failed", zap.Error(err))
		return 0
	}
	return Percentile(total, above)
}

// Percentile computes (total-above)/total*100 rounded to two decimals. The
// counts come from separate reads, so above is clamped to [0, total].
func Percentile(total, above int64) float64 {
	if total <= 0 {
		return 0
	}
	above = min(max(above, 0), total)
	p := float64(total-above) / float64(total) * 100
	return math.Round(p*100) / 100
}

// GetTopEntities returns one 1-indexed page of entities by descending score,
// together with the platform's total entity count. Pages past the end are empty.
func (s *Site) GetTopEntities(ctx context.Context, page, perPage int) ([]impact.ScoredEntity, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	total, err := s.store.Count(ctx, s.platform)
	if err != nil {
		return nil, 0, fmt.Errorf("count entities: %w", err)
	}
	if page-1 > math.MaxInt/perPage || int64((page-1)*perPage) >= total {
		return nil, total, nil
	}
	entities, err := s.store.Page(ctx, s.platform, (page-1)*perPage, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("page entities: %w", err)
	}
	return entities, total, nil
}

// SearchEntities matches query case-insensitively against identifiers.
func (s *Site) SearchEntities(ctx context.Context, query string, limit int) ([]impact.ScoredEntity, error) {
	if limit < 1 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	entities, err := s.store.Search(ctx, s.platform, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	return entities, nil
}

// GetMetadata returns the platform summary. It wraps impact.ErrNotFound until
// the first entity of the platform has been stored. Entities stored without
// stats, such as rows loaded before the stats table existed, trigger a rebuild.
func (s *Site) GetMetadata(ctx context.Context) (impact.Metadata, error) {
	platformStats, err := s.store.GetStats(ctx, s.platform)
	if errors.Is(err, impact.ErrNotFound) {
		platformStats, err = s.backfillStats(ctx, err)
	}
	if err != nil {
		return impact.Metadata{}, fmt.Errorf("load stats for %s: %w", s.platform, err)
	}
	return impact.Metadata{
		Platform:       s.adapter.Info(),
		Stats:          platformStats,
		TargetEntities: impact.UnknownTarget,
	}, nil
}

func (s *Site) backfillStats(ctx context.Context, notFound error) (impact.PlatformStats, error) {
	total, err := s.store.Count(ctx, s.platform)
	if err != nil {
		return impact.PlatformStats{}, fmt.Errorf("count entities: %w", err)
	}
	if total == 0 {
		return impact.PlatformStats{}, notFound
	}
	s.logger.Info("backfilling platform stats", zap.Int64("entities", total))
	return s.aggregator.Rebuild(ctx, s.platform)
}
