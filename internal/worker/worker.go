// Package worker implements the per-platform crawl loop that alternates
// between relation expansion and scoring.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/metrics"
)

// Queue is the crawl queue the worker drains and feeds.
type Queue interface {
	Push(item impact.WorkItem) error
	Enqueue(items ...impact.WorkItem) []bool
	Dequeue() (impact.WorkItem, bool)
	Pending(kind impact.WorkKind, key string) bool
	Len() int
	Cap() int
}

// Pipeline runs the full fetch, score and commit sequence for one entity.
type Pipeline interface {
	Score(ctx context.Context, key string) (impact.ScoredEntity, error)
}

// PipelineFunc adapts a plain function to Pipeline.
type PipelineFunc func(ctx context.Context, key string) (impact.ScoredEntity, error)

// Score calls f(ctx, key).
func (f PipelineFunc) Score(ctx context.Context, key string) (impact.ScoredEntity, error) {
	return f(ctx, key)
}

// State is the lifecycle state of a Worker.
type State int32

// Worker lifecycle states.
const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

// String returns a label for logs.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config controls Worker behavior.
//   - IdleBackoff: sleep when the queue is empty (default 100ms).
//   - ErrorBackoff: sleep after a failed work item (default 1s).
//   - FetchTimeout: deadline for one work item (default 30s).
//   - MaxDepth: relation hops explored from a seed entity; 0 means unbounded.
type Config struct {
	IdleBackoff  time.Duration
	ErrorBackoff time.Duration
	FetchTimeout time.Duration
	MaxDepth     int
}

const (
	defaultIdleBackoff  = 100 * time.Millisecond
	defaultErrorBackoff = time.Second
	defaultFetchTimeout = 30 * time.Second
)

// Worker consumes one platform's crawl queue. Start and Stop may be called from
// any goroutine; the loop checks for a stop request between work items only,
// so Stop returns within one in-flight item plus the backoff interval.
type Worker struct {
	platform  impact.Platform
	queue     Queue
	relations impact.RelationFetcher
	pipeline  Pipeline
	cfg       Config
	logger    *zap.Logger

	mu     sync.Mutex
	state  State
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Worker in the stopped state.
func New(
	platform impact.Platform,
	queue Queue,
	relations impact.RelationFetcher,
	pipeline Pipeline,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = defaultIdleBackoff
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		platform:  platform,
		queue:     queue,
		relations: relations,
		pipeline:  pipeline,
		cfg:       cfg,
		logger:    logger,
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start spawns the consumer loop unless it is already running. A Start issued
// while a previous loop is stopping waits for that loop to exit first.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateStopping {
		done := w.doneCh
		w.mu.Unlock()
		<-done
		w.mu.Lock()
	}
	if w.state == StateRunning {
		return
	}
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.state = StateRunning
	go w.run(w.stopCh, w.doneCh)
	w.logger.Info("crawl worker started")
}

// Stop signals the loop to exit and blocks until it has.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	if w.state == StateRunning {
		w.state = StateStopping
		close(w.stopCh)
	}
	done := w.doneCh
	w.mu.Unlock()

	<-done

	w.mu.Lock()
	if w.doneCh == done && w.state == StateStopping {
		w.state = StateStopped
		w.logger.Info("crawl worker stopped")
	}
	w.mu.Unlock()
}

// Expand queues a relation expansion for key found at the given depth. It
// reports whether an item was admitted.
func (w *Worker) Expand(key string, depth int) bool {
	if w.cfg.MaxDepth > 0 && depth >= w.cfg.MaxDepth {
		return false
	}
	return w.push(impact.WorkItem{Key: key, Kind: impact.WorkExpandRelations, Depth: depth})
}

func (w *Worker) push(item impact.WorkItem) bool {
	err := w.queue.Push(item)
	metrics.SetQueueDepth(string(w.platform), w.queue.Len())
	switch {
	case err == nil:
		return true
	case errors.Is(err, impact.ErrDuplicate):
		metrics.ObserveQueueRejection(string(w.platform), "duplicate")
		w.logger.Debug("work item already queued",
			zap.String("identifier", item.Key), zap.Stringer("kind", item.Kind))
	case errors.Is(err, impact.ErrQueueFull):
		metrics.ObserveQueueRejection(string(w.platform), "full")
		w.logger.Info("crawl queue full; dropping work item",
			zap.String("identifier", item.Key), zap.Stringer("kind", item.Kind))
	default:
		metrics.ObserveQueueRejection(string(w.platform), "error")
		w.logger.Warn("enqueue failed", zap.String("identifier", item.Key), zap.Error(err))
	}
	return false
}

func (w *Worker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	metrics.SetWorkerRunning(string(w.platform), true)
	defer metrics.SetWorkerRunning(string(w.platform), false)

	for {
		select {
		case <-stop:
			return
		default:
		}

		item, ok := w.queue.Dequeue()
		if !ok {
			if !sleep(stop, w.cfg.IdleBackoff) {
				return
			}
			continue
		}
		metrics.SetQueueDepth(string(w.platform), w.queue.Len())

		if err := w.process(item); err != nil {
			metrics.ObserveWorkItem(string(w.platform), item.Kind.String(), "error")
			w.logger.Warn("work item failed",
				zap.String("identifier", item.Key),
				zap.Stringer("kind", item.Kind),
				zap.Int("depth", item.Depth),
				zap.Error(err),
			)
			if !sleep(stop, w.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		metrics.ObserveWorkItem(string(w.platform), item.Kind.String(), "ok")
	}
}

// process runs one item; a panic in a collaborator is turned into an error so
// it cannot take the loop down.
func (w *Worker) process(item impact.WorkItem) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic processing %s: %v", item.Key, rec)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FetchTimeout)
	defer cancel()

	switch item.Kind {
	case impact.WorkExpandRelations:
		return w.expand(ctx, item)
	case impact.WorkScore:
		return w.score(ctx, item)
	default:
		return fmt.Errorf("unknown work kind %d", item.Kind)
	}
}

func (w *Worker) expand(ctx context.Context, item impact.WorkItem) error {
	related, fetchErr := w.relations.FetchRelations(ctx, item.Key)

	seen := make(map[string]struct{}, len(related))
	batch := make([]impact.WorkItem, 0, len(related))
	for _, key := range related {
		if key == "" || key == item.Key {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		batch = append(batch, impact.WorkItem{Key: key, Kind: impact.WorkScore, Depth: item.Depth + 1})
	}
	admitted := w.enqueue(batch)
	w.logger.Debug("relations expanded",
		zap.String("identifier", item.Key),
		zap.Int("found", len(related)),
		zap.Int("queued", admitted),
	)
	if fetchErr != nil {
		return fmt.Errorf("expand relations: %w", fetchErr)
	}
	return nil
}

// enqueue admits a batch and records a rejection reason per dropped item. A
// rejected item still pending was a duplicate; otherwise the queue was full.
func (w *Worker) enqueue(batch []impact.WorkItem) int {
	if len(batch) == 0 {
		return 0
	}
	results := w.queue.Enqueue(batch...)
	metrics.SetQueueDepth(string(w.platform), w.queue.Len())

	admitted, full := 0, 0
	for i, ok := range results {
		switch {
		case ok:
			admitted++
		case w.queue.Pending(batch[i].Kind, batch[i].Key):
			metrics.ObserveQueueRejection(string(w.platform), "duplicate")
		default:
			metrics.ObserveQueueRejection(string(w.platform), "full")
			full++
		}
	}
	if full > 0 {
		w.logger.Info("crawl queue full; dropping related entities",
			zap.Int("dropped", full), zap.Int("capacity", w.queue.Cap()))
	}
	return admitted
}

func (w *Worker) score(ctx context.Context, item impact.WorkItem) error {
	entity, err := w.pipeline.Score(ctx, item.Key)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	w.logger.Debug("entity scored",
		zap.String("identifier", entity.Identifier),
		zap.Int("score", entity.Score),
		zap.Int("depth", item.Depth),
	)
	w.Expand(item.Key, item.Depth)
	return nil
}

func sleep(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
