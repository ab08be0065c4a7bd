// Package supervisor owns one crawl queue and worker per platform and exposes
// the per-platform request surface through Site.
package supervisor

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/stats"
	"github.com/JakeFAU/impact-crawler/internal/worker"
)

// Config sizes every site's queue and tunes its worker.
type Config struct {
	QueueCapacity int
	Worker        worker.Config
}

// Deps are the collaborators shared by all sites.
type Deps struct {
	Store     impact.EntityStore
	Publisher impact.Publisher
	Clock     impact.Clock
	Topic     string
}

// Supervisor is the registry of sites. Workers never start on construction;
// the process lifecycle calls Start and Stop.
type Supervisor struct {
	sites  map[impact.Platform]*Site
	order  []impact.Platform
	logger *zap.Logger
}

// New builds one site per adapter. Adapters must report distinct names.
func New(adapters []impact.Adapter, deps Deps, cfg Config, logger *zap.Logger) (*Supervisor, error) {
	if deps.Store == nil {
		return nil, errors.New("supervisor: store is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("supervisor: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	aggregator := stats.NewAggregator(deps.Store, deps.Clock, logger.Named("stats"))

	sup := &Supervisor{
		sites:  make(map[impact.Platform]*Site, len(adapters)),
		logger: logger,
	}
	for _, adapter := range adapters {
		name := adapter.Info().Name
		if name == "" {
			return nil, errors.New("supervisor: adapter with empty platform name")
		}
		if _, dup := sup.sites[name]; dup {
			return nil, fmt.Errorf("supervisor: duplicate platform %q", name)
		}
		sup.sites[name] = newSite(adapter, deps, aggregator, cfg, logger.Named("site"))
		sup.order = append(sup.order, name)
	}
	return sup, nil
}

// Site returns the façade for platform or an error wrapping impact.ErrUnknownPlatform.
func (s *Supervisor) Site(platform impact.Platform) (*Site, error) {
	site, ok := s.sites[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", impact.ErrUnknownPlatform, platform)
	}
	return site, nil
}

// Platforms lists the registered platforms in registration order.
func (s *Supervisor) Platforms() []impact.PlatformInfo {
	out := make([]impact.PlatformInfo, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.sites[name].Info())
	}
	return out
}

// Start starts every site's worker.
func (s *Supervisor) Start() {
	for _, name := range s.order {
		s.sites[name].Start()
	}
	s.logger.Info("crawl workers started", zap.Int("platforms", len(s.order)))
}

// Stop stops every worker concurrently and waits for all of them.
func (s *Supervisor) Stop() {
	var wg sync.WaitGroup
	for _, name := range s.order {
		wg.Add(1)
		go func(site *Site) {
			defer wg.Done()
			site.Stop()
		}(s.sites[name])
	}
	wg.Wait()
	s.logger.Info("crawl workers stopped")
}
