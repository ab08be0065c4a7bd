// Package app builds the long-lived services from configuration and owns their
// shutdown order.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/impact-crawler/internal/api"
	"github.com/JakeFAU/impact-crawler/internal/clock/system"
	"github.com/JakeFAU/impact-crawler/internal/config"
	"github.com/JakeFAU/impact-crawler/internal/id/uuid"
	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/platform"
	pubmemory "github.com/JakeFAU/impact-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/impact-crawler/internal/publisher/pubsub"
	storememory "github.com/JakeFAU/impact-crawler/internal/storage/memory"
	"github.com/JakeFAU/impact-crawler/internal/storage/postgres"
	"github.com/JakeFAU/impact-crawler/internal/supervisor"
	"github.com/JakeFAU/impact-crawler/internal/telemetry"
	"github.com/JakeFAU/impact-crawler/internal/worker"
)

// App holds the services shared by the process: the supervisor that owns the
// crawl workers and the HTTP server in front of it.
type App struct {
	Logger     *zap.Logger
	Supervisor *supervisor.Supervisor
	Server     *api.Server

	closers []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

// New wires the store, publisher, adapters, supervisor, and API server
// described by cfg. Workers are not started.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Logger: logger}

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = "impact-crawler"
	}
	exporter, err := telemetry.NewExporter(cfg.Telemetry.Exporter, nil)
	if err != nil {
		return nil, fmt.Errorf("init trace exporter: %w", err)
	}
	tp, err := telemetry.InitTracerProvider(ctx, serviceName, cfg.Telemetry.SampleRatio, exporter)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.AddCloser("tracer", closeFunc(func() error {
		return tp.Shutdown(context.Background())
	}))

	clock := system.New()
	ids := uuid.New()

	store, ready, err := a.buildStore(ctx, cfg, ids, clock)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	adapters, err := platform.Default().Build(platformSettings(cfg.Platforms), httpClient, logger.Named("platform"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build platforms: %w", err)
	}
	enabled := cfg.EnabledPlatforms()
	if len(enabled) == 0 {
		logger.Warn("no platforms enabled")
	}

	sup, err := supervisor.New(adapters, supervisor.Deps{
		Store:     store,
		Publisher: publisher,
		Clock:     clock,
		Topic:     cfg.PubSub.TopicName,
	}, supervisor.Config{
		QueueCapacity: cfg.Crawler.QueueCapacity,
		Worker: worker.Config{
			IdleBackoff:  cfg.Crawler.IdleBackoff,
			ErrorBackoff: cfg.Crawler.ErrorBackoff,
			FetchTimeout: cfg.Crawler.FetchTimeout,
			MaxDepth:     cfg.Crawler.MaxDepth,
		},
	}, logger.Named("supervisor"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build supervisor: %w", err)
	}
	a.Supervisor = sup
	a.Server = api.NewServer(api.FromSupervisor(sup), ready, cfg, logger.Named("api"))

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.Strings("platforms", enabled),
	)
	return a, nil
}

func (a *App) buildStore(
	ctx context.Context,
	cfg config.Config,
	ids impact.IDGenerator,
	clock impact.Clock,
) (impact.EntityStore, api.Pinger, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		store, err := postgres.NewEntityStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			EntityTable:     cfg.DB.EntityTable,
			StatsTable:      cfg.DB.StatsTable,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		}, ids, clock)
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.AddCloser("postgres", closeFunc(func() error {
			store.Close()
			return nil
		}))
		if cfg.Storage.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, nil, fmt.Errorf("migrate postgres store: %w", err)
			}
		}
		a.Logger.Info("using postgres entity store")
		return store, store, nil
	case config.DriverMemory, "":
		a.Logger.Info("using in-memory entity store; scores are lost on restart")
		return storememory.NewEntityStore(ids, clock), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config) (impact.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		a.Logger.Info("using in-memory score event publisher")
		return pubmemory.New(), nil
	}
	p, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.AddCloser("pubsub", p)
	a.Logger.Info("publishing score events to pubsub", zap.String("topic", cfg.PubSub.TopicName))
	return p, nil
}

func platformSettings(in map[string]config.PlatformConfig) map[string]platform.Settings {
	out := make(map[string]platform.Settings, len(in))
	for name, p := range in {
		out[name] = platform.Settings{
			Enabled:           p.Enabled,
			BaseURL:           p.BaseURL,
			WebURL:            p.WebURL,
			Token:             p.Token,
			UserAgent:         p.UserAgent,
			RequestsPerSecond: p.RequestsPerSecond,
			Burst:             p.Burst,
			MaxPages:          p.MaxPages,
			Timeout:           p.Timeout,
		}
	}
	return out
}

// AddCloser registers a resource released by Close, in reverse order of registration.
func (a *App) AddCloser(name string, c io.Closer) {
	a.closers = append(a.closers, namedCloser{name: name, c: c})
}

// Close stops the crawl workers and releases every registered resource. Close
// errors are logged, not returned.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	if a.Supervisor != nil {
		a.Supervisor.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.Logger.Warn("error closing resource", zap.String("resource", nc.name), zap.Error(err))
		}
	}
	a.closers = nil
}
