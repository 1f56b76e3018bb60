package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Neil2813/Nexus/cachestore"
	"github.com/Neil2813/Nexus/config"
	"github.com/Neil2813/Nexus/gateway"
	"github.com/Neil2813/Nexus/graphstore"
	"github.com/Neil2813/Nexus/health"
	"github.com/Neil2813/Nexus/insight"
	"github.com/Neil2813/Nexus/metric"
	"github.com/Neil2813/Nexus/natsclient"
	"github.com/Neil2813/Nexus/osdr"
	"github.com/Neil2813/Nexus/pkg/cache"
	"github.com/Neil2813/Nexus/pkg/retry"
)

// fastTierMaxAge bounds how long the KV bucket keeps any entry. Entries
// carry their own shorter expiry.
const fastTierMaxAge = 7 * 24 * time.Hour

// app holds every long-lived component.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry      *metric.MetricsRegistry
	metrics       *metric.Metrics
	metricsServer *metric.Server

	nats     *natsclient.Client
	cache    *cachestore.Store
	neo4j    *graphstore.DriverRunner
	graph    *graphstore.Store
	ingestor *graphstore.Ingestor
	api      *gateway.Server
}

// build creates the components. Optional backends that cannot be reached
// are logged and left out; the cache and the graph store degrade around
// them.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: metric.NewMetricsRegistry()}
	a.metrics = a.registry.CoreMetrics()

	if err := a.buildCache(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := a.buildGraph(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	acquisition := osdr.NewClient(osdr.Config{
		BaseURL:        cfg.OSDR.BaseURL,
		GeodeURL:       cfg.OSDR.GeodeURL,
		APIKey:         cfg.OSDR.APIKey,
		UserAgent:      cfg.OSDR.UserAgent,
		Timeout:        cfg.OSDR.Timeout.Std(),
		DetailTimeout:  cfg.OSDR.DetailTimeout.Std(),
		PageMultiplier: cfg.OSDR.PageMultiplier,
		MaxPageSize:    cfg.OSDR.MaxPageSize,
	}, osdr.WithLogger(logger), osdr.WithMetrics(a.metrics))
	if !acquisition.APIKeyConfigured() {
		logger.Info("OSDR API key not configured, using public endpoints")
	}

	ai := insight.New(insight.Config{
		GeminiAPIKey:  cfg.AI.GeminiAPIKey,
		GeminiModel:   cfg.AI.GeminiModel,
		GeminiBaseURL: cfg.AI.GeminiBaseURL,
		OpenAIAPIKey:  cfg.AI.OpenAIAPIKey,
		OpenAIModel:   cfg.AI.OpenAIModel,
		OpenAIBaseURL: cfg.AI.OpenAIBaseURL,
		Timeout:       cfg.AI.Timeout.Std(),
	}, insight.WithLogger(logger), insight.WithMetrics(a.metrics))
	if !ai.RemoteConfigured() {
		logger.Warn("no AI provider configured, insight operations use local processing")
	}

	reporter := health.NewReporter(health.ReporterConfig{
		Environment: cfg.Environment,
		Version:     Version,
		Metrics:     a.metrics,
		Logger:      logger,
	},
		health.Service{Name: health.ServiceAcquisition, Critical: true, Probe: health.AcquisitionProbe(acquisition)},
		health.Service{Name: health.ServiceAI, Probe: health.AIProbe(ai.GeminiConfigured(), ai.OpenAIConfigured())},
		health.Service{Name: health.ServiceCache, Probe: health.CacheProbe(a.cache)},
		health.Service{Name: health.ServiceGraph, Probe: health.GraphProbe(a.graph)},
	)

	api, err := gateway.New(gateway.Config{
		APIPrefix:      cfg.Server.APIPrefix,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimit:      cfg.Server.RateLimit.Requests,
		RateWindow:     cfg.Server.RateLimit.Window.Std(),
		RequestTimeout: cfg.Server.RequestTimeout.Std(),
		Name:           displayName,
		Version:        Version,
		Environment:    cfg.Environment,
	}, gateway.Deps{
		Acquisition: acquisition,
		Cache:       a.cache,
		Graph:       a.graph,
		Ingestor:    a.ingestor,
		Insight:     ai,
		Health:      reporter,
		Metrics:     a.metrics,
		Logger:      logger,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.api = api

	if cfg.Metrics.Enabled {
		a.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry)
	}
	return a, nil
}

func (a *app) buildCache(ctx context.Context) error {
	mem, err := cache.NewMemory[[]byte](a.cfg.Cache.MemorySize, a.cfg.Cache.DefaultTTL.Std(),
		cache.WithMetrics[[]byte](a.registry, "cache_memory"))
	if err != nil {
		return fmt.Errorf("create memory cache: %w", err)
	}
	opts := cachestore.Options{
		Memory:      cachestore.NewMemoryTier(mem),
		DefaultTTL:  a.cfg.Cache.DefaultTTL.Std(),
		TierTimeout: a.cfg.Cache.TierTimeout.Std(),
		Logger:      a.logger,
		Metrics:     a.metrics,
	}

	if path := a.cfg.Cache.DurablePath(); path != "" {
		tier, err := cachestore.NewSQLiteTier(ctx, path, nil)
		if err != nil {
			a.logger.Warn("durable cache tier unavailable", "path", path, "error", err)
		} else {
			opts.Durable = tier
		}
	}

	if a.cfg.NATS.URL != "" {
		tier, err := a.connectFastTier(ctx)
		if err != nil {
			a.logger.Warn("fast cache tier unavailable", "url", a.cfg.NATS.URL, "error", err)
		} else {
			opts.Fast = tier
		}
	}

	a.cache = cachestore.New(opts)
	a.logger.Info("cache ready", "tiers", a.cache.Tiers())
	return nil
}

// connectFastTier dials NATS and opens the cache bucket.
func (a *app) connectFastTier(ctx context.Context) (cachestore.Tier, error) {
	client, err := natsclient.NewClient(a.cfg.NATS.URL,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(a.cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(a.cfg.NATS.ReconnectWait.Std()),
		natsclient.WithLogger(a.logger.With("component", "natsclient")),
		natsclient.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	startup := retry.Startup()
	startup.OnRetry = func(attempt int, err error, wait time.Duration) {
		a.logger.Info("NATS not ready, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	if err := retry.Do(ctx, startup, func() error { return client.Connect(ctx) }); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	a.nats = client

	connCtx, cancel := context.WithTimeout(ctx, a.cfg.NATS.ConnectWait.Std())
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      a.cfg.Cache.Bucket,
		Description: "Nexus response cache",
		History:     1,
		TTL:         fastTierMaxAge,
	})
	if err != nil {
		return nil, err
	}
	return cachestore.NewKVTier(client.NewKVStore(bucket, natsclient.WithOpTimeout(a.cfg.Cache.TierTimeout.Std())), nil), nil
}

func (a *app) buildGraph(ctx context.Context) error {
	opts := graphstore.Options{
		Timeout: a.cfg.Graph.Timeout.Std(),
		Logger:  a.logger,
		Metrics: a.metrics,
	}

	if a.cfg.Graph.HasNeo4j() {
		g := a.cfg.Graph
		runner, err := retry.DoWithResult(ctx, retry.Startup(), func() (*graphstore.DriverRunner, error) {
			return graphstore.NewDriverRunner(ctx, g.Neo4jURI, g.Neo4jUser, g.Neo4jPassword, g.Neo4jDatabase)
		})
		if err != nil {
			a.logger.Warn("neo4j unavailable, graph runs on sqlite only", "error", err)
		} else {
			a.neo4j = runner
			opts.Primary = graphstore.NewNeo4jBackend(runner)
		}
	}

	if a.cfg.Graph.SQLitePath != "" {
		backend, err := graphstore.NewSQLiteBackend(ctx, a.cfg.Graph.SQLitePath)
		if err != nil {
			a.logger.Warn("sqlite graph backend unavailable", "path", a.cfg.Graph.SQLitePath, "error", err)
		} else {
			opts.Fallback = backend
		}
	}

	store, err := graphstore.New(opts)
	if err != nil {
		return fmt.Errorf("create graph store: %w", err)
	}
	a.graph = store

	ingestor, err := graphstore.NewIngestor(store, graphstore.IngestorConfig{
		Workers:   a.cfg.Graph.IngestWorkers,
		QueueSize: a.cfg.Graph.IngestQueue,
	}, a.logger, a.registry)
	if err != nil {
		return fmt.Errorf("create graph ingestor: %w", err)
	}
	a.ingestor = ingestor
	return nil
}

// run serves until ctx is done or a server fails, then shuts down.
func (a *app) run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := a.ingestor.Start(ctx); err != nil {
		a.close(ctx)
		return fmt.Errorf("start graph ingestor: %w", err)
	}
	go a.cache.RunSweeper(ctx, a.cfg.Cache.SweepInterval.Std())

	errCh := make(chan error, 2)
	if a.metricsServer != nil {
		go func() {
			a.logger.Info("metrics endpoint listening", "address", a.metricsServer.Address())
			errCh <- a.metricsServer.Start()
		}()
	}
	go func() {
		errCh <- a.api.Start(a.cfg.Server.Address())
	}()
	a.logger.Info("Nexus started", "address", a.cfg.Server.Address())

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	case runErr = <-errCh:
		if runErr != nil {
			a.logger.Error("server stopped", "error", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx, shutdownTimeout); err != nil {
		return errors.Join(runErr, fmt.Errorf("graceful shutdown failed: %w", err))
	}
	a.logger.Info("Nexus shutdown complete")
	return runErr
}

func (a *app) shutdown(ctx context.Context, timeout time.Duration) error {
	var errs []error
	if err := a.api.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http api: %w", err))
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := a.ingestor.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("graph ingestor: %w", err))
	}

	a.close(ctx)
	return errors.Join(errs...)
}

// close releases backends. It is safe on a partially built app.
func (a *app) close(ctx context.Context) {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("closing cache failed", "error", err)
		}
	}
	if a.neo4j != nil {
		if err := a.neo4j.Close(ctx); err != nil {
			a.logger.Warn("closing neo4j driver failed", "error", err)
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Warn("closing NATS connection failed", "error", err)
		}
	}
}
