// Package app wires the process: config, logger, store, repos,
// providers, processor, HTTP. New builds everything; Run serves until
// the context ends, then drains the server and the processor.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/data/db"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos"
	httpapi "github.com/darkroomhq/darkroom-backend/internal/http"
	"github.com/darkroomhq/darkroom-backend/internal/manifest"
	"github.com/darkroomhq/darkroom-backend/internal/observability"
	"github.com/darkroomhq/darkroom-backend/internal/pipeline"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/processor"
	"github.com/darkroomhq/darkroom-backend/internal/realtime"
	"github.com/darkroomhq/darkroom-backend/internal/realtime/bus"
	"github.com/darkroomhq/darkroom-backend/internal/themes"
)

type App struct {
	Log       *logger.Logger
	Config    *config.Config
	DB        *db.Service
	Store     gcs.Service
	Repos     repos.All
	Hub       *realtime.SSEHub
	Scheduler *processor.Scheduler

	server   *httpapi.Server
	metrics  *observability.Metrics
	bus      bus.Bus
	otelStop func(context.Context) error

	// baseCtx outlives any request; the processor, the collectors and
	// the bus forwarder all hang off it.
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics, otelStop, tracingService := wireObservability(context.Background(), log, cfg)

	dbService, err := db.New(cfg.DB, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	store, err := gcs.New(context.Background(), cfg.Storage, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init object store: %w", err)
	}

	reposet := repos.NewAll(dbService.DB(), log)

	rt, err := wireRealtime(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	segmenter, err := resolveSegmenter(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	generator, err := resolveGenerator(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	compositor := pipeline.NewCompositor(store, log, pipeline.DefaultCompositeOptions())
	derivatives := pipeline.NewDerivativeEngine(store, log, themes.RenderSizes(log), themes.RenderFormats(log))
	manifests := manifest.NewBuilder(store, log, cfg.Storage.ManifestTTL.Duration)

	sched := processor.New(processor.Deps{
		Config:      cfg.Processor,
		Shopify:     cfg.Shopify,
		Log:         log,
		Jobs:        reposet.Jobs,
		Meta:        reposet.Meta,
		Maps:        reposet.ShopifyMap,
		Store:       store,
		Segmenter:   segmenter,
		Generator:   generator,
		Compositor:  compositor,
		Derivatives: derivatives,
		Manifests:   manifests,
		Emitter:     rt.emitter,
		Metrics:     metrics,
	})

	baseCtx, baseCancel := context.WithCancel(context.Background())

	handlerset := wireHandlers(baseCtx, log, cfg, dbService, store, reposet, rt, sched, metrics)
	router := wireRouter(log, cfg, metrics, tracingService, handlerset)
	server := httpapi.NewServer(cfg.HTTP, log, router)

	return &App{
		Log:        log,
		Config:     cfg,
		DB:         dbService,
		Store:      store,
		Repos:      reposet,
		Hub:        rt.hub,
		Scheduler:  sched,
		server:     server,
		metrics:    metrics,
		bus:        rt.bus,
		otelStop:   otelStop,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}, nil
}

// Run serves HTTP until ctx ends or the listener fails, then stops
// intake, drains in-flight jobs and flushes everything that buffers.
func (a *App) Run(ctx context.Context) error {
	a.startCollectors()

	if a.bus != nil {
		if err := a.bus.StartForwarder(a.baseCtx, a.Hub.Broadcast); err != nil {
			a.Log.Warn("event bus forwarder failed to start", "error", err)
		}
	}

	if a.Config.Processor.AutoStart {
		a.Scheduler.Start(a.baseCtx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()
	a.Log.Info("HTTP server listening", "addr", a.server.Addr(), "env", a.Config.Env)

	select {
	case <-ctx.Done():
		a.Log.Info("Shutdown signal received")
		a.stop()
		return nil
	case err := <-errCh:
		a.stop()
		return err
	}
}

func (a *App) startCollectors() {
	if a.metrics == nil {
		return
	}
	a.metrics.StartServer(a.baseCtx, a.Log, metricsAddr())
	a.metrics.StartJobQueueCollector(a.baseCtx, a.Log, a.DB.DB())
	if addr := a.Config.Redis.Addr; addr != "" {
		a.metrics.StartRedisCollector(a.baseCtx, a.Log, addr)
	}
	a.metrics.StartSLOEvaluator(a.baseCtx, a.Log)
}

// stop order matters: stop intake first, then drain workers, then cut
// the background loops and flush exporters.
func (a *App) stop() {
	timeout := a.Config.HTTP.ShutdownTimeout.Duration
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("HTTP shutdown incomplete", "error", err)
	}
	a.Scheduler.Stop()
	a.Close()
}

// Close releases what New opened. Run's shutdown path calls it after
// draining; CLI callers that never serve call it directly.
func (a *App) Close() {
	a.baseCancel()
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.Log.Warn("event bus close failed", "error", err)
		}
	}
	if a.otelStop != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelStop(flushCtx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	if err := a.DB.Close(); err != nil {
		a.Log.Warn("db close failed", "error", err)
	}
	a.Log.Sync()
}
