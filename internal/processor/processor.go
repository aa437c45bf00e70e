// Package processor drives claimed jobs through the pipeline. A single
// polling scheduler claims NEW jobs and hands each to a worker
// goroutine that runs the stages strictly in order: segmentation,
// background synthesis, compositing, derivatives, manifest, push.
// Stage outputs persist before (or atomically with) the transition
// that requires them, so a crash never leaves a status ahead of its
// artifacts.
package processor

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	jobsrepo "github.com/darkroomhq/darkroom-backend/internal/data/repos/jobs"
	metarepo "github.com/darkroomhq/darkroom-backend/internal/data/repos/meta"
	shopifyrepo "github.com/darkroomhq/darkroom-backend/internal/data/repos/shopify"
	"github.com/darkroomhq/darkroom-backend/internal/manifest"
	"github.com/darkroomhq/darkroom-backend/internal/observability"
	"github.com/darkroomhq/darkroom-backend/internal/pipeline"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/providers"
	"github.com/darkroomhq/darkroom-backend/internal/realtime"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
)

// Deps carries everything a Scheduler needs. Log, Jobs, Meta, Store,
// Segmenter, Generator and the pipeline services are required; Maps,
// Emitter and Metrics may be nil.
type Deps struct {
	Config  config.ProcessorConfig
	Shopify config.ShopifyConfig
	Log     *logger.Logger

	Jobs  jobsrepo.JobRepo
	Meta  metarepo.MetaRepo
	Maps  shopifyrepo.MapRepo
	Store gcs.Service

	Segmenter   providers.Segmenter
	Generator   providers.BackgroundGenerator
	Compositor  *pipeline.Compositor
	Derivatives *pipeline.DerivativeEngine
	Manifests   *manifest.Builder

	Emitter realtime.Emitter
	Metrics *observability.Metrics

	// HTTPClient fetches source images. Defaults to a redirect-capped
	// client; timeouts come from Config.DownloadTimeout per request.
	HTTPClient *http.Client
}

// Status is the snapshot served by GET /processor/status.
type Status struct {
	Running      bool       `json:"running"`
	InFlight     []string   `json:"in_flight"`
	Concurrency  int        `json:"concurrency"`
	PollInterval string     `json:"poll_interval"`
	LastPollAt   *time.Time `json:"last_poll_at,omitempty"`
}

// Scheduler owns the poll loop and the in-flight set. All state lives
// on the value; Start/Stop may be cycled any number of times.
type Scheduler struct {
	cfg     config.ProcessorConfig
	shopify config.ShopifyConfig
	log     *logger.Logger

	jobs  jobsrepo.JobRepo
	meta  metarepo.MetaRepo
	maps  shopifyrepo.MapRepo
	store gcs.Service

	segmenter   providers.Segmenter
	generator   providers.BackgroundGenerator
	compositor  *pipeline.Compositor
	derivatives *pipeline.DerivativeEngine
	manifests   *manifest.Builder

	emitter realtime.Emitter
	metrics *observability.Metrics
	client  *http.Client

	mu       sync.Mutex
	running  bool
	inFlight map[string]struct{}
	lastPoll time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(d Deps) *Scheduler {
	cfg := d.Config
	if cfg.PollInterval.Duration <= 0 {
		cfg.PollInterval = config.Duration{Duration: 5 * time.Second}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.NumBackgrounds <= 0 {
		cfg.NumBackgrounds = 2
	}
	if cfg.DownloadTimeout.Duration <= 0 {
		cfg.DownloadTimeout = config.Duration{Duration: 60 * time.Second}
	}
	client := d.HTTPClient
	if client == nil {
		client = newDownloadClient()
	}
	return &Scheduler{
		cfg:         cfg,
		shopify:     d.Shopify,
		log:         d.Log.With("component", "Processor"),
		jobs:        d.Jobs,
		meta:        d.Meta,
		maps:        d.Maps,
		store:       d.Store,
		segmenter:   d.Segmenter,
		generator:   d.Generator,
		compositor:  d.Compositor,
		derivatives: d.Derivatives,
		manifests:   d.Manifests,
		emitter:     d.Emitter,
		metrics:     d.Metrics,
		client:      client,
		inFlight:    make(map[string]struct{}),
	}
}

// Start launches the poll loop. Returns false when already running.
// The loop stops when ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pollLoop(runCtx)

	s.log.Info("Processor started",
		"poll_interval", s.cfg.PollInterval.Duration.String(),
		"concurrency", s.cfg.Concurrency,
		"backgrounds", s.cfg.NumBackgrounds,
	)
	return true
}

// Stop cancels the loop and in-flight workers, then waits for them to
// unwind. Returns false when not running. Workers interrupted by the
// cancel leave their job in its current status; only NEW jobs are ever
// reclaimed, so interrupted rows wait for an operator.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Info("Processor stopped")
	return true
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.inFlight))
	for id := range s.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	st := Status{
		Running:      s.running,
		InFlight:     ids,
		Concurrency:  s.cfg.Concurrency,
		PollInterval: s.cfg.PollInterval.Duration.String(),
	}
	if !s.lastPoll.IsZero() {
		t := s.lastPoll
		st.LastPollAt = &t
	}
	return st
}

// Running reports the lifecycle state without copying the snapshot.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval.Duration)
	defer ticker.Stop()

	// First poll fires immediately so Start does not sit out a tick.
	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	s.mu.Lock()
	capacity := s.cfg.Concurrency - len(s.inFlight)
	exclude := make([]string, 0, len(s.inFlight))
	for id := range s.inFlight {
		exclude = append(exclude, id)
	}
	s.lastPoll = time.Now()
	s.mu.Unlock()

	dbc := dbctx.Background(ctx)
	if s.meta != nil {
		if err := s.meta.SetTime(dbc, metarepo.KeyLastPollAt, time.Now()); err != nil {
			s.log.Warn("Poll watermark write failed", "error", err)
		}
	}
	if capacity <= 0 {
		return
	}

	claimed, err := s.jobs.ClaimNew(dbc, capacity, exclude, s.cfg.RetryBaseDelay.Duration)
	if err != nil {
		s.log.Warn("Claim failed", "error", err)
		return
	}
	for _, job := range claimed {
		s.mu.Lock()
		if _, dup := s.inFlight[job.ID]; dup || len(s.inFlight) >= s.cfg.Concurrency {
			s.mu.Unlock()
			continue
		}
		s.inFlight[job.ID] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(job *types.Job) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.inFlight, job.ID)
				s.mu.Unlock()
			}()
			s.runJob(ctx, job)
		}(job)
	}
}

// afterTransition is the common bookkeeping behind every successful
// status move: transition counter plus the realtime broadcast.
func (s *Scheduler) afterTransition(ctx context.Context, job *types.Job) {
	s.metrics.IncJobTransition(job.Status)
	if s.emitter != nil {
		s.emitter.Emit(ctx, realtime.JobMessage(realtime.EventForStatus(job.Status), job))
	}
}
