// Package observability carries the in-house metrics registry, the SLO
// evaluator and tracing init. Metrics are process-global and gated on
// METRICS_ENABLED; a nil *Metrics is safe to call everywhere.
package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge
	apiReqTotal *Counter
	apiReqError *Counter
	apiReqGood  *Counter

	webhookTotal *CounterVec

	jobsCreated    *Counter
	jobTransitions *CounterVec
	jobsTerminal   *CounterVec
	jobsDone       *Counter
	jobsFailed     *Counter
	jobDuration    *HistogramVec

	stageDuration *HistogramVec
	stageTotal    *Counter
	stageError    *Counter

	providerCalls   *CounterVec
	providerLatency *HistogramVec
	providerCost    *CounterVec

	derivativesProduced *Counter
	derivativesFailed   *Counter

	queueDepth *GaugeVec
	jobsActive *Gauge

	redisUp   *Gauge
	redisPing *Gauge

	sloCompliance *GaugeVec
	sloBudget     *GaugeVec
	sloBurn       *GaugeVec

	sloLatencyThreshold float64
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		latencyThreshold := 0.5
		if v := strings.TrimSpace(os.Getenv("SLO_API_LATENCY_THRESHOLD_SECONDS")); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				latencyThreshold = f
			}
		}
		instance = &Metrics{
			apiRequests: NewCounterVec("darkroom_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
			apiLatency: NewHistogramVec(
				"darkroom_api_request_duration_seconds",
				"API request latency in seconds by method/route/status.",
				[]string{"method", "route", "status"},
				[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			),
			apiInflight: NewGauge("darkroom_api_inflight_requests", "In-flight API requests."),
			apiReqTotal: NewCounter("darkroom_api_requests_total_all", "Total API requests (all)."),
			apiReqError: NewCounter("darkroom_api_requests_error_total", "Total API requests with 5xx status."),
			apiReqGood:  NewCounter("darkroom_api_requests_good_latency_total", "Total API requests under SLO latency threshold."),

			webhookTotal: NewCounterVec("darkroom_webhook_requests_total", "Webhook ingest outcomes.", []string{"outcome"}),

			jobsCreated:    NewCounter("darkroom_jobs_created_total", "Jobs created via webhook."),
			jobTransitions: NewCounterVec("darkroom_job_transitions_total", "Job transitions by target status.", []string{"to"}),
			jobsTerminal:   NewCounterVec("darkroom_jobs_terminal_total", "Jobs reaching a terminal status.", []string{"status"}),
			jobsDone:       NewCounter("darkroom_jobs_done_total", "Jobs completing DONE."),
			jobsFailed:     NewCounter("darkroom_jobs_failed_total", "Jobs ending FAILED."),
			jobDuration: NewHistogramVec(
				"darkroom_job_duration_seconds",
				"End-to-end job duration in seconds by terminal status.",
				[]string{"status"},
				[]float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			),

			stageDuration: NewHistogramVec(
				"darkroom_stage_duration_seconds",
				"Pipeline stage duration in seconds by stage/status.",
				[]string{"stage", "status"},
				nil,
			),
			stageTotal: NewCounter("darkroom_stage_total_all", "Pipeline stage executions (all)."),
			stageError: NewCounter("darkroom_stage_error_total", "Pipeline stage executions that failed."),

			providerCalls: NewCounterVec("darkroom_provider_requests_total", "Provider calls by provider/operation/status.", []string{"provider", "operation", "status"}),
			providerLatency: NewHistogramVec(
				"darkroom_provider_request_duration_seconds",
				"Provider call latency in seconds by provider/operation/status.",
				[]string{"provider", "operation", "status"},
				[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			),
			providerCost: NewCounterVec("darkroom_provider_cost_usd_total", "Accumulated provider cost (USD) by provider.", []string{"provider"}),

			derivativesProduced: NewCounter("darkroom_derivatives_produced_total", "Derivative renditions uploaded."),
			derivativesFailed:   NewCounter("darkroom_derivatives_failed_total", "Derivative renditions that failed."),

			queueDepth: NewGaugeVec("darkroom_jobs_by_status", "Jobs by current status.", []string{"status"}),
			jobsActive: NewGauge("darkroom_jobs_active", "Jobs in a non-terminal status."),

			redisUp:   NewGauge("darkroom_redis_up", "Redis reachability (1 up, 0 down)."),
			redisPing: NewGauge("darkroom_redis_ping_seconds", "Last redis ping round-trip in seconds."),

			sloCompliance: NewGaugeVec("darkroom_slo_compliance_ratio", "SLI over the rolling window by slo/window.", []string{"slo", "window"}),
			sloBudget:     NewGaugeVec("darkroom_slo_error_budget_remaining", "Remaining error budget by slo/window.", []string{"slo", "window"}),
			sloBurn:       NewGaugeVec("darkroom_slo_burn_rate", "Error budget burn rate by slo/window.", []string{"slo", "window"}),

			sloLatencyThreshold: latencyThreshold,
		}
		if log != nil {
			log.Info("metrics registry initialized")
		}
	})
	return instance
}

// StartServer serves the exposition on its own listener when a
// dedicated metrics port is configured. The main router also mounts
// WriteHTTP at /metrics.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.apiReqTotal, m.apiReqError, m.apiReqGood,
		m.webhookTotal,
		m.jobsCreated, m.jobTransitions, m.jobsTerminal,
		m.jobsDone, m.jobsFailed, m.jobDuration,
		m.stageDuration, m.stageTotal, m.stageError,
		m.providerCalls, m.providerLatency, m.providerCost,
		m.derivativesProduced, m.derivativesFailed,
		m.queueDepth, m.jobsActive,
		m.redisUp, m.redisPing,
		m.sloCompliance, m.sloBudget, m.sloBurn,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	m.apiReqTotal.Inc()
	if isServerErrorStatus(status) {
		m.apiReqError.Inc()
	}
	if dur.Seconds() <= m.sloLatencyThreshold {
		m.apiReqGood.Inc()
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveWebhook counts one ingest request by outcome (created,
// duplicate, invalid, unauthorized, too_large, limited, error).
func (m *Metrics) ObserveWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.Inc(outcome)
	if outcome == "created" {
		m.jobsCreated.Inc()
	}
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Observe(dur.Seconds(), stage, status)
	m.stageTotal.Inc()
	if isFailureStatus(status) {
		m.stageError.Inc()
	}
}

func (m *Metrics) IncJobTransition(to types.Status) {
	if m == nil {
		return
	}
	m.jobTransitions.Inc(string(to))
}

// ObserveJobTerminal records a job reaching DONE or FAILED together
// with its end-to-end wall time.
func (m *Metrics) ObserveJobTerminal(status types.Status, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobsTerminal.Inc(string(status))
	m.jobDuration.Observe(dur.Seconds(), string(status))
	switch status {
	case types.StatusDone:
		m.jobsDone.Inc()
	case types.StatusFailed:
		m.jobsFailed.Inc()
	}
}

func (m *Metrics) ObserveProviderCall(provider, operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.Inc(provider, operation, status)
	m.providerLatency.Observe(dur.Seconds(), provider, operation, status)
}

func (m *Metrics) AddProviderCost(provider string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.providerCost.Add(usd, provider)
}

func (m *Metrics) AddDerivativeOutcome(produced, failed int) {
	if m == nil {
		return
	}
	if produced > 0 {
		m.derivativesProduced.Add(float64(produced))
	}
	if failed > 0 {
		m.derivativesFailed.Add(float64(failed))
	}
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	interval := scrapeInterval()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// StartJobQueueCollector polls job counts by status into gauges. Gauges
// are zeroed each pass so emptied statuses do not go stale.
func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range types.AllStatuses() {
					m.queueDepth.Set(0, string(s))
				}
				var rows []struct {
					Status types.Status
					Count  int64
				}
				if err := db.WithContext(ctx).
					Model(&types.Job{}).
					Select("status, count(*) as count").
					Group("status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: job queue depth query failed", "error", err)
					}
					continue
				}
				var active int64
				for _, row := range rows {
					status := row.Status
					if status == "" {
						status = "unknown"
					}
					m.queueDepth.Set(float64(row.Count), string(status))
					if !row.Status.Terminal() {
						active += row.Count
					}
				}
				m.jobsActive.Set(float64(active))
			}
		}
	}()
}

func isServerErrorStatus(status string) bool {
	status = strings.TrimSpace(status)
	if len(status) < 3 {
		return false
	}
	return status[0] == '5'
}

func isFailureStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "failed", "error", "timeout", "panic":
		return true
	default:
		return false
	}
}
