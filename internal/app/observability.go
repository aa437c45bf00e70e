package app

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/observability"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

// wireObservability initializes the metrics registry (METRICS_ENABLED
// gate) and tracing (OTEL_ENABLED gate). Config values seed the OTel
// env knobs when the environment leaves them unset, so env always
// wins. The returned service name is empty when tracing is off; the
// router uses that to skip its middleware.
func wireObservability(ctx context.Context, log *logger.Logger, cfg *config.Config) (*observability.Metrics, func(context.Context) error, string) {
	if v := strings.TrimSpace(cfg.Observability.OTLPEndpoint); v != "" && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		_ = os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", v)
	}
	if cfg.Observability.SampleRatio > 0 && os.Getenv("OTEL_SAMPLER_RATIO") == "" {
		_ = os.Setenv("OTEL_SAMPLER_RATIO", strconv.FormatFloat(cfg.Observability.SampleRatio, 'f', -1, 64))
	}

	metrics := observability.Init(log)

	otelStop := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Env,
	})

	tracingService := ""
	if otelStop != nil {
		tracingService = cfg.Observability.ServiceName
	}
	return metrics, otelStop, tracingService
}

func metricsAddr() string {
	return strings.TrimSpace(os.Getenv("METRICS_ADDR"))
}
