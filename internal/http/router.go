package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/darkroomhq/darkroom-backend/internal/http/handlers"
	httpMW "github.com/darkroomhq/darkroom-backend/internal/http/middleware"
	"github.com/darkroomhq/darkroom-backend/internal/observability"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	AllowedOrigins []string

	// TracingService enables otelgin spans when non-empty.
	TracingService string

	WebhookHandler   *httpH.WebhookHandler
	JobHandler       *httpH.JobHandler
	ProofHandler     *httpH.ProofHandler
	ProcessorHandler *httpH.ProcessorHandler
	ShopifyHandler   *httpH.ShopifyHandler
	EventsHandler    *httpH.EventsHandler
	HealthHandler    *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachTraceContext())
	if cfg.TracingService != "" {
		r.Use(otelgin.Middleware(cfg.TracingService))
	}
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health + metrics
	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	// Ingress
	if cfg.WebhookHandler != nil {
		r.POST("/webhooks/source/images", cfg.WebhookHandler.Ingest)
	}

	// Jobs. /jobs/stats rides on the :id wildcard inside GetJob.
	if cfg.JobHandler != nil {
		r.GET("/jobs", cfg.JobHandler.ListJobs)
		r.GET("/jobs/:id", cfg.JobHandler.GetJob)
		r.GET("/jobs/:id/presign", cfg.JobHandler.PresignArtifact)
		r.POST("/jobs/:id/retry", cfg.JobHandler.RetryJob)
		r.POST("/jobs/:id/fail", cfg.JobHandler.FailJob)
		r.POST("/admin/jobs/prune", cfg.JobHandler.PruneJobs)
	}
	if cfg.ProofHandler != nil {
		r.GET("/jobs/:id/proof", cfg.ProofHandler.ContactSheet)
	}

	// Processor lifecycle
	if cfg.ProcessorHandler != nil {
		r.POST("/processor/start", cfg.ProcessorHandler.Start)
		r.POST("/processor/stop", cfg.ProcessorHandler.Stop)
		r.GET("/processor/status", cfg.ProcessorHandler.Status)
	}

	// Shopify mapping (admin)
	if cfg.ShopifyHandler != nil {
		r.GET("/shopify/mapping/:sku", cfg.ShopifyHandler.GetMapping)
		r.PUT("/shopify/mapping/:sku", cfg.ShopifyHandler.UpsertMapping)
		r.GET("/shopify/mappings", cfg.ShopifyHandler.ListMappings)
	}

	// Realtime (SSE)
	if cfg.EventsHandler != nil {
		r.GET("/events/jobs", cfg.EventsHandler.StreamJobs)
	}

	return r
}
