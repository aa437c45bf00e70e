package app

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/data/db"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos"
	httpapi "github.com/darkroomhq/darkroom-backend/internal/http"
	httpH "github.com/darkroomhq/darkroom-backend/internal/http/handlers"
	"github.com/darkroomhq/darkroom-backend/internal/observability"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/processor"
	"github.com/darkroomhq/darkroom-backend/internal/proof"
)

type Handlers struct {
	Webhook   *httpH.WebhookHandler
	Job       *httpH.JobHandler
	Proof     *httpH.ProofHandler
	Processor *httpH.ProcessorHandler
	Shopify   *httpH.ShopifyHandler
	Events    *httpH.EventsHandler
	Health    *httpH.HealthHandler
}

func wireHandlers(
	base context.Context,
	log *logger.Logger,
	cfg *config.Config,
	database *db.Service,
	store gcs.Service,
	reposet repos.All,
	rt realtimeSet,
	sched *processor.Scheduler,
	metrics *observability.Metrics,
) Handlers {
	log.Info("Wiring handlers...")
	production := cfg.IsProduction()
	return Handlers{
		Webhook:   httpH.NewWebhookHandler(log, cfg.Webhook, production, reposet.Jobs, metrics, rt.emitter),
		Job:       httpH.NewJobHandler(log, production, reposet.Jobs, store, cfg.Storage.PresignTTL.Duration, metrics, rt.emitter),
		Proof:     httpH.NewProofHandler(log, production, reposet.Jobs, proof.NewGenerator(log, store)),
		Processor: httpH.NewProcessorHandler(log, sched, base),
		Shopify:   httpH.NewShopifyHandler(log, production, reposet.ShopifyMap),
		Events:    httpH.NewEventsHandler(log, rt.hub),
		Health:    httpH.NewHealthHandler(log, database.DB(), store),
	}
}

func wireRouter(
	log *logger.Logger,
	cfg *config.Config,
	metrics *observability.Metrics,
	tracingService string,
	handlers Handlers,
) *gin.Engine {
	return httpapi.NewRouter(httpapi.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TracingService: tracingService,

		WebhookHandler:   handlers.Webhook,
		JobHandler:       handlers.Job,
		ProofHandler:     handlers.Proof,
		ProcessorHandler: handlers.Processor,
		ShopifyHandler:   handlers.Shopify,
		EventsHandler:    handlers.Events,
		HealthHandler:    handlers.Health,
	})
}
