package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darkroomhq/darkroom-backend/internal/http/response"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/processor"
)

type ProcessorHandler struct {
	log   *logger.Logger
	sched *processor.Scheduler

	// base outlives any single request; the poll loop hangs off it.
	base context.Context
}

func NewProcessorHandler(log *logger.Logger, sched *processor.Scheduler, base context.Context) *ProcessorHandler {
	if base == nil {
		base = context.Background()
	}
	return &ProcessorHandler{
		log:   log.With("handler", "ProcessorHandler"),
		sched: sched,
		base:  base,
	}
}

// POST /processor/start
func (h *ProcessorHandler) Start(c *gin.Context) {
	if !h.sched.Start(h.base) {
		response.RespondError(c, http.StatusConflict, "already_running",
			errors.New("processor is already running"))
		return
	}
	h.log.Info("Processor started via API")
	response.RespondOK(c, h.sched.Status())
}

// POST /processor/stop
func (h *ProcessorHandler) Stop(c *gin.Context) {
	if !h.sched.Stop() {
		response.RespondError(c, http.StatusConflict, "not_running",
			errors.New("processor is not running"))
		return
	}
	h.log.Info("Processor stopped via API")
	response.RespondOK(c, h.sched.Status())
}

// GET /processor/status
func (h *ProcessorHandler) Status(c *gin.Context) {
	response.RespondOK(c, h.sched.Status())
}
