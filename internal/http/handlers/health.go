package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

type HealthHandler struct {
	log   *logger.Logger
	db    *gorm.DB
	store gcs.Service
}

func NewHealthHandler(log *logger.Logger, db *gorm.DB, store gcs.Service) *HealthHandler {
	return &HealthHandler{
		log:   log.With("handler", "HealthHandler"),
		db:    db,
		store: store,
	}
}

// GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if h.db != nil {
		if sqlDB, err := h.db.DB(); err != nil {
			checks["db"] = err.Error()
			healthy = false
		} else if err := sqlDB.PingContext(ctx); err != nil {
			checks["db"] = err.Error()
			healthy = false
		} else {
			checks["db"] = "ok"
		}
	}
	if h.store != nil {
		if _, err := h.store.Exists(ctx, "healthcheck"); err != nil {
			checks["store"] = err.Error()
			healthy = false
		} else {
			checks["store"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
		h.log.Warn("Health check degraded", "checks", checks)
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
