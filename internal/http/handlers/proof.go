package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darkroomhq/darkroom-backend/internal/http/response"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/proof"

	"github.com/darkroomhq/darkroom-backend/internal/data/repos"
)

type ProofHandler struct {
	log        *logger.Logger
	production bool
	jobs       repos.JobRepo
	sheets     *proof.Generator
}

func NewProofHandler(log *logger.Logger, production bool, jobs repos.JobRepo, sheets *proof.Generator) *ProofHandler {
	return &ProofHandler{
		log:        log.With("handler", "ProofHandler"),
		production: production,
		jobs:       jobs,
		sheets:     sheets,
	}
}

// GET /jobs/:id/proof
func (h *ProofHandler) ContactSheet(c *gin.Context) {
	job, err := h.jobs.GetByID(dbctx.Background(c.Request.Context()), c.Param("id"))
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	sheet, err := h.sheets.Render(c.Request.Context(), job)
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", sheet)
}
