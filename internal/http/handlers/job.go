package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/darkroomhq/darkroom-backend/internal/http/response"
	"github.com/darkroomhq/darkroom-backend/internal/observability"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
	"github.com/darkroomhq/darkroom-backend/internal/platform/apierr"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/realtime"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	defaultPruneDays = 30
)

type JobHandler struct {
	log        *logger.Logger
	production bool
	jobs       repos.JobRepo
	store      gcs.Service
	presignTTL time.Duration
	metrics    *observability.Metrics
	emitter    realtime.Emitter
}

func NewJobHandler(
	log *logger.Logger,
	production bool,
	jobs repos.JobRepo,
	store gcs.Service,
	presignTTL time.Duration,
	metrics *observability.Metrics,
	emitter realtime.Emitter,
) *JobHandler {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &JobHandler{
		log:        log.With("handler", "JobHandler"),
		production: production,
		jobs:       jobs,
		store:      store,
		presignTTL: presignTTL,
		metrics:    metrics,
		emitter:    emitter,
	}
}

// GET /jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	filter := repos.JobFilter{
		SKU:    strings.TrimSpace(c.Query("sku")),
		Theme:  strings.TrimSpace(c.Query("theme")),
		Limit:  defaultListLimit,
		Offset: 0,
	}
	if s := strings.TrimSpace(c.Query("status")); s != "" {
		status := types.Status(s)
		if !types.KnownStatus(status) {
			response.RespondError(c, http.StatusBadRequest, "unknown_status",
				fmt.Errorf("unknown status %q", s))
			return
		}
		filter.Status = status
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit",
				errors.New("limit must be a positive integer"))
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_offset",
				errors.New("offset must be a non-negative integer"))
			return
		}
		filter.Offset = n
	}

	jobs, total, err := h.jobs.List(dbctx.Background(c.Request.Context()), filter)
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	response.RespondOK(c, gin.H{
		"jobs":   jobs,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GET /jobs/:id
// Also serves /jobs/stats; the router cannot hold a static sibling next
// to the :id wildcard.
func (h *JobHandler) GetJob(c *gin.Context) {
	id := c.Param("id")
	if id == "stats" {
		h.Stats(c)
		return
	}
	job, err := h.jobs.GetByID(dbctx.Background(c.Request.Context()), id)
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /jobs/:id/retry
func (h *JobHandler) RetryJob(c *gin.Context) {
	job, err := h.jobs.Retry(dbctx.Background(c.Request.Context()), c.Param("id"))
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	h.metrics.IncJobTransition(types.StatusNew)
	if h.emitter != nil {
		h.emitter.Emit(c.Request.Context(), realtime.JobMessage(realtime.SSEEventJobRetried, job))
	}
	h.log.Info("Job retried", "job_id", job.ID, "attempt", job.Attempt)
	response.RespondOK(c, gin.H{"job": job})
}

type failRequest struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// POST /jobs/:id/fail
func (h *JobHandler) FailJob(c *gin.Context) {
	var req failRequest
	// An empty body is fine; garbage is not.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
			return
		}
	}
	kind := types.KindUnknown
	if req.Code != "" {
		kind = types.ErrorKind(strings.ToUpper(strings.TrimSpace(req.Code)))
		if !types.KnownErrorKind(kind) {
			response.RespondError(c, http.StatusBadRequest, "unknown_error_code",
				fmt.Errorf("unknown error code %q", req.Code))
			return
		}
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = "administratively failed"
	}

	job, err := h.jobs.Fail(dbctx.Background(c.Request.Context()), c.Param("id"), kind, message, "")
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	h.metrics.IncJobTransition(types.StatusFailed)
	if h.emitter != nil {
		h.emitter.Emit(c.Request.Context(), realtime.JobMessage(realtime.SSEEventJobFailed, job))
	}
	h.log.Info("Job failed administratively", "job_id", job.ID, "error_code", job.ErrorCode)
	response.RespondOK(c, gin.H{"job": job})
}

// GET /jobs/:id/presign?type=&index=
func (h *JobHandler) PresignArtifact(c *gin.Context) {
	job, err := h.jobs.GetByID(dbctx.Background(c.Request.Context()), c.Param("id"))
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}

	artifactType := strings.ToLower(strings.TrimSpace(c.Query("type")))
	index := 0
	if v := c.Query("index"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_index",
				errors.New("index must be a non-negative integer"))
			return
		}
		index = n
	}

	key, err := artifactKey(job, artifactType, index)
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	url, err := h.store.PresignedGetURL(key, h.presignTTL)
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	response.RespondOK(c, gin.H{
		"key":        key,
		"url":        url,
		"expires_in": int64(h.presignTTL.Seconds()),
	})
}

// artifactKey resolves a named artifact to the stored object key.
func artifactKey(job *types.Job, artifactType string, index int) (string, error) {
	pick := func(key string) (string, error) {
		if key == "" {
			return "", apierr.NotFound("artifact_not_ready",
				fmt.Errorf("%s not produced yet", artifactType))
		}
		return key, nil
	}
	pickIndexed := func(keys []string) (string, error) {
		if index >= len(keys) {
			return "", apierr.BadRequest("index_out_of_range",
				fmt.Errorf("index %d out of range (%d keys)", index, len(keys)))
		}
		return pick(keys[index])
	}

	switch artifactType {
	case "original":
		return pick(job.OriginalKey)
	case "cutout":
		return pick(job.CutoutKey)
	case "mask":
		return pick(job.MaskKey)
	case "background":
		return pickIndexed(job.BackgroundKeys)
	case "composite":
		return pickIndexed(job.CompositeKeys)
	case "derivative":
		return pickIndexed(job.DerivativeKeys)
	case "manifest":
		return pick(job.ManifestKey)
	default:
		return "", apierr.BadRequest("unknown_artifact_type",
			fmt.Errorf("unknown artifact type %q", artifactType))
	}
}

// GET /jobs/stats
func (h *JobHandler) Stats(c *gin.Context) {
	stats, err := h.jobs.Stats(dbctx.Background(c.Request.Context()))
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	response.RespondOK(c, gin.H{"stats": stats})
}

// POST /admin/jobs/prune?older_than_days=
func (h *JobHandler) PruneJobs(c *gin.Context) {
	days := defaultPruneDays
	if v := c.Query("older_than_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			response.RespondError(c, http.StatusBadRequest, "invalid_older_than_days",
				errors.New("older_than_days must be a positive integer"))
			return
		}
		days = n
	}
	pruned, err := h.jobs.PruneTerminal(dbctx.Background(c.Request.Context()),
		time.Duration(days)*24*time.Hour)
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	h.log.Info("Pruned terminal jobs", "older_than_days", days, "pruned", pruned)
	response.RespondOK(c, gin.H{"pruned": pruned, "older_than_days": days})
}
