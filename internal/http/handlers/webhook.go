package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/http/response"
	"github.com/darkroomhq/darkroom-backend/internal/observability"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/realtime"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos"
)

var (
	skuPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	sha256Pattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// webhookPayload is the inbound shape. Unknown fields are ignored.
type webhookPayload struct {
	Event    string `json:"event"`
	SKU      string `json:"sku"`
	ImageURL string `json:"imageUrl"`
	SHA256   string `json:"sha256"`
	TakenAt  string `json:"takenAt"`
}

type WebhookHandler struct {
	log        *logger.Logger
	cfg        config.WebhookConfig
	production bool
	jobs       repos.JobRepo
	metrics    *observability.Metrics
	emitter    realtime.Emitter
}

func NewWebhookHandler(
	log *logger.Logger,
	cfg config.WebhookConfig,
	production bool,
	jobs repos.JobRepo,
	metrics *observability.Metrics,
	emitter realtime.Emitter,
) *WebhookHandler {
	return &WebhookHandler{
		log:        log.With("handler", "WebhookHandler"),
		cfg:        cfg,
		production: production,
		jobs:       jobs,
		metrics:    metrics,
		emitter:    emitter,
	}
}

// POST /webhooks/source/images
func (h *WebhookHandler) Ingest(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	if !h.verifySignature(c, body) {
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.metrics.ObserveWebhook("invalid")
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if fields := validatePayload(&payload); len(fields) > 0 {
		h.metrics.ObserveWebhook("invalid")
		response.RespondFieldErrors(c, fields)
		return
	}

	dbc := dbctx.Background(c.Request.Context())
	if h.cfg.MaxImagesPerSKU > 0 {
		reached, err := h.jobs.HasReachedImageLimit(dbc, payload.SKU, h.cfg.MaxImagesPerSKU)
		if err != nil {
			h.metrics.ObserveWebhook("error")
			response.RespondMapped(c, h.production, err)
			return
		}
		if reached {
			h.metrics.ObserveWebhook("limited")
			response.RespondError(c, http.StatusTooManyRequests, "sku_limit_reached",
				errors.New("active image limit reached for sku"))
			return
		}
	}

	job := &types.Job{
		SKU:       payload.SKU,
		SHA256:    strings.ToLower(payload.SHA256),
		Theme:     h.cfg.DefaultTheme,
		SourceURL: payload.ImageURL,
		Status:    types.StatusNew,
	}
	job, created, err := h.jobs.Create(dbc, job)
	if err != nil {
		h.metrics.ObserveWebhook("error")
		response.RespondMapped(c, h.production, err)
		return
	}

	if created {
		h.recordWebhookMetadata(dbc, job.ID, &payload)
		h.metrics.ObserveWebhook("created")
		if h.emitter != nil {
			h.emitter.Emit(c.Request.Context(), realtime.JobMessage(realtime.SSEEventJobCreated, job))
		}
		h.log.Info("Job created", "job_id", job.ID, "sku", job.SKU, "theme", job.Theme)
		c.JSON(http.StatusCreated, gin.H{"jobId": job.ID, "status": "created"})
		return
	}

	h.metrics.ObserveWebhook("duplicate")
	h.log.Info("Duplicate webhook", "job_id", job.ID, "sku", job.SKU)
	c.JSON(http.StatusOK, gin.H{"jobId": job.ID, "status": "duplicate"})
}

// readBody drains the request under the configured cap. Overflow kills
// the connection with a 413 before any parsing happens.
func (h *WebhookHandler) readBody(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.metrics.ObserveWebhook("too_large")
			response.RespondError(c, http.StatusRequestEntityTooLarge, "payload_too_large", err)
			c.Abort()
			return nil, false
		}
		h.metrics.ObserveWebhook("invalid")
		response.RespondError(c, http.StatusBadRequest, "body_read_failed", err)
		return nil, false
	}
	return body, true
}

// verifySignature enforces the HMAC contract: a configured secret always
// wins, a missing secret is a fault unless the explicit opt-out is set
// outside production.
func (h *WebhookHandler) verifySignature(c *gin.Context, body []byte) bool {
	secret := strings.TrimSpace(h.cfg.Secret)
	if secret == "" {
		if !h.production && h.cfg.AllowUnsigned {
			return true
		}
		h.metrics.ObserveWebhook("error")
		h.log.Error("Webhook secret missing", "production", h.production)
		response.RespondError(c, http.StatusInternalServerError, "webhook_misconfigured",
			errors.New("signature verification unavailable"))
		return false
	}

	header := h.cfg.SignatureHeader
	if header == "" {
		header = "x-source-signature"
	}
	got, err := hex.DecodeString(strings.TrimSpace(c.GetHeader(header)))
	if err != nil || len(got) == 0 {
		h.metrics.ObserveWebhook("unauthorized")
		response.RespondError(c, http.StatusUnauthorized, "invalid_signature",
			errors.New("missing or malformed signature"))
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		h.metrics.ObserveWebhook("unauthorized")
		response.RespondError(c, http.StatusUnauthorized, "invalid_signature",
			errors.New("signature mismatch"))
		return false
	}
	return true
}

func validatePayload(p *webhookPayload) map[string]string {
	fields := make(map[string]string)

	if !skuPattern.MatchString(p.SKU) {
		fields["sku"] = "must be 1-100 characters of [A-Za-z0-9_-]"
	}
	if u, err := url.Parse(p.ImageURL); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		fields["imageUrl"] = "must be an absolute http(s) URL"
	}
	if !sha256Pattern.MatchString(p.SHA256) {
		fields["sha256"] = "must be 64 hex characters"
	}
	if p.TakenAt != "" {
		if _, err := time.Parse(time.RFC3339, p.TakenAt); err != nil {
			fields["takenAt"] = "must be an ISO-8601 timestamp"
		}
	}
	return fields
}

// recordWebhookMetadata keeps the optional event/takenAt fields with the
// job. Best effort; a metadata write never fails the ingest.
func (h *WebhookHandler) recordWebhookMetadata(dbc dbctx.Context, jobID string, p *webhookPayload) {
	meta := make(map[string]interface{})
	if p.Event != "" {
		meta["event"] = p.Event
	}
	if p.TakenAt != "" {
		meta["takenAt"] = p.TakenAt
	}
	if len(meta) == 0 {
		return
	}
	entries := map[string]interface{}{"webhook": meta}
	if err := h.jobs.AppendProviderMetadata(dbc, jobID, entries); err != nil {
		h.log.Warn("Webhook metadata write failed", "job_id", jobID, "error", err)
	}
}
