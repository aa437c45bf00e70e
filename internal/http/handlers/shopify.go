package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/darkroomhq/darkroom-backend/internal/http/response"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"

	"github.com/darkroomhq/darkroom-backend/internal/data/repos"
)

type ShopifyHandler struct {
	log        *logger.Logger
	production bool
	maps       repos.ShopifyMapRepo
}

func NewShopifyHandler(log *logger.Logger, production bool, maps repos.ShopifyMapRepo) *ShopifyHandler {
	return &ShopifyHandler{
		log:        log.With("handler", "ShopifyHandler"),
		production: production,
		maps:       maps,
	}
}

// GET /shopify/mapping/:sku
func (h *ShopifyHandler) GetMapping(c *gin.Context) {
	mapping, err := h.maps.Get(dbctx.Background(c.Request.Context()), c.Param("sku"))
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	if mapping == nil {
		response.RespondError(c, http.StatusNotFound, "not_found",
			errors.New("no mapping for sku"))
		return
	}
	response.RespondOK(c, gin.H{"mapping": mapping})
}

type upsertMappingRequest struct {
	ProductID string `json:"productId"`
}

// PUT /shopify/mapping/:sku
func (h *ShopifyHandler) UpsertMapping(c *gin.Context) {
	var req upsertMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_product_id",
			errors.New("productId is required"))
		return
	}

	mapping, err := h.maps.Upsert(dbctx.Background(c.Request.Context()), c.Param("sku"), productID)
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	h.log.Info("Shopify mapping upserted", "sku", mapping.SKU, "product_id", mapping.ShopifyProductID)
	response.RespondOK(c, gin.H{"mapping": mapping})
}

// GET /shopify/mappings
func (h *ShopifyHandler) ListMappings(c *gin.Context) {
	limit := defaultListLimit
	offset := 0
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
		limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_offset",
				errors.New("offset must be a non-negative integer"))
			return
		}
		offset = n
	}

	mappings, total, err := h.maps.List(dbctx.Background(c.Request.Context()), limit, offset)
	if err != nil {
		response.RespondMapped(c, h.production, err)
		return
	}
	response.RespondOK(c, gin.H{
		"mappings": mappings,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}
