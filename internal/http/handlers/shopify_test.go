package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/darkroomhq/darkroom-backend/internal/data/repos"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos/testutil"
)

func newShopifyEnv(t *testing.T) *ShopifyHandler {
	t.Helper()
	log := testutil.Logger(t)
	gdb := testutil.DB(t)
	return NewShopifyHandler(log, false, repos.NewShopifyMapRepo(gdb, log))
}

func TestMappingUpsertAndGet(t *testing.T) {
	h := newShopifyEnv(t)
	params := gin.Params{{Key: "sku", Value: "SKU-1"}}

	w := perform(h.GetMapping, http.MethodGet, "/shopify/mapping/SKU-1", nil, params)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get missing: want=%d got=%d", http.StatusNotFound, w.Code)
	}
	if code := errorCode(t, w); code != "not_found" {
		t.Fatalf("code: want=%q got=%q", "not_found", code)
	}

	body := []byte(`{"productId":"gid://shopify/Product/42"}`)
	w = perform(h.UpsertMapping, http.MethodPut, "/shopify/mapping/SKU-1", body, params)
	if w.Code != http.StatusOK {
		t.Fatalf("upsert: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	mapping := decodeBody(t, w)["mapping"].(map[string]any)
	if got := mapping["shopify_product_id"]; got != "gid://shopify/Product/42" {
		t.Fatalf("product id: want=%q got=%q", "gid://shopify/Product/42", got)
	}

	// Upsert again overwrites the product id for the same sku.
	body = []byte(`{"productId":"gid://shopify/Product/43"}`)
	w = perform(h.UpsertMapping, http.MethodPut, "/shopify/mapping/SKU-1", body, params)
	if w.Code != http.StatusOK {
		t.Fatalf("re-upsert: want=%d got=%d", http.StatusOK, w.Code)
	}

	w = perform(h.GetMapping, http.MethodGet, "/shopify/mapping/SKU-1", nil, params)
	if w.Code != http.StatusOK {
		t.Fatalf("get: want=%d got=%d", http.StatusOK, w.Code)
	}
	mapping = decodeBody(t, w)["mapping"].(map[string]any)
	if got := mapping["shopify_product_id"]; got != "gid://shopify/Product/43" {
		t.Fatalf("product id after overwrite: want=%q got=%q", "gid://shopify/Product/43", got)
	}

	w = perform(h.UpsertMapping, http.MethodPut, "/shopify/mapping/SKU-1", []byte(`{"productId":"   "}`), params)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank product id: want=%d got=%d", http.StatusBadRequest, w.Code)
	}
	if code := errorCode(t, w); code != "missing_product_id" {
		t.Fatalf("code: want=%q got=%q", "missing_product_id", code)
	}

	w = perform(h.UpsertMapping, http.MethodPut, "/shopify/mapping/SKU-1", []byte(`{"productId":`), params)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed json: want=%d got=%d", http.StatusBadRequest, w.Code)
	}
	if code := errorCode(t, w); code != "invalid_json" {
		t.Fatalf("code: want=%q got=%q", "invalid_json", code)
	}
}

func TestListMappings(t *testing.T) {
	h := newShopifyEnv(t)

	for i := 1; i <= 3; i++ {
		sku := fmt.Sprintf("SKU-%d", i)
		body := []byte(fmt.Sprintf(`{"productId":"gid://shopify/Product/%d"}`, i))
		w := perform(h.UpsertMapping, http.MethodPut, "/shopify/mapping/"+sku, body,
			gin.Params{{Key: "sku", Value: sku}})
		if w.Code != http.StatusOK {
			t.Fatalf("seed upsert %s: want=%d got=%d", sku, http.StatusOK, w.Code)
		}
	}

	w := perform(h.ListMappings, http.MethodGet, "/shopify/mappings?limit=2", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if total := resp["total"].(float64); total != 3 {
		t.Fatalf("total: want=3 got=%v", total)
	}
	if rows := resp["mappings"].([]any); len(rows) != 2 {
		t.Fatalf("rows: want=2 got=%d", len(rows))
	}

	w = perform(h.ListMappings, http.MethodGet, "/shopify/mappings?limit=0", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("zero limit: want=%d got=%d", http.StatusBadRequest, w.Code)
	}
	if code := errorCode(t, w); code != "invalid_limit" {
		t.Fatalf("code: want=%q got=%q", "invalid_limit", code)
	}

	w = perform(h.ListMappings, http.MethodGet, "/shopify/mappings?offset=-1", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative offset: want=%d got=%d", http.StatusBadRequest, w.Code)
	}
	if code := errorCode(t, w); code != "invalid_offset" {
		t.Fatalf("code: want=%q got=%q", "invalid_offset", code)
	}
}
