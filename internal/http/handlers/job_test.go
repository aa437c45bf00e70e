package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos/testutil"
)

func newJobEnv(t *testing.T) (*JobHandler, repos.JobRepo, *gorm.DB, *gcs.Memory) {
	t.Helper()
	log := testutil.Logger(t)
	gdb := testutil.DB(t)
	jobs := repos.NewJobRepo(gdb, log)
	store := gcs.NewMemory("darkroom-test")
	h := NewJobHandler(log, false, jobs, store, time.Hour, nil, nil)
	return h, jobs, gdb, store
}

func perform(handler gin.HandlerFunc, method, target string, body []byte, params gin.Params) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = params
	handler(c)
	return w
}

func TestListJobsFilters(t *testing.T) {
	h, _, gdb, _ := newJobEnv(t)
	ctx := t.Context()

	testutil.SeedJobAt(t, ctx, gdb, "SKU-A", strings.Repeat("1", 64), "slate", types.StatusNew)
	testutil.SeedJobAt(t, ctx, gdb, "SKU-A", strings.Repeat("2", 64), "marble", types.StatusFailed)
	testutil.SeedJobAt(t, ctx, gdb, "SKU-B", strings.Repeat("3", 64), "slate", types.StatusNew)

	w := perform(h.ListJobs, http.MethodGet, "/jobs?sku=SKU-A", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if total := resp["total"].(float64); total != 2 {
		t.Fatalf("sku filter total: want=2 got=%v", total)
	}

	w = perform(h.ListJobs, http.MethodGet, "/jobs?status=FAILED", nil, nil)
	resp = decodeBody(t, w)
	if total := resp["total"].(float64); total != 1 {
		t.Fatalf("status filter total: want=1 got=%v", total)
	}

	w = perform(h.ListJobs, http.MethodGet, "/jobs?status=BOGUS", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bogus status: want=%d got=%d", http.StatusBadRequest, w.Code)
	}
	if code := errorCode(t, w); code != "unknown_status" {
		t.Fatalf("code: want=%q got=%q", "unknown_status", code)
	}

	w = perform(h.ListJobs, http.MethodGet, "/jobs?limit=1&offset=2", nil, nil)
	resp = decodeBody(t, w)
	if total := resp["total"].(float64); total != 3 {
		t.Fatalf("paged total: want=3 got=%v", total)
	}
	if jobs := resp["jobs"].([]any); len(jobs) != 1 {
		t.Fatalf("paged rows: want=1 got=%d", len(jobs))
	}
}

func TestGetJobAndStatsDispatch(t *testing.T) {
	h, _, gdb, _ := newJobEnv(t)
	seeded := testutil.SeedJob(t, t.Context(), gdb, 1)

	w := perform(h.GetJob, http.MethodGet, "/jobs/"+seeded.ID, nil,
		gin.Params{{Key: "id", Value: seeded.ID}})
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	job := decodeBody(t, w)["job"].(map[string]any)
	if job["id"] != seeded.ID {
		t.Fatalf("job id: want=%q got=%v", seeded.ID, job["id"])
	}

	w = perform(h.GetJob, http.MethodGet, "/jobs/nope", nil,
		gin.Params{{Key: "id", Value: "nope"}})
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing job: want=%d got=%d", http.StatusNotFound, w.Code)
	}
	if code := errorCode(t, w); code != "not_found" {
		t.Fatalf("code: want=%q got=%q", "not_found", code)
	}

	// The stats path shares the :id wildcard.
	w = perform(h.GetJob, http.MethodGet, "/jobs/stats", nil,
		gin.Params{{Key: "id", Value: "stats"}})
	if w.Code != http.StatusOK {
		t.Fatalf("stats status: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	stats := decodeBody(t, w)["stats"].(map[string]any)
	if total := stats["total"].(float64); total != 1 {
		t.Fatalf("stats total: want=1 got=%v", total)
	}
}

func TestRetryJob(t *testing.T) {
	h, jobs, gdb, _ := newJobEnv(t)
	ctx := t.Context()

	failed := testutil.SeedJobAt(t, ctx, gdb, "SKU-R", strings.Repeat("4", 64), "slate", types.StatusFailed)
	w := perform(h.RetryJob, http.MethodPost, "/jobs/"+failed.ID+"/retry", nil,
		gin.Params{{Key: "id", Value: failed.ID}})
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	reloaded, err := jobs.GetByID(dbctx.Background(ctx), failed.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != types.StatusNew {
		t.Fatalf("status after retry: want=%q got=%q", types.StatusNew, reloaded.Status)
	}
	if reloaded.Attempt != 1 {
		t.Fatalf("attempt after retry: want=1 got=%d", reloaded.Attempt)
	}

	fresh := testutil.SeedJobAt(t, ctx, gdb, "SKU-R2", strings.Repeat("5", 64), "slate", types.StatusNew)
	w = perform(h.RetryJob, http.MethodPost, "/jobs/"+fresh.ID+"/retry", nil,
		gin.Params{{Key: "id", Value: fresh.ID}})
	if w.Code != http.StatusConflict {
		t.Fatalf("retry NEW: want=%d got=%d body=%s", http.StatusConflict, w.Code, w.Body.String())
	}
	if code := errorCode(t, w); code != "invalid_transition" {
		t.Fatalf("code: want=%q got=%q", "invalid_transition", code)
	}
}

func TestFailJob(t *testing.T) {
	h, jobs, gdb, _ := newJobEnv(t)
	ctx := t.Context()

	fresh := testutil.SeedJobAt(t, ctx, gdb, "SKU-F", strings.Repeat("6", 64), "slate", types.StatusNew)
	w := perform(h.FailJob, http.MethodPost, "/jobs/"+fresh.ID+"/fail",
		[]byte(`{"code":"validation","message":"admin says no"}`),
		gin.Params{{Key: "id", Value: fresh.ID}})
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	reloaded, err := jobs.GetByID(dbctx.Background(ctx), fresh.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != types.StatusFailed {
		t.Fatalf("status: want=%q got=%q", types.StatusFailed, reloaded.Status)
	}
	if reloaded.ErrorCode != types.KindValidation {
		t.Fatalf("error code: want=%q got=%q", types.KindValidation, reloaded.ErrorCode)
	}
	if reloaded.ErrorMessage != "admin says no" {
		t.Fatalf("error message: got=%q", reloaded.ErrorMessage)
	}

	second := testutil.SeedJobAt(t, ctx, gdb, "SKU-F2", strings.Repeat("7", 64), "slate", types.StatusNew)
	w = perform(h.FailJob, http.MethodPost, "/jobs/"+second.ID+"/fail", nil,
		gin.Params{{Key: "id", Value: second.ID}})
	if w.Code != http.StatusOK {
		t.Fatalf("empty body fail: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	reloaded, _ = jobs.GetByID(dbctx.Background(ctx), second.ID)
	if reloaded.ErrorCode != types.KindUnknown {
		t.Fatalf("default error code: want=%q got=%q", types.KindUnknown, reloaded.ErrorCode)
	}

	w = perform(h.FailJob, http.MethodPost, "/jobs/"+second.ID+"/fail",
		[]byte(`{"code":"NOT_A_CODE"}`),
		gin.Params{{Key: "id", Value: second.ID}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown code: want=%d got=%d", http.StatusBadRequest, w.Code)
	}

	done := testutil.SeedDoneJob(t, ctx, gdb, 90, time.Minute)
	w = perform(h.FailJob, http.MethodPost, "/jobs/"+done.ID+"/fail", nil,
		gin.Params{{Key: "id", Value: done.ID}})
	if w.Code != http.StatusConflict {
		t.Fatalf("fail DONE: want=%d got=%d body=%s", http.StatusConflict, w.Code, w.Body.String())
	}
}

func TestPresignArtifact(t *testing.T) {
	h, _, gdb, _ := newJobEnv(t)
	done := testutil.SeedDoneJob(t, t.Context(), gdb, 40, time.Minute)

	cases := []struct {
		query   string
		wantKey string
	}{
		{"type=cutout", done.CutoutKey},
		{"type=mask", done.MaskKey},
		{"type=background&index=0", done.BackgroundKeys[0]},
		{"type=composite&index=0", done.CompositeKeys[0]},
		{"type=derivative&index=0", done.DerivativeKeys[0]},
		{"type=manifest", done.ManifestKey},
	}
	for _, tc := range cases {
		w := perform(h.PresignArtifact, http.MethodGet,
			"/jobs/"+done.ID+"/presign?"+tc.query, nil,
			gin.Params{{Key: "id", Value: done.ID}})
		if w.Code != http.StatusOK {
			t.Fatalf("%s status: want=%d got=%d body=%s", tc.query, http.StatusOK, w.Code, w.Body.String())
		}
		resp := decodeBody(t, w)
		if resp["key"] != tc.wantKey {
			t.Fatalf("%s key: want=%q got=%v", tc.query, tc.wantKey, resp["key"])
		}
		url, _ := resp["url"].(string)
		if !strings.Contains(url, tc.wantKey) {
			t.Fatalf("%s url: %q does not reference key %q", tc.query, url, tc.wantKey)
		}
	}

	// The seeded DONE job has no original key, so that artifact reads
	// as not produced.
	w := perform(h.PresignArtifact, http.MethodGet,
		"/jobs/"+done.ID+"/presign?type=original", nil,
		gin.Params{{Key: "id", Value: done.ID}})
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing artifact: want=%d got=%d", http.StatusNotFound, w.Code)
	}
	if code := errorCode(t, w); code != "artifact_not_ready" {
		t.Fatalf("code: want=%q got=%q", "artifact_not_ready", code)
	}

	w = perform(h.PresignArtifact, http.MethodGet,
		"/jobs/"+done.ID+"/presign?type=background&index=9", nil,
		gin.Params{{Key: "id", Value: done.ID}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("index out of range: want=%d got=%d", http.StatusBadRequest, w.Code)
	}

	w = perform(h.PresignArtifact, http.MethodGet,
		"/jobs/"+done.ID+"/presign?type=thumbnail", nil,
		gin.Params{{Key: "id", Value: done.ID}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown type: want=%d got=%d", http.StatusBadRequest, w.Code)
	}
	if code := errorCode(t, w); code != "unknown_artifact_type" {
		t.Fatalf("code: want=%q got=%q", "unknown_artifact_type", code)
	}
}

func TestPruneJobs(t *testing.T) {
	h, jobs, gdb, _ := newJobEnv(t)
	ctx := t.Context()

	old := testutil.SeedDoneJob(t, ctx, gdb, 50, 60*24*time.Hour)
	recent := testutil.SeedDoneJob(t, ctx, gdb, 51, time.Hour)
	live := testutil.SeedJob(t, ctx, gdb, 52)

	w := perform(h.PruneJobs, http.MethodPost, "/admin/jobs/prune?older_than_days=30", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if pruned := resp["pruned"].(float64); pruned != 1 {
		t.Fatalf("pruned: want=1 got=%v", pruned)
	}

	if _, err := jobs.GetByID(dbctx.Background(ctx), old.ID); err == nil {
		t.Fatalf("old DONE job should be pruned")
	}
	if _, err := jobs.GetByID(dbctx.Background(ctx), recent.ID); err != nil {
		t.Fatalf("recent DONE job should survive: %v", err)
	}
	if _, err := jobs.GetByID(dbctx.Background(ctx), live.ID); err != nil {
		t.Fatalf("NEW job should survive: %v", err)
	}

	w = perform(h.PruneJobs, http.MethodPost, "/admin/jobs/prune?older_than_days=zero", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad days: want=%d got=%d", http.StatusBadRequest, w.Code)
	}
}
