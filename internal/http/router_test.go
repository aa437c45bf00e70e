package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/darkroomhq/darkroom-backend/internal/data/repos"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos/testutil"
	httpH "github.com/darkroomhq/darkroom-backend/internal/http/handlers"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	log := testutil.Logger(t)
	gdb := testutil.DB(t)
	store := gcs.NewMemory("darkroom-test")
	jobs := repos.NewJobRepo(gdb, log)
	return NewRouter(RouterConfig{
		Log:           log,
		HealthHandler: httpH.NewHealthHandler(log, gdb, store),
		JobHandler:    httpH.NewJobHandler(log, false, jobs, store, time.Hour, nil, nil),
	})
}

func TestRouterDispatch(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/health: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}

	// /jobs/stats must reach the stats view, not a by-id lookup.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/jobs/stats: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	stats, ok := resp["stats"].(map[string]any)
	if !ok {
		t.Fatalf("stats envelope missing: %s", w.Body.String())
	}
	if total := stats["total"].(float64); total != 0 {
		t.Fatalf("total: want=0 got=%v", total)
	}

	// Anything else under the wildcard is a by-id lookup.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("/jobs/:id miss: want=%d got=%d body=%s", http.StatusNotFound, w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route: want=%d got=%d", http.StatusNotFound, w.Code)
	}
}
