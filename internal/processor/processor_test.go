package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	jobsrepo "github.com/darkroomhq/darkroom-backend/internal/data/repos/jobs"
	metarepo "github.com/darkroomhq/darkroom-backend/internal/data/repos/meta"
	shopifyrepo "github.com/darkroomhq/darkroom-backend/internal/data/repos/shopify"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos/testutil"
	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/manifest"
	"github.com/darkroomhq/darkroom-backend/internal/pipeline"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/providers"
	"github.com/darkroomhq/darkroom-backend/internal/providers/mock"
	"github.com/darkroomhq/darkroom-backend/internal/realtime"
	"github.com/darkroomhq/darkroom-backend/internal/themes"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
)

const testSHA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type captureEmitter struct {
	mu   sync.Mutex
	msgs []realtime.SSEMessage
}

func (c *captureEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *captureEmitter) events() []realtime.SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]realtime.SSEEvent, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, m.Event)
	}
	return out
}

type env struct {
	jobs     jobsrepo.JobRepo
	meta     metarepo.MetaRepo
	maps     shopifyrepo.MapRepo
	store    *gcs.Memory
	provider *mock.Provider
	emitter  *captureEmitter
	sched    *Scheduler
}

func newEnv(t *testing.T, mutate func(*Deps)) *env {
	t.Helper()
	log := testutil.Logger(t)
	gdb := testutil.DB(t)

	e := &env{
		jobs:     jobsrepo.NewJobRepo(gdb, log),
		meta:     metarepo.NewMetaRepo(gdb, log),
		maps:     shopifyrepo.NewMapRepo(gdb, log),
		store:    gcs.NewMemory("darkroom-test"),
		provider: mock.New(),
		emitter:  &captureEmitter{},
	}

	sizes := []themes.Size{{Name: "thumb", Width: 64, Height: 64, Fit: "cover"}}
	formats := []themes.Format{{Name: "jpg", Quality: 90}}

	d := Deps{
		Config: config.ProcessorConfig{
			PollInterval:    config.Duration{Duration: 20 * time.Millisecond},
			Concurrency:     2,
			MaxRetries:      3,
			RetryBaseDelay:  config.Duration{Duration: time.Millisecond},
			NumBackgrounds:  2,
			DownloadTimeout: config.Duration{Duration: 5 * time.Second},
		},
		Log:         log,
		Jobs:        e.jobs,
		Meta:        e.meta,
		Maps:        e.maps,
		Store:       e.store,
		Segmenter:   e.provider,
		Generator:   e.provider,
		Compositor:  pipeline.NewCompositor(e.store, log, pipeline.DefaultCompositeOptions()),
		Derivatives: pipeline.NewDerivativeEngine(e.store, log, sizes, formats),
		Manifests:   manifest.NewBuilder(e.store, log, time.Hour),
		Emitter:     e.emitter,
	}
	if mutate != nil {
		mutate(&d)
	}
	e.sched = New(d)
	return e
}

// newSourceServer serves one JPEG for every path, standing in for the
// vendor CDN the webhook points at.
func newSourceServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 96, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 180, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.FormatJPEG, 90); err != nil {
		t.Fatalf("encode source: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing.jpg") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedNewJob(t *testing.T, e *env, sku, theme, sourceURL string) *types.Job {
	t.Helper()
	job, fresh, err := e.jobs.Create(dbctx.Background(context.Background()), &types.Job{
		SKU:       sku,
		SHA256:    testSHA,
		Theme:     theme,
		SourceURL: sourceURL,
		Status:    types.StatusNew,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if !fresh {
		t.Fatalf("create job: want a fresh row")
	}
	return job
}

func reload(t *testing.T, e *env, id string) *types.Job {
	t.Helper()
	job, err := e.jobs.GetByID(dbctx.Background(context.Background()), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return job
}

func TestRunJobHappyPath(t *testing.T) {
	e := newEnv(t, nil)
	srv := newSourceServer(t)
	job := seedNewJob(t, e, "SKU-001", "slate", srv.URL+"/img.jpg")

	e.sched.runJob(context.Background(), job)

	got := reload(t, e, job.ID)
	if got.Status != types.StatusDone {
		t.Fatalf("status: want=%s got=%s (code=%s message=%s)", types.StatusDone, got.Status, got.ErrorCode, got.ErrorMessage)
	}
	if got.CompletedAt == nil {
		t.Fatalf("completed_at: want set")
	}
	if got.OriginalKey != gcs.OriginalKey("SKU-001", testSHA) {
		t.Fatalf("original_key: want=%s got=%s", gcs.OriginalKey("SKU-001", testSHA), got.OriginalKey)
	}
	if got.CutoutKey == "" || got.MaskKey == "" {
		t.Fatalf("cutout/mask keys: want both set, got %q %q", got.CutoutKey, got.MaskKey)
	}
	if len(got.BackgroundKeys) != 2 {
		t.Fatalf("background_keys: want=2 got=%d", len(got.BackgroundKeys))
	}
	if len(got.CompositeKeys) != 2 {
		t.Fatalf("composite_keys: want=2 got=%d", len(got.CompositeKeys))
	}
	if len(got.DerivativeKeys) != 2 {
		t.Fatalf("derivative_keys: want=2 got=%d", len(got.DerivativeKeys))
	}
	wantManifest := gcs.ManifestKey("SKU-001", testSHA, "slate")
	if got.ManifestKey != wantManifest {
		t.Fatalf("manifest_key: want=%s got=%s", wantManifest, got.ManifestKey)
	}
	for name, v := range map[string]*int64{
		"download_ms":     got.DownloadMS,
		"segmentation_ms": got.SegmentationMS,
		"backgrounds_ms":  got.BackgroundsMS,
		"compositing_ms":  got.CompositingMS,
		"derivatives_ms":  got.DerivativesMS,
		"manifest_ms":     got.ManifestMS,
	} {
		if v == nil {
			t.Fatalf("%s: want recorded", name)
		}
	}
	wantCost := 0.01 + 2*0.005
	if diff := got.CostUSD - wantCost; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("cost_usd: want=%v got=%v", wantCost, got.CostUSD)
	}
	if e.provider.SegmentCalls != 1 || e.provider.BackgroundCalls != 2 {
		t.Fatalf("provider calls: want 1/2 got %d/%d", e.provider.SegmentCalls, e.provider.BackgroundCalls)
	}

	// originals + cutout + mask + 2 backgrounds + 2 composites +
	// 2 derivatives + manifest
	if e.store.Len() != 10 {
		t.Fatalf("stored objects: want=10 got=%d keys=%v", e.store.Len(), e.store.Keys())
	}

	raw, err := e.store.DownloadBytes(context.Background(), got.ManifestKey)
	if err != nil {
		t.Fatalf("download manifest: %v", err)
	}
	var doc manifest.Manifest
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if doc.Version != manifest.Version {
		t.Fatalf("manifest version: want=%s got=%s", manifest.Version, doc.Version)
	}
	if doc.Timing.Manifest == nil {
		t.Fatalf("manifest timing: want manifest_ms embedded in stored doc")
	}
	if len(doc.Derivatives) != 2 {
		t.Fatalf("manifest derivatives: want=2 got=%d", len(doc.Derivatives))
	}

	events := e.emitter.events()
	if len(events) != 6 {
		t.Fatalf("events: want=6 got=%d (%v)", len(events), events)
	}
	if events[len(events)-1] != realtime.SSEEventJobDone {
		t.Fatalf("last event: want=%s got=%s", realtime.SSEEventJobDone, events[len(events)-1])
	}
	for _, ev := range events[:len(events)-1] {
		if ev != realtime.SSEEventJobProgress {
			t.Fatalf("progress events: want=%s got=%s", realtime.SSEEventJobProgress, ev)
		}
	}

	push, ok := got.ProviderMetadata["shopifyPush"].(map[string]interface{})
	if !ok {
		t.Fatalf("provider_metadata.shopifyPush: want recorded, got %v", got.ProviderMetadata)
	}
	if push["pushed"] != false {
		t.Fatalf("shopifyPush.pushed: want=false got=%v", push["pushed"])
	}
}

func TestRunJobSegmentationFailureThenRetry(t *testing.T) {
	e := newEnv(t, nil)
	srv := newSourceServer(t)
	job := seedNewJob(t, e, "SKU-002", "marble", srv.URL+"/img.jpg")

	e.provider.SegmentErr = context.DeadlineExceeded
	e.sched.runJob(context.Background(), job)

	got := reload(t, e, job.ID)
	if got.Status != types.StatusFailed {
		t.Fatalf("status: want=%s got=%s", types.StatusFailed, got.Status)
	}
	if got.ErrorCode != types.KindSegmentFailed {
		t.Fatalf("error_code: want=%s got=%s", types.KindSegmentFailed, got.ErrorCode)
	}
	if got.Attempt != 0 {
		t.Fatalf("attempt after fail: want=0 got=%d", got.Attempt)
	}
	// The original upload survives the provider failure.
	if got.OriginalKey == "" || got.DownloadMS == nil {
		t.Fatalf("original artifacts: want persisted before the failure")
	}

	retried, err := e.jobs.Retry(dbctx.Background(context.Background()), job.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != types.StatusNew || retried.Attempt != 1 {
		t.Fatalf("retried row: want NEW/attempt=1 got %s/%d", retried.Status, retried.Attempt)
	}

	e.provider.SegmentErr = nil
	e.sched.runJob(context.Background(), retried)

	final := reload(t, e, job.ID)
	if final.Status != types.StatusDone {
		t.Fatalf("status after retry: want=%s got=%s (code=%s)", types.StatusDone, final.Status, final.ErrorCode)
	}
	if final.Attempt != 1 {
		t.Fatalf("attempt after retry: want=1 got=%d", final.Attempt)
	}
	events := e.emitter.events()
	if events[len(events)-1] != realtime.SSEEventJobDone {
		t.Fatalf("last event: want=%s got=%s", realtime.SSEEventJobDone, events[len(events)-1])
	}
}

func TestRunJobDownloadFailure(t *testing.T) {
	e := newEnv(t, nil)
	srv := newSourceServer(t)
	job := seedNewJob(t, e, "SKU-003", "slate", srv.URL+"/missing.jpg")

	e.sched.runJob(context.Background(), job)

	got := reload(t, e, job.ID)
	if got.Status != types.StatusFailed {
		t.Fatalf("status: want=%s got=%s", types.StatusFailed, got.Status)
	}
	if got.ErrorCode != types.KindDownloadFailed {
		t.Fatalf("error_code: want=%s got=%s", types.KindDownloadFailed, got.ErrorCode)
	}
	if !strings.Contains(got.ErrorMessage, "404") {
		t.Fatalf("error_message: want http status recorded, got %q", got.ErrorMessage)
	}
	if e.provider.SegmentCalls != 0 {
		t.Fatalf("segment calls: want=0 got=%d", e.provider.SegmentCalls)
	}
}

func TestRunJobUnknownTheme(t *testing.T) {
	e := newEnv(t, nil)
	srv := newSourceServer(t)
	job := seedNewJob(t, e, "SKU-004", "no-such-theme", srv.URL+"/img.jpg")

	e.sched.runJob(context.Background(), job)

	got := reload(t, e, job.ID)
	if got.Status != types.StatusFailed {
		t.Fatalf("status: want=%s got=%s", types.StatusFailed, got.Status)
	}
	if got.ErrorCode != types.KindValidation {
		t.Fatalf("error_code: want=%s got=%s", types.KindValidation, got.ErrorCode)
	}
}

type panicSegmenter struct{}

func (panicSegmenter) Name() string { return "panic" }

func (panicSegmenter) RemoveBackground(ctx context.Context, in providers.SegmentInput) (*providers.SegmentResult, error) {
	panic("segmenter exploded")
}

func TestRunJobPanicLandsFailedRow(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Segmenter = panicSegmenter{}
	})
	srv := newSourceServer(t)
	job := seedNewJob(t, e, "SKU-005", "slate", srv.URL+"/img.jpg")

	e.sched.runJob(context.Background(), job)

	got := reload(t, e, job.ID)
	if got.Status != types.StatusFailed {
		t.Fatalf("status: want=%s got=%s", types.StatusFailed, got.Status)
	}
	if got.ErrorCode != types.KindUnknown {
		t.Fatalf("error_code: want=%s got=%s", types.KindUnknown, got.ErrorCode)
	}
	if !strings.Contains(got.ErrorMessage, "segmenter exploded") {
		t.Fatalf("error_message: want panic value, got %q", got.ErrorMessage)
	}
	if got.ErrorStack == "" {
		t.Fatalf("error_stack: want captured stack")
	}
}

func TestRunJobEmbedsShopifyMapping(t *testing.T) {
	e := newEnv(t, nil)
	srv := newSourceServer(t)
	dbc := dbctx.Background(context.Background())
	if _, err := e.maps.Upsert(dbc, "SKU-006", "gid://shopify/Product/9"); err != nil {
		t.Fatalf("Upsert mapping: %v", err)
	}
	job := seedNewJob(t, e, "SKU-006", "linen", srv.URL+"/img.jpg")

	e.sched.runJob(context.Background(), job)

	got := reload(t, e, job.ID)
	if got.Status != types.StatusDone {
		t.Fatalf("status: want=%s got=%s (code=%s)", types.StatusDone, got.Status, got.ErrorCode)
	}
	raw, err := e.store.DownloadBytes(context.Background(), got.ManifestKey)
	if err != nil {
		t.Fatalf("download manifest: %v", err)
	}
	var doc manifest.Manifest
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if doc.ShopifyProductID != "gid://shopify/Product/9" {
		t.Fatalf("shopifyProductId: want=gid://shopify/Product/9 got=%q", doc.ShopifyProductID)
	}
	push, ok := got.ProviderMetadata["shopifyPush"].(map[string]interface{})
	if !ok {
		t.Fatalf("provider_metadata.shopifyPush: want recorded")
	}
	if push["productId"] != "gid://shopify/Product/9" {
		t.Fatalf("shopifyPush.productId: want mapping echoed, got %v", push["productId"])
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	e := newEnv(t, nil)
	srv := newSourceServer(t)
	job := seedNewJob(t, e, "SKU-007", "slate", srv.URL+"/img.jpg")

	ctx := context.Background()
	if !e.sched.Start(ctx) {
		t.Fatalf("Start: want=true got=false")
	}
	if e.sched.Start(ctx) {
		t.Fatalf("second Start: want=false got=true")
	}

	deadline := time.Now().Add(15 * time.Second)
	for {
		got := reload(t, e, job.ID)
		if got.Status == types.StatusDone {
			break
		}
		if got.Status == types.StatusFailed {
			t.Fatalf("job failed: code=%s message=%s", got.ErrorCode, got.ErrorMessage)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for DONE, status=%s", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	st := e.sched.Status()
	if !st.Running {
		t.Fatalf("Status.Running: want=true got=false")
	}
	if st.LastPollAt == nil {
		t.Fatalf("Status.LastPollAt: want set after first poll")
	}
	if st.Concurrency != 2 {
		t.Fatalf("Status.Concurrency: want=2 got=%d", st.Concurrency)
	}

	if _, ok, err := e.meta.GetTime(dbctx.Background(ctx), metarepo.KeyLastPollAt); err != nil || !ok {
		t.Fatalf("poll watermark: want recorded, ok=%v err=%v", ok, err)
	}

	if !e.sched.Stop() {
		t.Fatalf("Stop: want=true got=false")
	}
	if e.sched.Stop() {
		t.Fatalf("second Stop: want=false got=true")
	}
	if e.sched.Status().Running {
		t.Fatalf("Status.Running after Stop: want=false got=true")
	}
	if len(e.sched.Status().InFlight) != 0 {
		t.Fatalf("InFlight after Stop: want empty got=%v", e.sched.Status().InFlight)
	}
}
