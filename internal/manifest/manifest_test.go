package manifest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gorm.io/datatypes"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
	"github.com/darkroomhq/darkroom-backend/internal/pipeline"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

func testBuilder(t *testing.T, store gcs.Service) *Builder {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewBuilder(store, log, time.Hour)
}

func ms(v int64) *int64 { return &v }

func fixtureJob() *types.Job {
	sha := strings.Repeat("b", 64)
	return &types.Job{
		ID:        "11111111-2222-3333-4444-555555555555",
		SKU:       "SKU-77",
		SHA256:    sha,
		Theme:     "slate",
		SourceURL: "https://cdn.example.com/original.jpg",
		Status:    types.StatusDerivatives,

		OriginalKey: gcs.OriginalKey("SKU-77", sha),
		CutoutKey:   gcs.CutoutKey("SKU-77", sha),
		MaskKey:     gcs.MaskKey("SKU-77", sha),
		BackgroundKeys: datatypes.JSONSlice[string]{
			gcs.BackgroundKey("slate", "SKU-77", sha, 0),
			gcs.BackgroundKey("slate", "SKU-77", sha, 1),
		},
		CompositeKeys: datatypes.JSONSlice[string]{
			gcs.CompositeKey("slate", "SKU-77", sha, "1x1", 0, "master", "jpg"),
			gcs.CompositeKey("slate", "SKU-77", sha, "1x1", 1, "master", "jpg"),
		},

		DownloadMS:     ms(120),
		SegmentationMS: ms(900),
		BackgroundsMS:  ms(2000),
		CompositingMS:  ms(400),
		DerivativesMS:  ms(600),

		CostUSD: 0.088,
		ProviderMetadata: datatypes.JSONMap{
			"segmentation": map[string]interface{}{"provider": "freepik"},
		},
		CreatedAt: time.Now().Add(-time.Minute),
		UpdatedAt: time.Now(),
	}
}

func fixtureInput(job *types.Job) Input {
	return Input{
		Derivatives: []pipeline.Derivative{
			{Variant: 0, Size: "thumb", Format: "jpg",
				Key:    gcs.DerivativeKey(job.Theme, job.SKU, job.SHA256, 0, "thumb", "jpg"),
				Width:  400, Height: 400, Bytes: 1024, Quality: 90},
			{Variant: 1, Size: "thumb", Format: "webp",
				Key:    gcs.DerivativeKey(job.Theme, job.SKU, job.SHA256, 1, "thumb", "webp"),
				Width:  400, Height: 400, Bytes: 812, Quality: 85},
		},
		SegmentationCost: 0.01,
		BackgroundCost:   0.078,
		ShopifyProductID: "gid://shopify/Product/42",
	}
}

func TestBuild(t *testing.T) {
	store := gcs.NewMemory("test")
	job := fixtureJob()
	m := testBuilder(t, store).Build(job, fixtureInput(job))

	if m.Version != "2.0" {
		t.Fatalf("version: want=2.0 got=%q", m.Version)
	}
	if m.JobID != job.ID || m.SKU != "SKU-77" || m.Theme != "slate" {
		t.Fatalf("identity fields: %+v", m)
	}
	if m.Original.SourceURL != job.SourceURL {
		t.Fatalf("sourceUrl: got=%q", m.Original.SourceURL)
	}
	if m.Original.Key != job.OriginalKey || !strings.Contains(m.Original.URL, "sig=get") {
		t.Fatalf("original not presigned: %+v", m.Original)
	}
	if m.BackgroundRemoval.Cutout.Key != job.CutoutKey || m.BackgroundRemoval.Mask.Key != job.MaskKey {
		t.Fatalf("backgroundRemoval keys: %+v", m.BackgroundRemoval)
	}

	if len(m.Backgrounds) != 2 || m.Backgrounds[1].Variant != 1 {
		t.Fatalf("backgrounds: %+v", m.Backgrounds)
	}
	if len(m.Composites) != 2 || m.Composites[0].Key != job.CompositeKeys[0] {
		t.Fatalf("composites: %+v", m.Composites)
	}
	if len(m.Derivatives) != 2 || m.Derivatives[0].Width != 400 || m.Derivatives[1].Format != "webp" {
		t.Fatalf("derivatives: %+v", m.Derivatives)
	}
	for _, d := range m.Derivatives {
		if d.URL == "" || d.Key == "" {
			t.Fatalf("derivative missing key/url: %+v", d)
		}
	}

	if m.Timing.Manifest != nil {
		t.Fatalf("timing.manifest should be unset before publish")
	}
	if m.Timing.Total != 120+900+2000+400+600 {
		t.Fatalf("timing.total: got=%d", m.Timing.Total)
	}
	if m.Costs.Segmentation != 0.01 || m.Costs.BackgroundGeneration != 0.078 || m.Costs.Total != 0.088 {
		t.Fatalf("costs: %+v", m.Costs)
	}
	if m.ShopifyProductID != "gid://shopify/Product/42" {
		t.Fatalf("shopifyProductId: %q", m.ShopifyProductID)
	}
	if m.ProviderMetadata == nil {
		t.Fatalf("providerMetadata dropped")
	}
	if m.Error != nil {
		t.Fatalf("error should be nil on a healthy job")
	}
}

func TestPublish(t *testing.T) {
	store := gcs.NewMemory("test")
	job := fixtureJob()
	m, err := testBuilder(t, store).Publish(context.Background(), job, fixtureInput(job))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	wantKey := "manifests/SKU-77/" + job.SHA256 + "-slate.json"
	if job.ManifestKey != wantKey {
		t.Fatalf("manifest_key: want=%q got=%q", wantKey, job.ManifestKey)
	}
	if job.ManifestMS == nil {
		t.Fatalf("manifest_ms not stamped")
	}
	if m.Timing.Manifest == nil {
		t.Fatalf("returned manifest missing its own timing")
	}

	raw, err := store.DownloadBytes(context.Background(), wantKey)
	if err != nil {
		t.Fatalf("download manifest: %v", err)
	}
	if ct := store.ContentType(wantKey); ct != "application/json" {
		t.Fatalf("content type: got=%q", ct)
	}

	var stored Manifest
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("unmarshal stored manifest: %v", err)
	}
	if stored.Version != "2.0" || stored.Timing.Manifest == nil {
		t.Fatalf("stored manifest not final: version=%q timing=%+v", stored.Version, stored.Timing)
	}
	if stored.Timing.Total != m.Timing.Total {
		t.Fatalf("timing total mismatch: stored=%d built=%d", stored.Timing.Total, m.Timing.Total)
	}
	if len(stored.Derivatives) != 2 || stored.Derivatives[0].Size != "thumb" {
		t.Fatalf("stored derivatives: %+v", stored.Derivatives)
	}
}

func TestPublishPropagatesUploadFailure(t *testing.T) {
	store := failStore{}
	job := fixtureJob()
	_, err := testBuilder(t, store).Publish(context.Background(), job, Input{})
	if err == nil {
		t.Fatalf("expected upload failure")
	}
	if kind := types.KindOf(err); kind != types.KindManifestFailed {
		t.Fatalf("kind: want=%s got=%s", types.KindManifestFailed, kind)
	}
}

// failStore rejects every write.
type failStore struct{ gcs.Service }

func (failStore) UploadBuffer(ctx context.Context, key string, data []byte, contentType string) error {
	return context.DeadlineExceeded
}

func (failStore) PresignedGetURL(key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (failStore) PublicURL(key string) string { return "https://public.example/" + key }
