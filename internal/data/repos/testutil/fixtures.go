package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
)

// SeedJob inserts a NEW job with a unique identity derived from n.
func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, n int) *types.Job {
	tb.Helper()
	j := &types.Job{
		ID:        uuid.NewString(),
		SKU:       fmt.Sprintf("SKU-%03d", n),
		SHA256:    fmt.Sprintf("%064d", n),
		Theme:     "spooky_glam",
		SourceURL: fmt.Sprintf("https://cdn.example.com/img/%d.jpg", n),
		Status:    types.StatusNew,
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

// SeedJobAt inserts a job with explicit status and identity parts.
func SeedJobAt(tb testing.TB, ctx context.Context, tx *gorm.DB, sku, sha, theme string, status types.Status) *types.Job {
	tb.Helper()
	j := &types.Job{
		ID:        uuid.NewString(),
		SKU:       sku,
		SHA256:    sha,
		Theme:     theme,
		SourceURL: "https://cdn.example.com/img/" + sha + ".jpg",
		Status:    status,
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

// SeedDoneJob inserts a DONE job completed elapsed before now, with the
// artifact keys a DONE row must carry.
func SeedDoneJob(tb testing.TB, ctx context.Context, tx *gorm.DB, n int, elapsed time.Duration) *types.Job {
	tb.Helper()
	now := time.Now()
	created := now.Add(-elapsed)
	j := &types.Job{
		ID:             uuid.NewString(),
		SKU:            fmt.Sprintf("SKU-%03d", n),
		SHA256:         fmt.Sprintf("%064d", n),
		Theme:          "spooky_glam",
		SourceURL:      fmt.Sprintf("https://cdn.example.com/img/%d.jpg", n),
		Status:         types.StatusDone,
		CutoutKey:      "cutouts/x/y.png",
		MaskKey:        "masks/x/y.png",
		BackgroundKeys: []string{"backgrounds/t/x/y_0.jpg"},
		CompositeKeys:  []string{"composites/t/x/y_1x1_0_master.jpg"},
		DerivativeKeys: []string{"derivatives/t/x/y/0_pdp.jpg"},
		ManifestKey:    "manifests/x/y-t.json",
		CreatedAt:      created,
		UpdatedAt:      created,
		CompletedAt:    &now,
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed done job: %v", err)
	}
	return j
}
