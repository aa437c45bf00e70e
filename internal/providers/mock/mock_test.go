package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/providers"
	"github.com/darkroomhq/darkroom-backend/internal/themes"
)

func TestSegmentProducesUsableImages(t *testing.T) {
	p := New()
	res, err := p.RemoveBackground(context.Background(), providers.SegmentInput{SKU: "SKU-001"})
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	cut, _, err := imaging.Decode(res.Cutout)
	if err != nil {
		t.Fatalf("decode cutout: %v", err)
	}
	if !imaging.HasAlpha(cut) {
		t.Fatalf("mock cutout opaque")
	}
	if _, _, err := imaging.Decode(res.Mask); err != nil {
		t.Fatalf("decode mask: %v", err)
	}
	if p.SegmentCalls != 1 {
		t.Fatalf("calls: want=1 got=%d", p.SegmentCalls)
	}
}

func TestBackgroundAndErrorInjection(t *testing.T) {
	p := New()
	res, err := p.GenerateBackground(context.Background(), providers.BackgroundInput{
		Theme: themes.Theme{Palette: []string{"#102030"}},
		Width: 96, Height: 64,
	})
	if err != nil {
		t.Fatalf("background: %v", err)
	}
	img, _, err := imaging.Decode(res.Image)
	if err != nil {
		t.Fatalf("decode backdrop: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 96 || b.Dy() != 64 {
		t.Fatalf("size: want=96x64 got=%dx%d", b.Dx(), b.Dy())
	}

	boom := errors.New("boom")
	p.BackgroundErr = boom
	if _, err := p.GenerateBackground(context.Background(), providers.BackgroundInput{}); !errors.Is(err, boom) {
		t.Fatalf("injected error not returned: %v", err)
	}
	if p.BackgroundCalls != 2 {
		t.Fatalf("calls: want=2 got=%d", p.BackgroundCalls)
	}
}
