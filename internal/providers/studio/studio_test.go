package studio

import (
	"context"
	"testing"

	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/providers"
	"github.com/darkroomhq/darkroom-backend/internal/themes"
)

func testRenderer(t *testing.T) providers.BackgroundGenerator {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(log)
}

func TestGenerateBackgroundVariants(t *testing.T) {
	r := testRenderer(t)
	theme := themes.Theme{
		Name:    "slate",
		Prompt:  "dark slate surface",
		Palette: []string{"#3B3F42", "#2C2F31", "#1E2021"},
	}

	styles := map[int]string{0: "linear", 1: "radial"}
	for variant, wantStyle := range styles {
		res, err := r.GenerateBackground(context.Background(), providers.BackgroundInput{
			Theme:   theme,
			Variant: variant,
			Width:   320,
			Height:  240,
		})
		if err != nil {
			t.Fatalf("variant %d: %v", variant, err)
		}
		if res.CostUSD != 0 {
			t.Fatalf("variant %d: local renderer must be free, got cost %v", variant, res.CostUSD)
		}

		img, format, err := imaging.Decode(res.Image)
		if err != nil {
			t.Fatalf("variant %d decode: %v", variant, err)
		}
		if format != "jpeg" {
			t.Fatalf("variant %d format: want=jpeg got=%q", variant, format)
		}
		b := img.Bounds()
		if b.Dx() != 320 || b.Dy() != 240 {
			t.Fatalf("variant %d size: want=320x240 got=%dx%d", variant, b.Dx(), b.Dy())
		}
		if got := res.Metadata["style"]; got != wantStyle {
			t.Fatalf("variant %d style: want=%q got=%v", variant, wantStyle, got)
		}
	}
}

func TestGenerateBackgroundSolid(t *testing.T) {
	r := testRenderer(t)
	res, err := r.GenerateBackground(context.Background(), providers.BackgroundInput{
		Theme:   themes.Theme{Name: "flat", Prompt: "flat", Palette: []string{"#808080"}},
		Variant: 0,
		Width:   64,
		Height:  64,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := res.Metadata["style"]; got != "solid" {
		t.Fatalf("style: want=solid got=%v", got)
	}

	img, _, err := imaging.Decode(res.Image)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Vignette leaves the center untouched; JPEG shifts values slightly.
	r0, g0, b0, _ := img.At(32, 32).RGBA()
	for _, ch := range []uint32{r0 >> 8, g0 >> 8, b0 >> 8} {
		if ch < 0x78 || ch > 0x88 {
			t.Fatalf("center pixel drifted from palette: %02x", ch)
		}
	}
}

func TestThemePromptEmpty(t *testing.T) {
	r := testRenderer(t)
	if got := r.ThemePrompt(themes.Theme{Prompt: "anything"}); got != "" {
		t.Fatalf("local renderer prompt: want empty got=%q", got)
	}
}
