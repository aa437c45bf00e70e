// Package studio is the local backdrop renderer: solid and gradient
// fills built from the theme palette. It needs no network, reports
// zero cost, and is the reference BackgroundGenerator.
package studio

import (
	"bytes"
	"context"
	"fmt"
	"image/color"

	"github.com/fogleman/gg"

	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/providers"
	"github.com/darkroomhq/darkroom-backend/internal/themes"
)

const (
	defaultSide = 1024
	jpegQuality = 90

	// Edge darkening strength for the vignette overlay.
	vignetteAlpha = 40
)

type renderer struct {
	log *logger.Logger
}

func New(log *logger.Logger) providers.BackgroundGenerator {
	return &renderer{log: log.With("service", "StudioRenderer")}
}

func (r *renderer) Name() string { return providers.NameStudio }

// ThemePrompt is empty: the renderer consumes the palette, not the
// prompt.
func (r *renderer) ThemePrompt(themes.Theme) string { return "" }

func (r *renderer) GenerateBackground(ctx context.Context, in providers.BackgroundInput) (*providers.BackgroundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := in.Width, in.Height
	if w <= 0 {
		w = defaultSide
	}
	if h <= 0 {
		h = defaultSide
	}

	colors := in.Theme.Colors()
	style := renderStyle(in.Variant, len(colors))

	dc := gg.NewContext(w, h)
	fw, fh := float64(w), float64(h)

	switch style {
	case "solid":
		dc.SetColor(colors[0])
		dc.DrawRectangle(0, 0, fw, fh)
		dc.Fill()
	case "radial":
		// Light falls from slightly above center, like a softbox.
		grad := gg.NewRadialGradient(fw/2, fh*0.4, 0, fw/2, fh*0.4, maxf(fw, fh)*0.75)
		addStops(grad, colors)
		dc.SetFillStyle(grad)
		dc.DrawRectangle(0, 0, fw, fh)
		dc.Fill()
	default: // linear
		grad := gg.NewLinearGradient(0, 0, 0, fh)
		addStops(grad, colors)
		dc.SetFillStyle(grad)
		dc.DrawRectangle(0, 0, fw, fh)
		dc.Fill()
	}

	vignette(dc, fw, fh)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dc.Image(), imaging.FormatJPEG, jpegQuality); err != nil {
		return nil, fmt.Errorf("encode backdrop: %w", err)
	}

	return &providers.BackgroundResult{
		Image:   buf.Bytes(),
		CostUSD: 0,
		Metadata: map[string]interface{}{
			"provider": providers.NameStudio,
			"style":    style,
			"palette":  in.Theme.Palette,
			"width":    w,
			"height":   h,
		},
	}, nil
}

// renderStyle alternates fills across variants so a job's backdrops
// are not identical.
func renderStyle(variant, paletteLen int) string {
	if paletteLen <= 1 {
		return "solid"
	}
	if variant%2 == 1 {
		return "radial"
	}
	return "linear"
}

func addStops(grad gg.Gradient, colors []color.NRGBA) {
	if len(colors) == 1 {
		grad.AddColorStop(0, colors[0])
		grad.AddColorStop(1, colors[0])
		return
	}
	for i, c := range colors {
		grad.AddColorStop(float64(i)/float64(len(colors)-1), c)
	}
}

// vignette darkens the frame edges so the cutout reads as the focal
// point.
func vignette(dc *gg.Context, w, h float64) {
	grad := gg.NewRadialGradient(w/2, h/2, minf(w, h)*0.35, w/2, h/2, maxf(w, h)*0.75)
	grad.AddColorStop(0, color.NRGBA{A: 0})
	grad.AddColorStop(1, color.NRGBA{A: vignetteAlpha})
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, w, h)
	dc.Fill()
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
