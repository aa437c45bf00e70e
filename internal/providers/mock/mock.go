// Package mock implements both provider interfaces with synthetic
// images. It backs tests and provider-less development: segmentation
// emits a fixed centered cutout, generation a flat palette fill.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/providers"
	"github.com/darkroomhq/darkroom-backend/internal/themes"
)

const cutoutSide = 256

// Provider satisfies Segmenter and BackgroundGenerator. Err fields
// inject failures; call counters let tests assert invocation counts.
type Provider struct {
	mu sync.Mutex

	SegmentCalls    int
	BackgroundCalls int

	SegmentErr    error
	BackgroundErr error

	SegmentCost    float64
	BackgroundCost float64
}

func New() *Provider {
	return &Provider{
		SegmentCost:    0.01,
		BackgroundCost: 0.005,
	}
}

func (p *Provider) Name() string { return providers.NameMock }

func (p *Provider) ThemePrompt(t themes.Theme) string {
	return "mock: " + t.Prompt
}

func (p *Provider) RemoveBackground(ctx context.Context, in providers.SegmentInput) (*providers.SegmentResult, error) {
	p.mu.Lock()
	p.SegmentCalls++
	err := p.SegmentErr
	cost := p.SegmentCost
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cutout := image.NewNRGBA(image.Rect(0, 0, cutoutSide, cutoutSide))
	for y := cutoutSide / 4; y < 3*cutoutSide/4; y++ {
		for x := cutoutSide / 4; x < 3*cutoutSide/4; x++ {
			cutout.SetNRGBA(x, y, color.NRGBA{R: 180, G: 40, B: 40, A: 255})
		}
	}

	var cutoutBuf, maskBuf bytes.Buffer
	if err := imaging.Encode(&cutoutBuf, cutout, imaging.FormatPNG, 100); err != nil {
		return nil, fmt.Errorf("encode cutout: %w", err)
	}
	if err := imaging.Encode(&maskBuf, imaging.AlphaMask(cutout), imaging.FormatPNG, 100); err != nil {
		return nil, fmt.Errorf("encode mask: %w", err)
	}

	return &providers.SegmentResult{
		Cutout:  cutoutBuf.Bytes(),
		Mask:    maskBuf.Bytes(),
		CostUSD: cost,
		Metadata: map[string]interface{}{
			"provider": providers.NameMock,
			"sku":      in.SKU,
		},
	}, nil
}

func (p *Provider) GenerateBackground(ctx context.Context, in providers.BackgroundInput) (*providers.BackgroundResult, error) {
	p.mu.Lock()
	p.BackgroundCalls++
	err := p.BackgroundErr
	cost := p.BackgroundCost
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := in.Width, in.Height
	if w <= 0 {
		w = cutoutSide
	}
	if h <= 0 {
		h = cutoutSide
	}

	fill := in.Theme.Colors()[0]
	bg := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bg.SetNRGBA(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, bg, imaging.FormatJPEG, 90); err != nil {
		return nil, fmt.Errorf("encode backdrop: %w", err)
	}

	return &providers.BackgroundResult{
		Image:   buf.Bytes(),
		CostUSD: cost,
		Metadata: map[string]interface{}{
			"provider": providers.NameMock,
			"variant":  in.Variant,
		},
	}, nil
}
