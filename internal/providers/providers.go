// Package providers defines the external image-AI capability set used
// by the processing pipeline: background removal and themed background
// generation. Concrete adapters live in subpackages; selection is
// process-wide via configuration.
package providers

import (
	"context"

	"github.com/darkroomhq/darkroom-backend/internal/themes"
)

// Provider name constants accepted by the config selector.
const (
	NameFreepik    = "freepik"
	NameNanoBanana = "nanobanana"
	NameStudio     = "studio"
	NameMock       = "mock"
)

// SegmentInput carries the source image for background removal. Image
// holds the already-downloaded bytes; SourceURL is kept for adapters
// that submit by URL instead of payload.
type SegmentInput struct {
	SKU       string
	SHA256    string
	SourceURL string
	Image     []byte
}

// SegmentResult is the segmentation outcome: a PNG cutout with alpha
// and its binary mask, plus the cost the provider reported (or its
// list price) for the call.
type SegmentResult struct {
	Cutout   []byte
	Mask     []byte
	CostUSD  float64
	Metadata map[string]interface{}
}

// BackgroundInput describes one backdrop variant to render. Width and
// Height match the cutout the backdrop will sit behind.
type BackgroundInput struct {
	Theme   themes.Theme
	Variant int
	Width   int
	Height  int
	SKU     string
	SHA256  string
}

// BackgroundResult is one rendered backdrop, encoded (JPEG or PNG).
type BackgroundResult struct {
	Image    []byte
	CostUSD  float64
	Metadata map[string]interface{}
}

// Segmenter removes the background from a product photo.
type Segmenter interface {
	Name() string
	RemoveBackground(ctx context.Context, in SegmentInput) (*SegmentResult, error)
}

// BackgroundGenerator renders themed backdrops. ThemePrompt exposes
// the prompt the generator would actually submit for a theme, for
// debugging and manifest metadata; local renderers return "".
type BackgroundGenerator interface {
	Name() string
	GenerateBackground(ctx context.Context, in BackgroundInput) (*BackgroundResult, error)
	ThemePrompt(t themes.Theme) string
}
