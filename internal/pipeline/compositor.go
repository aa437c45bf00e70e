// Package pipeline holds the image stages between segmentation and
// manifest: compositing cutouts over backdrops and rendering the
// derivative matrix. Stages read and write the object store; job
// state stays with the caller.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
)

// Ref identifies a job's artifact namespace in the object store.
type Ref struct {
	SKU    string
	SHA256 string
	Theme  string
}

// Composite defaults. Blur is the Gaussian radius in pixels.
const (
	DefaultShadowBlur    = 20.0
	DefaultShadowOpacity = 0.3
	DefaultShadowOffsetX = 5
	DefaultShadowOffsetY = 5

	DefaultCompositeQuality = 90
	DefaultAspect           = "1x1"
	DefaultKind             = "master"
)

// CompositeOptions tune one composite render. The zero value is not
// usable; start from DefaultCompositeOptions.
type CompositeOptions struct {
	Fit           imaging.Fit
	DropShadow    bool
	ShadowBlur    float64
	ShadowOpacity float64
	ShadowOffsetX int
	ShadowOffsetY int

	// Sharpen blends an unsharp pass when > 0; Gamma applies when > 0
	// and != 1. Both default off.
	Sharpen float64
	Gamma   float64

	OutputFormat string
	Quality      int
	Aspect       string
	Kind         string
}

func DefaultCompositeOptions() CompositeOptions {
	return CompositeOptions{
		Fit:           imaging.FitCover,
		DropShadow:    true,
		ShadowBlur:    DefaultShadowBlur,
		ShadowOpacity: DefaultShadowOpacity,
		ShadowOffsetX: DefaultShadowOffsetX,
		ShadowOffsetY: DefaultShadowOffsetY,
		OutputFormat:  imaging.FormatJPEG,
		Quality:       DefaultCompositeQuality,
		Aspect:        DefaultAspect,
		Kind:          DefaultKind,
	}
}

// CompositeResult describes one uploaded composite.
type CompositeResult struct {
	Key      string        `json:"key"`
	URL      string        `json:"url"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Format   string        `json:"format"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// Compositor places a cutout over a backdrop with an optional drop
// shadow and uploads the encoded result.
type Compositor struct {
	store gcs.Service
	log   *logger.Logger
	opts  CompositeOptions
}

func NewCompositor(store gcs.Service, log *logger.Logger, opts CompositeOptions) *Compositor {
	if opts.OutputFormat == "" {
		opts.OutputFormat = imaging.FormatJPEG
	}
	if opts.Quality <= 0 {
		opts.Quality = DefaultCompositeQuality
	}
	if opts.Aspect == "" {
		opts.Aspect = DefaultAspect
	}
	if opts.Kind == "" {
		opts.Kind = DefaultKind
	}
	return &Compositor{
		store: store,
		log:   log.With("service", "Compositor"),
		opts:  opts,
	}
}

// Compose renders background variant onto the cutout's canvas. The
// cutout must carry an alpha channel.
func (c *Compositor) Compose(ctx context.Context, ref Ref, cutoutKey, backgroundKey string, variant int) (*CompositeResult, error) {
	start := time.Now()

	cutRaw, err := c.store.DownloadBytes(ctx, cutoutKey)
	if err != nil {
		return nil, types.Tag(types.KindStorageFailed, fmt.Errorf("fetch cutout: %w", err))
	}
	bgRaw, err := c.store.DownloadBytes(ctx, backgroundKey)
	if err != nil {
		return nil, types.Tag(types.KindStorageFailed, fmt.Errorf("fetch background: %w", err))
	}

	cutImg, _, err := imaging.Decode(cutRaw)
	if err != nil {
		return nil, types.Tag(types.KindCompositeFailed, fmt.Errorf("cutout: %w", err))
	}
	if !imaging.HasAlpha(cutImg) {
		return nil, types.Tag(types.KindCompositeFailed, errors.New("cutout has no alpha channel"))
	}
	bgImg, _, err := imaging.Decode(bgRaw)
	if err != nil {
		return nil, types.Tag(types.KindCompositeFailed, fmt.Errorf("background: %w", err))
	}

	cut := c.normalized(cutImg, "cutout", cutoutKey)
	w, h := cut.Bounds().Dx(), cut.Bounds().Dy()

	// The backdrop becomes the canvas at cutout dimensions.
	canvas := imaging.Resize(c.normalized(bgImg, "background", backgroundKey), w, h, c.opts.Fit)

	if c.opts.DropShadow && c.opts.ShadowOpacity > 0 {
		shadow := imaging.Shadow(cut, c.opts.ShadowBlur, c.opts.ShadowOpacity,
			c.opts.ShadowOffsetX, c.opts.ShadowOffsetY)
		imaging.Over(canvas, shadow, image.Point{})
	}
	imaging.Over(canvas, cut, imaging.CenterOffset(w, h, w, h))

	if c.opts.Sharpen > 0 {
		canvas = imaging.Sharpen(canvas, c.opts.Sharpen)
	}
	if c.opts.Gamma > 0 && c.opts.Gamma != 1 {
		canvas = imaging.Gamma(canvas, c.opts.Gamma)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, c.opts.OutputFormat, c.opts.Quality); err != nil {
		return nil, types.Tag(types.KindCompositeFailed, err)
	}

	key := gcs.CompositeKey(ref.Theme, ref.SKU, ref.SHA256, c.opts.Aspect, variant,
		c.opts.Kind, imaging.Ext(c.opts.OutputFormat))
	if err := c.store.UploadBuffer(ctx, key, buf.Bytes(), gcs.ContentTypeForKey(key)); err != nil {
		return nil, types.Tag(types.KindStorageFailed, err)
	}

	res := &CompositeResult{
		Key:      key,
		URL:      c.store.PublicURL(key),
		Width:    w,
		Height:   h,
		Format:   imaging.Ext(c.opts.OutputFormat),
		Bytes:    buf.Len(),
		Duration: time.Since(start),
	}

	c.log.Info("Composite rendered",
		"key", key,
		"variant", variant,
		"size", fmt.Sprintf("%dx%d", w, h),
		"bytes", res.Bytes,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// normalized flattens to plain sRGB pixels; a failure keeps the
// decoded image and logs, it never fails the composite.
func (c *Compositor) normalized(img image.Image, role, key string) *image.NRGBA {
	n, err := imaging.Normalize(img)
	if err != nil {
		c.log.Warn("Color normalize failed, continuing with decoded image",
			"role", role, "key", key, "error", err)
		return imaging.ToNRGBA(img)
	}
	return n
}
