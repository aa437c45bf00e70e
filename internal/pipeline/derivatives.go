package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/themes"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
)

// Derivative describes one uploaded (size, format) rendition.
type Derivative struct {
	Variant int    `json:"variant"`
	Size    string `json:"size"`
	Format  string `json:"format"`
	Key     string `json:"key"`
	URL     string `json:"url"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bytes   int    `json:"bytes"`
	Quality int    `json:"quality"`
}

// DerivativeFailure records one failed (size, format) unit. Failures
// are tolerated as long as each composite yields something.
type DerivativeFailure struct {
	Variant int    `json:"variant"`
	Size    string `json:"size"`
	Format  string `json:"format"`
	Error   string `json:"error"`
}

// DerivativeReport is the outcome across all composites.
type DerivativeReport struct {
	Derivatives []Derivative        `json:"derivatives"`
	Failures    []DerivativeFailure `json:"failures,omitempty"`
	Duration    time.Duration       `json:"duration"`
}

// Keys flattens the produced object keys in render order.
func (r *DerivativeReport) Keys() []string {
	out := make([]string, 0, len(r.Derivatives))
	for _, d := range r.Derivatives {
		out = append(out, d.Key)
	}
	return out
}

// DerivativeEngine renders the size x format matrix for each
// composite. Sizes fan out concurrently; formats within a size encode
// sequentially off the same resized pixels.
type DerivativeEngine struct {
	store   gcs.Service
	log     *logger.Logger
	sizes   []themes.Size
	formats []themes.Format
}

func NewDerivativeEngine(store gcs.Service, log *logger.Logger, sizes []themes.Size, formats []themes.Format) *DerivativeEngine {
	return &DerivativeEngine{
		store:   store,
		log:     log.With("service", "DerivativeEngine"),
		sizes:   sizes,
		formats: formats,
	}
}

// Matrix is the number of renditions attempted per composite.
func (e *DerivativeEngine) Matrix() int { return len(e.sizes) * len(e.formats) }

// RenderAll processes every composite key in order. A composite that
// produces zero renditions fails the batch; unit failures only land
// in the report.
func (e *DerivativeEngine) RenderAll(ctx context.Context, ref Ref, compositeKeys []string) (*DerivativeReport, error) {
	start := time.Now()
	if len(e.sizes) == 0 || len(e.formats) == 0 {
		return nil, types.Tag(types.KindDerivativeFailed, fmt.Errorf("render matrix empty: %d sizes, %d formats", len(e.sizes), len(e.formats)))
	}

	report := &DerivativeReport{}
	for variant, key := range compositeKeys {
		produced, failures, err := e.renderComposite(ctx, ref, variant, key)
		if err != nil {
			return nil, err
		}
		if len(produced) == 0 {
			return nil, types.Tag(types.KindDerivativeFailed,
				fmt.Errorf("composite %d yielded no derivatives (%d attempts)", variant, e.Matrix()))
		}
		report.Derivatives = append(report.Derivatives, produced...)
		report.Failures = append(report.Failures, failures...)
	}
	report.Duration = time.Since(start)

	e.log.Info("Derivatives rendered",
		"sku", ref.SKU,
		"theme", ref.Theme,
		"produced", len(report.Derivatives),
		"failed", len(report.Failures),
		"elapsed_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func (e *DerivativeEngine) renderComposite(ctx context.Context, ref Ref, variant int, compositeKey string) ([]Derivative, []DerivativeFailure, error) {
	raw, err := e.store.DownloadBytes(ctx, compositeKey)
	if err != nil {
		return nil, nil, types.Tag(types.KindStorageFailed, fmt.Errorf("fetch composite %q: %w", compositeKey, err))
	}
	src, _, err := imaging.Decode(raw)
	if err != nil {
		return nil, nil, types.Tag(types.KindDerivativeFailed, fmt.Errorf("composite %q: %w", compositeKey, err))
	}

	// Indexed slots keep output order deterministic under the fan-out.
	slots := make([][]*Derivative, len(e.sizes))
	fails := make([][]*DerivativeFailure, len(e.sizes))
	for i := range slots {
		slots[i] = make([]*Derivative, len(e.formats))
		fails[i] = make([]*DerivativeFailure, len(e.formats))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(e.sizes))

	for si, size := range e.sizes {
		si, size := si, size
		g.Go(func() error {
			resized := imaging.Resize(src, size.Width, size.Height, fitFromName(size.Fit))
			for fi, format := range e.formats {
				d, failure := e.renderUnit(gctx, ref, variant, size, format, resized)
				slots[si][fi] = d
				fails[si][fi] = failure
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, types.Tag(types.KindDerivativeFailed, err)
	}

	var produced []Derivative
	var failures []DerivativeFailure
	for si := range e.sizes {
		for fi := range e.formats {
			if d := slots[si][fi]; d != nil {
				produced = append(produced, *d)
			}
			if f := fails[si][fi]; f != nil {
				failures = append(failures, *f)
			}
		}
	}
	return produced, failures, nil
}

// renderUnit encodes and uploads one (size, format) point. Errors are
// reported, never propagated; the tolerance policy lives in RenderAll.
func (e *DerivativeEngine) renderUnit(ctx context.Context, ref Ref, variant int, size themes.Size, format themes.Format, resized *image.NRGBA) (*Derivative, *DerivativeFailure) {
	failure := func(err error) *DerivativeFailure {
		e.log.Warn("Derivative unit failed",
			"sku", ref.SKU,
			"variant", variant,
			"size", size.Name,
			"format", format.Name,
			"error", err,
		)
		return &DerivativeFailure{
			Variant: variant,
			Size:    size.Name,
			Format:  format.Name,
			Error:   err.Error(),
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format.Name, format.Quality); err != nil {
		return nil, failure(err)
	}

	key := gcs.DerivativeKey(ref.Theme, ref.SKU, ref.SHA256, variant, size.Name, imaging.Ext(format.Name))
	if err := e.store.UploadBuffer(ctx, key, buf.Bytes(), gcs.ContentTypeForKey(key)); err != nil {
		return nil, failure(err)
	}

	b := resized.Bounds()
	return &Derivative{
		Variant: variant,
		Size:    size.Name,
		Format:  imaging.Ext(format.Name),
		Key:     key,
		URL:     e.store.PublicURL(key),
		Width:   b.Dx(),
		Height:  b.Dy(),
		Bytes:   buf.Len(),
		Quality: format.Quality,
	}, nil
}

func fitFromName(name string) imaging.Fit {
	switch name {
	case "inside":
		return imaging.FitInside
	case "exact":
		return imaging.FitExact
	default:
		return imaging.FitCover
	}
}
