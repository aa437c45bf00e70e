// Package manifest assembles and publishes the per-job artifact index:
// one JSON document per (sku, sha256, theme) listing every key the
// pipeline produced, presigned for direct consumption.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/darkroomhq/darkroom-backend/internal/pipeline"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
)

// Version identifies the manifest schema. Bump when key layouts or
// fields change shape.
const Version = "2.0"

const DefaultURLTTL = 24 * time.Hour

// Artifact is a stored object plus a presigned link to it. Keys are
// authoritative; URLs expire and consumers re-presign from the key.
type Artifact struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type Original struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	SourceURL string `json:"sourceUrl"`
}

type BackgroundRemoval struct {
	Cutout Artifact `json:"cutout"`
	Mask   Artifact `json:"mask"`
}

type Background struct {
	Variant int    `json:"variant"`
	Key     string `json:"key"`
	URL     string `json:"url"`
}

type Composite struct {
	Variant int    `json:"variant"`
	Key     string `json:"key"`
	URL     string `json:"url"`
}

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

type Costs struct {
	Segmentation         float64 `json:"segmentation"`
	BackgroundGeneration float64 `json:"backgroundGeneration"`
	Total                float64 `json:"total"`
}

// Manifest is the published document. Timing totals come straight off
// the job row so the manifest and the API never disagree.
type Manifest struct {
	Version     string     `json:"version"`
	JobID       string     `json:"jobId"`
	SKU         string     `json:"sku"`
	Theme       string     `json:"theme"`
	SHA256      string     `json:"sha256"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	GeneratedAt time.Time  `json:"generatedAt"`

	ShopifyProductID string `json:"shopifyProductId,omitempty"`

	Original          Original          `json:"original"`
	BackgroundRemoval BackgroundRemoval `json:"backgroundRemoval"`
	Backgrounds       []Background      `json:"backgrounds"`
	Composites        []Composite       `json:"composites"`
	Derivatives       []Derivative      `json:"derivatives"`

	Timing types.Timing `json:"timing"`
	Costs  Costs        `json:"costs"`

	ProviderMetadata map[string]interface{} `json:"providerMetadata,omitempty"`
	Error            *types.ErrorInfo       `json:"error,omitempty"`
}

// Input carries the stage outputs that only exist in worker memory:
// rich derivative descriptors and the per-provider cost split.
type Input struct {
	Derivatives      []pipeline.Derivative
	SegmentationCost float64
	BackgroundCost   float64
	ShopifyProductID string
}

type Builder struct {
	store gcs.Service
	log   *logger.Logger
	ttl   time.Duration
}

func NewBuilder(store gcs.Service, log *logger.Logger, ttl time.Duration) *Builder {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Builder{
		store: store,
		log:   log.With("service", "ManifestBuilder"),
		ttl:   ttl,
	}
}

// Build assembles the document from the job row and the stage outputs.
// It does not touch the store beyond presigning.
func (b *Builder) Build(job *types.Job, in Input) *Manifest {
	m := &Manifest{
		Version:     Version,
		JobID:       job.ID,
		SKU:         job.SKU,
		Theme:       job.Theme,
		SHA256:      job.SHA256,
		Status:      string(job.Status),
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
		GeneratedAt: time.Now().UTC(),

		ShopifyProductID: in.ShopifyProductID,

		Original: Original{
			Key:       job.OriginalKey,
			URL:       b.href(job.OriginalKey),
			SourceURL: job.SourceURL,
		},
		BackgroundRemoval: BackgroundRemoval{
			Cutout: b.artifact(job.CutoutKey),
			Mask:   b.artifact(job.MaskKey),
		},
		Backgrounds: make([]Background, 0, len(job.BackgroundKeys)),
		Composites:  make([]Composite, 0, len(job.CompositeKeys)),
		Derivatives: make([]Derivative, 0, len(in.Derivatives)),

		Timing: job.Timing(),
		Costs: Costs{
			Segmentation:         in.SegmentationCost,
			BackgroundGeneration: in.BackgroundCost,
			Total:                job.CostUSD,
		},

		Error: job.ErrorInfo(),
	}
	if len(job.ProviderMetadata) > 0 {
		m.ProviderMetadata = map[string]interface{}(job.ProviderMetadata)
	}

	for variant, key := range job.BackgroundKeys {
		m.Backgrounds = append(m.Backgrounds, Background{Variant: variant, Key: key, URL: b.href(key)})
	}
	for variant, key := range job.CompositeKeys {
		m.Composites = append(m.Composites, Composite{Variant: variant, Key: key, URL: b.href(key)})
	}
	for _, d := range in.Derivatives {
		m.Derivatives = append(m.Derivatives, Derivative{
			Variant: d.Variant,
			Size:    d.Size,
			Format:  d.Format,
			Key:     d.Key,
			URL:     b.href(d.Key),
			Width:   d.Width,
			Height:  d.Height,
			Bytes:   d.Bytes,
			Quality: d.Quality,
		})
	}
	return m
}

// Publish uploads the manifest, stamps manifest_ms and manifest_key on
// the job, then re-uploads so the stored document carries its own
// timing. The caller persists the mutated job fields.
func (b *Builder) Publish(ctx context.Context, job *types.Job, in Input) (*Manifest, error) {
	start := time.Now()
	key := gcs.ManifestKey(job.SKU, job.SHA256, job.Theme)

	m := b.Build(job, in)
	if err := b.upload(ctx, key, m); err != nil {
		return nil, types.Tag(types.KindManifestFailed, err)
	}

	elapsed := time.Since(start).Milliseconds()
	job.ManifestMS = &elapsed
	job.ManifestKey = key

	m.Timing = job.Timing()
	m.GeneratedAt = time.Now().UTC()
	if err := b.upload(ctx, key, m); err != nil {
		return nil, types.Tag(types.KindManifestFailed, err)
	}

	b.log.Info("Manifest published",
		"sku", job.SKU,
		"theme", job.Theme,
		"key", key,
		"backgrounds", len(m.Backgrounds),
		"composites", len(m.Composites),
		"derivatives", len(m.Derivatives),
		"elapsed_ms", elapsed,
	)
	return m, nil
}

func (b *Builder) upload(ctx context.Context, key string, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := b.store.UploadBuffer(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("upload manifest %q: %w", key, err)
	}
	return nil
}

func (b *Builder) artifact(key string) Artifact {
	return Artifact{Key: key, URL: b.href(key)}
}

// href presigns key for read. Presign failures degrade to the public
// URL so a manifest always links somewhere.
func (b *Builder) href(key string) string {
	if key == "" {
		return ""
	}
	u, err := b.store.PresignedGetURL(key, b.ttl)
	if err != nil {
		b.log.Warn("Manifest presign failed; falling back to public URL", "key", key, "error", err)
		return b.store.PublicURL(key)
	}
	return u
}
