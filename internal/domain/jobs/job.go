package jobs

import (
	"time"

	"gorm.io/datatypes"
)

// Job is one ingested product image moving through the pipeline. A job is
// unique per (sku, sha256, theme); webhook retries land on the same row.
type Job struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	SKU       string `gorm:"column:sku;size:100;not null;uniqueIndex:ux_job_sku_sha256_theme,priority:1;index:idx_job_sku" json:"sku"`
	SHA256    string `gorm:"column:sha256;size:64;not null;uniqueIndex:ux_job_sku_sha256_theme,priority:2" json:"sha256"`
	Theme     string `gorm:"column:theme;size:64;not null;uniqueIndex:ux_job_sku_sha256_theme,priority:3;index:idx_job_theme" json:"theme"`
	SourceURL string `gorm:"column:source_url;not null" json:"source_url"`
	Status    Status `gorm:"column:status;size:24;not null;index:idx_job_status_updated,priority:1" json:"status"`

	OriginalKey    string                      `gorm:"column:original_key" json:"original_key,omitempty"`
	CutoutKey      string                      `gorm:"column:cutout_key" json:"cutout_key,omitempty"`
	MaskKey        string                      `gorm:"column:mask_key" json:"mask_key,omitempty"`
	BackgroundKeys datatypes.JSONSlice[string] `gorm:"column:background_keys" json:"background_keys"`
	CompositeKeys  datatypes.JSONSlice[string] `gorm:"column:composite_keys" json:"composite_keys"`
	DerivativeKeys datatypes.JSONSlice[string] `gorm:"column:derivative_keys" json:"derivative_keys"`
	ManifestKey    string                      `gorm:"column:manifest_key" json:"manifest_key,omitempty"`

	DownloadMS     *int64 `gorm:"column:download_ms" json:"download_ms,omitempty"`
	SegmentationMS *int64 `gorm:"column:segmentation_ms" json:"segmentation_ms,omitempty"`
	BackgroundsMS  *int64 `gorm:"column:backgrounds_ms" json:"backgrounds_ms,omitempty"`
	CompositingMS  *int64 `gorm:"column:compositing_ms" json:"compositing_ms,omitempty"`
	DerivativesMS  *int64 `gorm:"column:derivatives_ms" json:"derivatives_ms,omitempty"`
	ManifestMS     *int64 `gorm:"column:manifest_ms" json:"manifest_ms,omitempty"`

	CostUSD float64 `gorm:"column:cost_usd;not null;default:0" json:"cost_usd"`
	Attempt int     `gorm:"column:attempt;not null;default:0" json:"attempt"`

	ErrorCode    ErrorKind `gorm:"column:error_code;size:32" json:"error_code,omitempty"`
	ErrorMessage string    `gorm:"column:error_message" json:"error_message,omitempty"`
	ErrorStack   string    `gorm:"column:error_stack" json:"error_stack,omitempty"`

	ProviderMetadata datatypes.JSONMap `gorm:"column:provider_metadata" json:"provider_metadata,omitempty"`

	CreatedAt   time.Time  `gorm:"not null;index:idx_job_created,sort:desc" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;index:idx_job_status_updated,priority:2" json:"updated_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Job) TableName() string { return "job" }

// Timing is the per-stage elapsed view embedded in manifests and API bodies.
type Timing struct {
	Download     *int64 `json:"download"`
	Segmentation *int64 `json:"segmentation"`
	Backgrounds  *int64 `json:"backgrounds"`
	Compositing  *int64 `json:"compositing"`
	Derivatives  *int64 `json:"derivatives"`
	Manifest     *int64 `json:"manifest"`
	Total        int64  `json:"total"`
}

func (j *Job) Timing() Timing {
	t := Timing{
		Download:     j.DownloadMS,
		Segmentation: j.SegmentationMS,
		Backgrounds:  j.BackgroundsMS,
		Compositing:  j.CompositingMS,
		Derivatives:  j.DerivativesMS,
		Manifest:     j.ManifestMS,
	}
	for _, v := range []*int64{t.Download, t.Segmentation, t.Backgrounds, t.Compositing, t.Derivatives, t.Manifest} {
		if v != nil {
			t.Total += *v
		}
	}
	return t
}

// ErrorInfo is the terminal-failure detail attached to FAILED jobs.
type ErrorInfo struct {
	Code    ErrorKind `json:"code"`
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
}

func (j *Job) ErrorInfo() *ErrorInfo {
	if j.ErrorCode == "" {
		return nil
	}
	return &ErrorInfo{Code: j.ErrorCode, Message: j.ErrorMessage, Stack: j.ErrorStack}
}

// ShopifyMap caches the external product id for a sku. The push stage that
// consumes it runs outside this service; the core only reads/writes the pair.
type ShopifyMap struct {
	SKU              string    `gorm:"column:sku;primaryKey;size:100" json:"sku"`
	ShopifyProductID string    `gorm:"column:shopify_product_id;not null" json:"shopify_product_id"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

func (ShopifyMap) TableName() string { return "shopify_map" }

// Metadata is process-wide key/value state (poll watermarks and the like).
type Metadata struct {
	Key       string    `gorm:"column:key;primaryKey;size:128" json:"key"`
	Value     string    `gorm:"column:value;not null" json:"value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Metadata) TableName() string { return "metadata" }
