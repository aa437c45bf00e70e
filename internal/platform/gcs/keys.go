package gcs

import (
	"fmt"
	"strings"
)

// Object keys are deterministic in job-local identifiers so that retries and
// concurrent workers overwrite rather than duplicate, and so that manifest
// readers can reconstruct any key offline. Do not change these layouts
// without versioning the manifest.

func OriginalKey(sku, sha256 string) string {
	return fmt.Sprintf("originals/%s/%s.jpg", sku, sha256)
}

func CutoutKey(sku, sha256 string) string {
	return fmt.Sprintf("cutouts/%s/%s.png", sku, sha256)
}

func MaskKey(sku, sha256 string) string {
	return fmt.Sprintf("masks/%s/%s.png", sku, sha256)
}

func BackgroundKey(theme, sku, sha256 string, variant int) string {
	return fmt.Sprintf("backgrounds/%s/%s/%s_%d.jpg", theme, sku, sha256, variant)
}

// CompositeKey names one composited master. Aspect is "1x1" unless the render
// spec overrides it; kind distinguishes master renders from alternates.
func CompositeKey(theme, sku, sha256, aspect string, variant int, kind, ext string) string {
	return fmt.Sprintf("composites/%s/%s/%s_%s_%d_%s.%s", theme, sku, sha256, aspect, variant, kind, ext)
}

func DerivativeKey(theme, sku, sha256 string, variant int, size, ext string) string {
	return fmt.Sprintf("derivatives/%s/%s/%s/%d_%s.%s", theme, sku, sha256, variant, size, ext)
}

func ManifestKey(sku, sha256, theme string) string {
	return fmt.Sprintf("manifests/%s/%s-%s.json", sku, sha256, theme)
}

// ContentTypeForKey maps a key's extension to the Content-Type set on upload.
// Unknown extensions return "" and the writer lets GCS sniff.
func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".avif"):
		return "image/avif"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return ""
	}
}
