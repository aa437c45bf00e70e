package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// Fit selects how a source maps onto target dimensions.
type Fit string

const (
	// FitCover fills the target completely, cropping overflow around the
	// center.
	FitCover Fit = "cover"
	// FitInside scales so both edges fit within the target, preserving
	// aspect. Upscaling is allowed.
	FitInside Fit = "inside"
	// FitExact stretches to the target dimensions.
	FitExact Fit = "exact"
)

// Resize maps src onto (w, h) with the given fit. The scale kernel is
// Catmull-Rom throughout the pipeline.
func Resize(src image.Image, w, h int, fit Fit) *image.NRGBA {
	switch fit {
	case FitInside:
		return Inside(src, w, h)
	case FitExact:
		return scaleTo(src, src.Bounds(), w, h)
	default:
		return Cover(src, w, h)
	}
}

// Cover crops src centrally to the target aspect, then scales to exactly
// (w, h).
func Cover(src image.Image, w, h int) *image.NRGBA {
	if w <= 0 || h <= 0 {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 {
		return image.NewNRGBA(image.Rect(0, 0, w, h))
	}

	// Largest centered region matching the target aspect.
	cropW, cropH := sw, sh
	if sw*h > w*sh {
		cropW = sh * w / h
	} else {
		cropH = sw * h / w
	}
	x0 := b.Min.X + (sw-cropW)/2
	y0 := b.Min.Y + (sh-cropH)/2
	crop := image.Rect(x0, y0, x0+cropW, y0+cropH)

	return scaleTo(src, crop, w, h)
}

// Inside scales src so width <= maxW and height <= maxH, preserving aspect.
func Inside(src image.Image, maxW, maxH int) *image.NRGBA {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 || maxW <= 0 || maxH <= 0 {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}
	w, h := maxW, sh*maxW/sw
	if h > maxH {
		w, h = sw*maxH/sh, maxH
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return scaleTo(src, b, w, h)
}

func scaleTo(src image.Image, srcRect image.Rectangle, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, srcRect, draw.Src, nil)
	return dst
}
