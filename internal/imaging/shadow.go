package imaging

import (
	"image"
	"image/draw"
	"math"
)

// Shadow builds the drop-shadow layer for a cutout: its alpha channel
// blurred with a Gaussian of the given pixel radius, scaled by opacity,
// shifted by (dx, dy). The layer keeps the cutout's dimensions; shifted
// content clips at the edges. Pixels are black with the computed alpha, so
// the layer composites under the cutout with plain over-blending.
func Shadow(cutout *image.NRGBA, radius, opacity float64, dx, dy int) *image.NRGBA {
	b := cutout.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 || opacity <= 0 {
		return out
	}
	if opacity > 1 {
		opacity = 1
	}

	alpha := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			alpha[y*w+x] = float64(cutout.Pix[y*cutout.Stride+x*4+3])
		}
	}
	if radius > 0 {
		blurAlpha(alpha, w, h, radius/2)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := x-dx, y-dy
			var v float64
			if sx >= 0 && sx < w && sy >= 0 && sy < h {
				v = alpha[sy*w+sx]
			}
			a := math.Round(v * opacity)
			if a > 255 {
				a = 255
			}
			out.Pix[y*out.Stride+x*4+3] = uint8(a)
		}
	}
	return out
}

// blurAlpha applies a separable Gaussian in place. Out-of-bounds samples
// contribute zero, which is the right boundary for an alpha mask.
func blurAlpha(src []float64, w, h int, sigma float64) {
	if sigma <= 0 {
		return
	}
	half := int(math.Ceil(3 * sigma))
	if half < 1 {
		half = 1
	}
	kernel := make([]float64, 2*half+1)
	var sum float64
	for i := -half; i <= half; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+half] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	tmp := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -half; k <= half; k++ {
				sx := x + k
				if sx < 0 || sx >= w {
					continue
				}
				acc += src[y*w+sx] * kernel[k+half]
			}
			tmp[y*w+x] = acc
		}
	}
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			var acc float64
			for k := -half; k <= half; k++ {
				sy := y + k
				if sy < 0 || sy >= h {
					continue
				}
				acc += tmp[sy*w+x] * kernel[k+half]
			}
			src[y*w+x] = acc
		}
	}
}

// Over composites src onto dst at the given offset with over blending.
func Over(dst *image.NRGBA, src image.Image, at image.Point) {
	b := src.Bounds()
	r := image.Rect(at.X, at.Y, at.X+b.Dx(), at.Y+b.Dy())
	draw.Draw(dst, r, src, b.Min, draw.Over)
}

// CenterOffset positions an inner rectangle of (iw, ih) centrally inside an
// outer one of (ow, oh).
func CenterOffset(ow, oh, iw, ih int) image.Point {
	return image.Point{X: (ow - iw) / 2, Y: (oh - ih) / 2}
}
