package imaging

import (
	"image"
	"math"
)

// Gamma applies a gamma curve to the RGB channels. gamma == 1 returns the
// input untouched; alpha is never modified.
func Gamma(img *image.NRGBA, gamma float64) *image.NRGBA {
	if gamma == 1 || gamma <= 0 {
		return img
	}
	var lut [256]uint8
	inv := 1 / gamma
	for i := range lut {
		v := math.Pow(float64(i)/255, inv) * 255
		lut[i] = uint8(math.Round(math.Min(255, math.Max(0, v))))
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	copy(out.Pix, img.Pix)
	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i] = lut[out.Pix[i]]
		out.Pix[i+1] = lut[out.Pix[i+1]]
		out.Pix[i+2] = lut[out.Pix[i+2]]
	}
	return out
}

// Sharpen runs the classic 3x3 sharpen kernel over the RGB channels.
// Amount 0 returns the input; 1 is the full kernel effect.
func Sharpen(img *image.NRGBA, amount float64) *image.NRGBA {
	if amount <= 0 {
		return img
	}
	if amount > 1 {
		amount = 1
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	copy(out.Pix, img.Pix)

	at := func(x, y, c int) float64 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return float64(img.Pix[y*img.Stride+x*4+c])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				center := at(x, y, c)
				conv := 5*center - at(x-1, y, c) - at(x+1, y, c) - at(x, y-1, c) - at(x, y+1, c)
				v := center + (conv-center)*amount
				if v < 0 {
					v = 0
				} else if v > 255 {
					v = 255
				}
				out.Pix[y*out.Stride+x*4+c] = uint8(v)
			}
		}
	}
	return out
}
