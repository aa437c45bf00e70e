package imaging

import "image"

// maskThreshold splits cutout alpha into the binary mask: at or above
// is product, below is background.
const maskThreshold = 128

// AlphaMask extracts a binary mask from the cutout's alpha channel.
// Pixels with alpha >= 128 map to white, the rest to black.
func AlphaMask(img image.Image) *image.Gray {
	src := ToNRGBA(img)
	b := src.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			a := src.Pix[y*src.Stride+x*4+3]
			if a >= maskThreshold {
				mask.Pix[y*mask.Stride+x] = 0xFF
			}
		}
	}
	return mask
}
