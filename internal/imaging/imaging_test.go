package imaging

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

// makeCutout builds a w x h transparent image with a centered opaque square
// covering half of each dimension.
func makeCutout(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := h / 4; y < 3*h/4; y++ {
		for x := w / 4; x < 3*w/4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	return img
}

func makeOpaque(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestHasAlpha(t *testing.T) {
	if HasAlpha(makeOpaque(4, 4, color.NRGBA{R: 1, G: 2, B: 3, A: 255})) {
		t.Fatalf("fully opaque image reported alpha")
	}
	if !HasAlpha(makeCutout(8, 8)) {
		t.Fatalf("cutout with transparency reported no alpha")
	}
	if HasAlpha(image.NewYCbCr(image.Rect(0, 0, 4, 4), image.YCbCrSubsampleRatio444)) {
		t.Fatalf("YCbCr reported alpha")
	}
}

func TestCoverDimensions(t *testing.T) {
	cases := []struct {
		sw, sh, w, h int
	}{
		{100, 50, 40, 40},
		{50, 100, 40, 40},
		{30, 30, 60, 20},
		{1, 1, 10, 10},
	}
	for _, tc := range cases {
		got := Cover(makeOpaque(tc.sw, tc.sh, color.NRGBA{A: 255}), tc.w, tc.h)
		if got.Bounds().Dx() != tc.w || got.Bounds().Dy() != tc.h {
			t.Fatalf("Cover(%dx%d -> %dx%d): got %v", tc.sw, tc.sh, tc.w, tc.h, got.Bounds())
		}
	}
}

func TestInsideDimensions(t *testing.T) {
	cases := []struct {
		sw, sh, maxW, maxH, wantW, wantH int
	}{
		{1000, 500, 200, 200, 200, 100},
		{500, 1000, 200, 200, 100, 200},
		{100, 100, 2000, 2000, 2000, 2000}, // upscaling permitted
		{300, 100, 150, 150, 150, 50},
	}
	for _, tc := range cases {
		got := Inside(makeOpaque(tc.sw, tc.sh, color.NRGBA{A: 255}), tc.maxW, tc.maxH)
		if got.Bounds().Dx() != tc.wantW || got.Bounds().Dy() != tc.wantH {
			t.Fatalf("Inside(%dx%d max %dx%d): want %dx%d got %v",
				tc.sw, tc.sh, tc.maxW, tc.maxH, tc.wantW, tc.wantH, got.Bounds())
		}
	}
}

func TestResizeExact(t *testing.T) {
	got := Resize(makeOpaque(30, 10, color.NRGBA{A: 255}), 7, 21, FitExact)
	if got.Bounds().Dx() != 7 || got.Bounds().Dy() != 21 {
		t.Fatalf("FitExact: got %v", got.Bounds())
	}
}

func TestShadowOpacityBound(t *testing.T) {
	cutout := makeCutout(64, 64)
	opacity := 0.3
	shadow := Shadow(cutout, 20, opacity, 5, 5)

	if shadow.Bounds() != cutout.Bounds() {
		t.Fatalf("shadow bounds: want %v got %v", cutout.Bounds(), shadow.Bounds())
	}
	limit := uint8(opacity*255) + 1
	var maxA uint8
	for i := 3; i < len(shadow.Pix); i += 4 {
		if shadow.Pix[i] > maxA {
			maxA = shadow.Pix[i]
		}
	}
	if maxA == 0 {
		t.Fatalf("shadow layer is empty")
	}
	if maxA > limit {
		t.Fatalf("shadow alpha exceeds opacity bound: max=%d limit=%d", maxA, limit)
	}
	// Shadow pixels are black.
	for i := 0; i < len(shadow.Pix); i += 4 {
		if shadow.Pix[i] != 0 || shadow.Pix[i+1] != 0 || shadow.Pix[i+2] != 0 {
			t.Fatalf("shadow carries color at %d", i)
		}
	}
}

func TestShadowZeroOpacity(t *testing.T) {
	shadow := Shadow(makeCutout(16, 16), 20, 0, 5, 5)
	for i := 3; i < len(shadow.Pix); i += 4 {
		if shadow.Pix[i] != 0 {
			t.Fatalf("zero-opacity shadow has alpha")
		}
	}
}

func TestShadowOffset(t *testing.T) {
	cutout := image.NewNRGBA(image.Rect(0, 0, 9, 9))
	cutout.SetNRGBA(4, 4, color.NRGBA{A: 255})
	shadow := Shadow(cutout, 0, 1, 2, 3)
	if got := shadow.Pix[(4+3)*shadow.Stride+(4+2)*4+3]; got != 255 {
		t.Fatalf("offset shadow: want alpha 255 at (6,7), got %d", got)
	}
	if got := shadow.Pix[4*shadow.Stride+4*4+3]; got != 0 {
		t.Fatalf("offset shadow left alpha at origin position")
	}
}

func TestOverComposite(t *testing.T) {
	base := makeOpaque(10, 10, color.NRGBA{R: 255, A: 255})
	top := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	top.SetNRGBA(0, 0, color.NRGBA{G: 255, A: 255})

	Over(base, top, image.Point{X: 4, Y: 4})
	c := base.NRGBAAt(4, 4)
	if c.G != 255 || c.R != 0 {
		t.Fatalf("over blend: got %+v", c)
	}
	if c := base.NRGBAAt(0, 0); c.R != 255 {
		t.Fatalf("over blend touched uncovered pixel: %+v", c)
	}
}

func TestGamma(t *testing.T) {
	src := makeOpaque(4, 4, color.NRGBA{R: 64, G: 64, B: 64, A: 200})
	same := Gamma(src, 1)
	if same != src {
		t.Fatalf("gamma 1 must return input")
	}
	brighter := Gamma(src, 2.2)
	if got := brighter.NRGBAAt(0, 0); got.R <= 64 {
		t.Fatalf("gamma 2.2 did not brighten midtone: %d", got.R)
	}
	if got := brighter.NRGBAAt(0, 0); got.A != 200 {
		t.Fatalf("gamma touched alpha: %d", got.A)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := makeCutout(24, 24)
	for _, format := range []string{FormatPNG, FormatJPEG} {
		var buf bytes.Buffer
		if err := Encode(&buf, src, format, 90); err != nil {
			t.Fatalf("encode %s: %v", format, err)
		}
		img, got, err := Decode(buf.Bytes())
		if err != nil {
			t.Fatalf("decode %s: %v", format, err)
		}
		if format == FormatPNG && got != "png" {
			t.Fatalf("decoded format: want png got %s", got)
		}
		if img.Bounds().Dx() != 24 {
			t.Fatalf("roundtrip %s bounds: %v", format, img.Bounds())
		}
	}
}

func TestEncodeUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, makeCutout(4, 4), "tiff", 90); err == nil {
		t.Fatalf("unknown format accepted")
	}
}

func TestEncodeWebP(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, makeCutout(16, 16), FormatWebP, 85); err != nil {
		t.Fatalf("encode webp: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("webp output empty")
	}
}

func TestAlphaMask(t *testing.T) {
	mask := AlphaMask(makeCutout(8, 8))
	if got := mask.GrayAt(4, 4).Y; got != 0xFF {
		t.Fatalf("product pixel: want=255 got=%d", got)
	}
	if got := mask.GrayAt(0, 0).Y; got != 0 {
		t.Fatalf("transparent pixel: want=0 got=%d", got)
	}
}
