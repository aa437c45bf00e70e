package imaging

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
)

const (
	FormatJPEG = "jpg"
	FormatPNG  = "png"
	FormatWebP = "webp"
	FormatAVIF = "avif"
)

func KnownFormat(format string) bool {
	switch format {
	case FormatJPEG, FormatPNG, FormatWebP, FormatAVIF:
		return true
	default:
		return false
	}
}

// Ext returns the key extension for a format. Formats are already their
// extension except jpeg variants.
func Ext(format string) string {
	if format == "jpeg" {
		return FormatJPEG
	}
	return format
}

// Encode writes img in the named format. Quality applies to the lossy
// formats and is clamped to 1..100; png ignores it.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	switch format {
	case FormatJPEG, "jpeg":
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatPNG:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
	case FormatWebP:
		if err := webp.Encode(w, img, webp.Options{Quality: quality, Method: 4}); err != nil {
			return fmt.Errorf("encode webp: %w", err)
		}
	case FormatAVIF:
		opts := avif.Options{
			Quality:           quality,
			Speed:             6,
			ChromaSubsampling: image.YCbCrSubsampleRatio444,
		}
		if err := avif.Encode(w, img, opts); err != nil {
			return fmt.Errorf("encode avif: %w", err)
		}
	default:
		return fmt.Errorf("unknown image format %q", format)
	}
	return nil
}
