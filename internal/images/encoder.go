package images

import (
	"image"
	"image/jpeg"
	"io"
	"strings"

	"github.com/gen2brain/webp"
)

// Encoder writes img in one output format at the given lossy quality (1-100).
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality int) error
	Ext() string
}

// WebPEncoder produces lossy WebP.
type WebPEncoder struct{}

// Encode implements Encoder.
func (WebPEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	return webp.Encode(w, img, webp.Options{Quality: quality})
}

// Ext implements Encoder.
func (WebPEncoder) Ext() string { return "webp" }

// JPEGEncoder produces baseline JPEG.
type JPEGEncoder struct{}

// Encode implements Encoder.
func (JPEGEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// Ext implements Encoder.
func (JPEGEncoder) Ext() string { return "jpeg" }

// DefaultEncoders maps the accepted image_compression_format values.
func DefaultEncoders() map[string]Encoder {
	return map[string]Encoder{
		"webp": WebPEncoder{},
		"jpeg": JPEGEncoder{},
		"jpg":  JPEGEncoder{},
	}
}

func normalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		return "webp"
	}
	return f
}
