package images

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	_ "image/jpeg"
	_ "image/png"
	"os"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxDimension bounds both sides of a transcoded image.
const MaxDimension = 1024

// minRetryQuality is the floor for the second, smaller encode.
const minRetryQuality = 10

// TranscodeResult reports what a transcode produced.
type TranscodeResult struct {
	OriginalBytes   int64
	CompressedBytes int64
	Quality         int
	Attempts        int
}

// Ratio is the fraction of bytes saved, negative when the output grew.
func (r TranscodeResult) Ratio() float64 {
	if r.OriginalBytes == 0 {
		return 0
	}
	return 1 - float64(r.CompressedBytes)/float64(r.OriginalBytes)
}

// RetryQuality is the quality used for the second encode.
func RetryQuality(quality int) int {
	return max(minRetryQuality, quality-20)
}

// Transcode fits src into the bounding box and writes dst with enc. When the
// output is not smaller than the input it re-encodes once at RetryQuality.
func Transcode(src, dst string, enc Encoder, quality int, logger *zap.Logger) (TranscodeResult, error) {
	raw, err := os.ReadFile(src) // #nosec G304 -- path is built by the pipeline under upload_dir.
	if err != nil {
		return TranscodeResult{}, fmt.Errorf("read source: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return TranscodeResult{}, fmt.Errorf("decode source: %w", err)
	}
	img = fit(img, MaxDimension)

	res := TranscodeResult{OriginalBytes: int64(len(raw)), Quality: quality}
	out, err := encode(enc, img, quality)
	if err != nil {
		return TranscodeResult{}, err
	}
	res.Attempts = 1
	if int64(len(out)) >= res.OriginalBytes {
		logger.Warn("transcoded image not smaller, retrying at lower quality",
			zap.String("original", FormatSize(res.OriginalBytes)),
			zap.String("compressed", FormatSize(int64(len(out)))),
			zap.Int("quality", RetryQuality(quality)),
		)
		res.Quality = RetryQuality(quality)
		out, err = encode(enc, img, res.Quality)
		if err != nil {
			return TranscodeResult{}, err
		}
		res.Attempts = 2
	}
	if err := os.WriteFile(dst, out, 0o600); err != nil {
		return TranscodeResult{}, fmt.Errorf("write transcoded: %w", err)
	}
	res.CompressedBytes = int64(len(out))

	logger.Info("image transcoded",
		zap.String("src", src),
		zap.String("dst", dst),
		zap.String("original", FormatSize(res.OriginalBytes)),
		zap.String("compressed", FormatSize(res.CompressedBytes)),
		zap.String("ratio", fmt.Sprintf("%.2f%%", res.Ratio()*100)),
	)
	if res.CompressedBytes > res.OriginalBytes {
		logger.Warn("transcoded image still larger than original; consider another quality or format",
			zap.String("dst", dst))
	}
	return res, nil
}

func encode(enc Encoder, img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img, quality); err != nil {
		return nil, fmt.Errorf("encode %s: %w", enc.Ext(), err)
	}
	return buf.Bytes(), nil
}

// fit scales img down, preserving aspect ratio, so neither side exceeds limit.
func fit(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= limit && h <= limit {
		return img
	}
	nw, nh := limit, limit
	if w >= h {
		nh = max(1, h*limit/w)
	} else {
		nw = max(1, w*limit/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
