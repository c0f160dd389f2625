package images

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// writeNoisePNG writes a w x h PNG that compresses poorly.
func writeNoisePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(2166136261)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			seed ^= uint32(x*31 + y*17)
			seed *= 16777619
			img.Set(x, y, color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255})
		}
	}
	f, err := os.Create(path) // #nosec G304 -- test temp path.
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

type fakeDownloader struct {
	t    *testing.T
	w, h int
	err  error

	mu    sync.Mutex
	paths []string
}

func (d *fakeDownloader) DownloadPhoto(_ context.Context, _ *ingest.PhotoRef, dst string) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	d.paths = append(d.paths, dst)
	d.mu.Unlock()
	writeNoisePNG(d.t, dst, d.w, d.h)
	return nil
}

func photoMessage(id int) ingest.RawMessage {
	return ingest.RawMessage{ID: id, ChannelID: 1001, Text: "x", Photo: &ingest.PhotoRef{ID: int64(id)}}
}
