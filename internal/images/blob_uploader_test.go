package images

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tg-ingest/internal/clock/fake"
	"github.com/JakeFAU/tg-ingest/internal/hash/sha256"
	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

type memBlobStore struct {
	key         string
	contentType string
	data        []byte
}

func (m *memBlobStore) PutObject(_ context.Context, key, contentType string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	m.key, m.contentType, m.data = key, contentType, buf.Bytes()
	return "https://cdn.example.com/" + key, nil
}

func TestBlobUploaderContentAddressedKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "photo_compressed.webp")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	store := &memBlobStore{}
	clk := fake.New(time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC))
	u := NewBlobUploader(store, sha256.New(), clk, "/images/")

	url, err := u.Upload(context.Background(), path, ingest.ImageConfig{})
	require.NoError(t, err)

	wantKey := "images/20240309/b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9.webp"
	require.Equal(t, wantKey, store.key)
	require.Equal(t, "image/webp", store.contentType)
	require.Equal(t, "https://cdn.example.com/"+wantKey, url)
}
