package images

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// Uploader moves a local file to a host and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, localPath string, cfg ingest.ImageConfig) (string, error)
}

// hostResponse is the image host's JSON reply. Code 1 means success and
// Message then carries the stored path.
type hostResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HostUploader posts images to a tgState-compatible host API.
type HostUploader struct {
	client       *http.Client
	internalHost string
	retry        ingest.RetryPolicy
	clock        ingest.Clock
	logger       *zap.Logger
}

// NewHostUploader builds an uploader that calls http://{internalHost}:{port}/api.
func NewHostUploader(client *http.Client, internalHost string, retry ingest.RetryPolicy, clock ingest.Clock, logger *zap.Logger) *HostUploader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostUploader{
		client:       client,
		internalHost: internalHost,
		retry:        retry,
		clock:        clock,
		logger:       logger,
	}
}

// Upload implements Uploader, retrying transient network failures per the retry policy.
func (u *HostUploader) Upload(ctx context.Context, localPath string, cfg ingest.ImageConfig) (string, error) {
	for attempt := 0; ; attempt++ {
		url, err := u.post(ctx, localPath, cfg)
		if err == nil {
			return url, nil
		}
		if u.retry == nil || !u.retry.ShouldRetry(err, attempt) {
			return "", err
		}
		wait := u.retry.Backoff(attempt)
		u.logger.Warn("image host upload failed, retrying",
			zap.String("path", localPath),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("upload canceled: %w", ctx.Err())
		case <-u.clock.After(wait):
		}
	}
}

func (u *HostUploader) post(ctx context.Context, localPath string, cfg ingest.ImageConfig) (string, error) {
	body, contentType, err := multipartBody(localPath)
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("http://%s:%s/api", u.internalHost, cfg.HostPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if pass := strings.TrimSpace(cfg.HostPass); pass != "" && pass != "none" {
		req.AddCookie(&http.Cookie{Name: "p", Value: pass})
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post image: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			u.logger.Debug("close upload response", zap.Error(cerr))
		}
	}()

	var out hostResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode host response (status %d): %w", resp.StatusCode, err)
	}
	if out.Code != 1 {
		return "", fmt.Errorf("image host rejected upload: %s", out.Message)
	}
	return JoinURL(cfg.HostURL, out.Message), nil
}

func multipartBody(localPath string) (*bytes.Buffer, string, error) {
	f, err := os.Open(localPath) // #nosec G304 -- path is built by the pipeline under upload_dir.
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filepath.Base(localPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// JoinURL joins base and p with exactly one slash.
func JoinURL(base, p string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}

// BlobStore is the object-store contract shared by the gcs and local backends.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
}

// BlobUploader stores images under content-addressed keys
// "<prefix>/<YYYYMMDD>/<sha256>.<ext>" in a BlobStore.
type BlobUploader struct {
	store  BlobStore
	hasher ingest.Hasher
	clock  ingest.Clock
	prefix string
}

// NewBlobUploader wires a BlobUploader.
func NewBlobUploader(store BlobStore, hasher ingest.Hasher, clock ingest.Clock, prefix string) *BlobUploader {
	return &BlobUploader{
		store:  store,
		hasher: hasher,
		clock:  clock,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Upload implements Uploader. The returned URL comes from the store.
func (u *BlobUploader) Upload(ctx context.Context, localPath string, _ ingest.ImageConfig) (string, error) {
	data, err := os.ReadFile(localPath) // #nosec G304 -- path is built by the pipeline under upload_dir.
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	digest, err := u.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash image: %w", err)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(localPath)), ".")
	key := path.Join(u.prefix, u.clock.Now().Format("20060102"), digest+"."+ext)
	url, err := u.store.PutObject(ctx, key, contentTypeFor(ext), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return url, nil
}

func contentTypeFor(ext string) string {
	switch ext {
	case "webp":
		return "image/webp"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
