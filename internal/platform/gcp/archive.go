package gcp

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

// ArchiveBucket stores copies of issued certificates in a single GCS bucket.
// Archived objects are write-only from this service; reads go through
// PublicURL.
type ArchiveBucket interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	PublicURL(key string) string
	Close() error
}

type archiveBucket struct {
	log        *logger.Logger
	client     *storage.Client
	bucket     string
	mode       ObjectStorageMode
	publicBase string
}

func NewArchiveBucket(ctx context.Context, log *logger.Logger, bucket string, cfg ObjectStorageConfig) (ArchiveBucket, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket name is required")
	}
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "ArchiveBucket")

	client, err := newStorageClientForMode(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	publicBase := cfg.PublicBaseURL
	if publicBase == "" && cfg.IsEmulatorMode() {
		publicBase = cfg.EmulatorHost
	}

	serviceLog.Info(
		"Archive storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"emulator_host", cfg.EmulatorHost,
		"bucket", bucket,
	)

	return &archiveBucket{
		log:        serviceLog,
		client:     client,
		bucket:     bucket,
		mode:       cfg.Mode,
		publicBase: publicBase,
	}, nil
}

func newStorageClientForMode(ctx context.Context, cfg ObjectStorageConfig) (*storage.Client, error) {
	switch cfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptions(cfg.Credentials)
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		// The storage client only honours the emulator through the environment.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Value: string(cfg.Mode)}
	}
}

func (a *archiveBucket) Upload(ctx context.Context, key string, body io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentTypeForKey(key)
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (a *archiveBucket) PublicURL(key string) string {
	return publicObjectURL(a.mode, a.publicBase, a.bucket, key)
}

func (a *archiveBucket) Close() error {
	return a.client.Close()
}

func publicObjectURL(mode ObjectStorageMode, publicBase, bucket, key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if mode == ObjectStorageModeGCSEmulator && publicBase != "" {
		return mediaURL(publicBase, bucket, key)
	}
	if publicBase != "" {
		return fmt.Sprintf("%s/%s/%s", publicBase, bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, key)
}

func mediaURL(base, bucket, key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		strings.TrimRight(strings.TrimSpace(base), "/"),
		url.PathEscape(bucket),
		url.PathEscape(key),
	)
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
