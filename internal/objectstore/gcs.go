package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"lakeflow/internal/domain"
)

// Compile-time check.
var _ domain.ObjectStore = (*GCSStore)(nil)

// GCSStore uploads and downloads objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewGCSStore creates a GCS-backed object store.
func NewGCSStore(ctx context.Context, cfg Config, bucket, prefix string, logger *slog.Logger) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}
	if cfg.GCSEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.GCSEndpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}

	return &GCSStore{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

// Upload writes the file at localPath to key, overwriting any existing
// object, and returns the gs:// URI.
func (s *GCSStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", domain.ErrNotFound("local file %q: %v", localPath, err)
	}
	defer f.Close()

	fullKey := joinKey(s.prefix, key)
	w := s.client.Bucket(s.bucket).Object(fullKey).NewWriter(ctx)

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", domain.ErrTransfer("upload gs://%s/%s: %v", s.bucket, fullKey, err)
	}
	if err := w.Close(); err != nil {
		return "", domain.ErrTransfer("finalize gs://%s/%s: %v", s.bucket, fullKey, err)
	}

	uri := objectURI("gs", s.bucket, fullKey)
	s.logger.Info("uploaded object", "uri", uri)
	return uri, nil
}

// Download fetches uri into localPath.
func (s *GCSStore) Download(ctx context.Context, uri, localPath string) error {
	_, bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}

	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return domain.ErrNotFound("object %q does not exist", uri)
	}
	if err != nil {
		return domain.ErrTransfer("open %q: %v", uri, err)
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local dir: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return domain.ErrTransfer("read %q: %v", uri, err)
	}
	return nil
}
