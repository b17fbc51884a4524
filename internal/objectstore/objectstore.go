// Package objectstore implements whole-object upload/download against cloud
// bucket stores. Puts overwrite in place, which is what keeps interval
// re-runs idempotent at the storage layer.
package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"lakeflow/internal/domain"
)

// Config selects and configures a backend. URL's scheme picks the
// implementation: gs://, s3://, or azure://; the path component is an
// optional base prefix for all keys.
type Config struct {
	URL string

	// S3 and S3-compatible stores.
	S3Endpoint     string
	S3Region       string
	S3KeyID        string
	S3Secret       string
	S3UsePathStyle bool

	// GCS.
	GCSCredentialsFile string
	GCSEndpoint        string // override for emulators

	// Azure Blob.
	AzureAccountName string
	AzureAccountKey  string
}

// New creates the object store client selected by cfg.URL's scheme.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (domain.ObjectStore, error) {
	scheme, bucket, prefix, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "gs":
		return NewGCSStore(ctx, cfg, bucket, prefix, logger)
	case "s3":
		return NewS3Store(cfg, bucket, prefix, logger)
	case "azure":
		return NewAzureStore(cfg, bucket, prefix, logger)
	default:
		return nil, domain.ErrConfig("unsupported object store scheme %q in %q", scheme, cfg.URL)
	}
}

// ParseURL splits a store URL into scheme, bucket, and base prefix.
func ParseURL(storeURL string) (scheme, bucket, prefix string, err error) {
	u, err := url.Parse(storeURL)
	if err != nil {
		return "", "", "", domain.ErrConfig("parse object store URL %q: %v", storeURL, err)
	}
	if u.Host == "" {
		return "", "", "", domain.ErrConfig("object store URL %q has no bucket", storeURL)
	}
	return u.Scheme, u.Host, strings.Trim(u.Path, "/"), nil
}

// ParseURI splits an object URI into scheme, bucket, and key.
func ParseURI(uri string) (scheme, bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", "", domain.ErrValidation("parse object URI %q: %v", uri, err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", "", domain.ErrValidation("object URI %q missing bucket or key", uri)
	}
	return u.Scheme, u.Host, key, nil
}

// joinKey prepends the base prefix to a key.
func joinKey(prefix, key string) string {
	key = strings.TrimPrefix(key, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func objectURI(scheme, bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, bucket, key)
}
