package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"lakeflow/internal/domain"
)

// Compile-time check.
var _ domain.ObjectStore = (*S3Store)(nil)

// S3Store uploads and downloads objects in an S3 or S3-compatible bucket.
// Path-style addressing is configurable for Hetzner/MinIO-style endpoints.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Store creates an S3-backed object store from static credentials.
func NewS3Store(cfg Config, bucket, prefix string, logger *slog.Logger) (*S3Store, error) {
	if cfg.S3Region == "" {
		return nil, domain.ErrConfig("S3 region is required")
	}

	opts := s3.Options{
		Region:       cfg.S3Region,
		UsePathStyle: cfg.S3UsePathStyle,
	}
	if cfg.S3KeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.S3KeyID, cfg.S3Secret, "")
	}
	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	return &S3Store{
		client: s3.New(opts),
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Upload writes the file at localPath to key, overwriting any existing
// object, and returns the s3:// URI.
func (s *S3Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", domain.ErrNotFound("local file %q: %v", localPath, err)
	}
	defer f.Close()

	fullKey := joinKey(s.prefix, key)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fullKey),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", domain.ErrTransfer("upload s3://%s/%s: %v", s.bucket, fullKey, err)
	}

	uri := objectURI("s3", s.bucket, fullKey)
	s.logger.Info("uploaded object", "uri", uri)
	return uri, nil
}

// Download fetches uri into localPath.
func (s *S3Store) Download(ctx context.Context, uri, localPath string) error {
	_, bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return domain.ErrNotFound("object %q does not exist", uri)
		}
		return domain.ErrTransfer("get %q: %v", uri, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local dir: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return domain.ErrTransfer("read %q: %v", uri, err)
	}
	return nil
}
