package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"lakeflow/internal/domain"
)

// Compile-time check.
var _ domain.ObjectStore = (*AzureStore)(nil)

// AzureStore uploads and downloads blobs in an Azure Blob Storage container.
// Only account-key authentication is supported.
type AzureStore struct {
	client    *azblob.Client
	container string
	prefix    string
	logger    *slog.Logger
}

// NewAzureStore creates an Azure-backed object store from shared-key credentials.
func NewAzureStore(cfg Config, container, prefix string, logger *slog.Logger) (*AzureStore, error) {
	if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" {
		return nil, domain.ErrConfig("Azure account name and key are required")
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AzureAccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create azblob client: %w", err)
	}

	return &AzureStore{client: client, container: container, prefix: prefix, logger: logger}, nil
}

// Upload writes the file at localPath to key, overwriting any existing blob,
// and returns the azure:// URI.
func (s *AzureStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", domain.ErrNotFound("local file %q: %v", localPath, err)
	}
	defer f.Close()

	fullKey := joinKey(s.prefix, key)
	if _, err := s.client.UploadFile(ctx, s.container, fullKey, f, nil); err != nil {
		return "", domain.ErrTransfer("upload azure://%s/%s: %v", s.container, fullKey, err)
	}

	uri := objectURI("azure", s.container, fullKey)
	s.logger.Info("uploaded object", "uri", uri)
	return uri, nil
}

// Download fetches uri into localPath.
func (s *AzureStore) Download(ctx context.Context, uri, localPath string) error {
	_, container, key, err := ParseURI(uri)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local dir: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", localPath, err)
	}
	defer f.Close()

	if _, err := s.client.DownloadFile(ctx, container, key, f, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return domain.ErrNotFound("object %q does not exist", uri)
		}
		return domain.ErrTransfer("get %q: %v", uri, err)
	}
	return nil
}
