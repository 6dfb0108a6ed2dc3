// Package azure implements the Azure Blob Storage backend. Tarballs are
// streamed in blocks with UploadStream, so memory use is bounded by the block
// size rather than the package size.
package azure

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/srcpkg/registry/internal/config"
	"github.com/srcpkg/registry/internal/storage"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage)
	})
}

// AzureStorage implements storage.Storage for Azure Blob Storage
type AzureStorage struct {
	client        *azblob.Client
	serviceURL    string
	containerName string
	keyPrefix     string
	publicHost    string
}

// New creates a new Azure Blob Storage backend
func New(storageCfg *config.StorageConfig) (*AzureStorage, error) {
	cfg := &storageCfg.Azure
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL+"/", credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStorage{
		client:        client,
		serviceURL:    serviceURL,
		containerName: cfg.ContainerName,
		keyPrefix:     storageCfg.KeyPrefix,
		publicHost:    storageCfg.PublicHost,
	}, nil
}

func (s *AzureStorage) blobName(path string) string {
	return storage.ObjectKey(s.keyPrefix, path)
}

// Upload streams the object into a block blob
func (s *AzureStorage) Upload(ctx context.Context, path string, reader io.Reader, opts storage.UploadOptions) (*storage.UploadResult, error) {
	key := s.blobName(path)
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(key)

	headers := &blob.HTTPHeaders{}
	if opts.ContentType != "" {
		headers.BlobContentType = to.Ptr(opts.ContentType)
	}
	if opts.ContentEncoding != "" {
		headers.BlobContentEncoding = to.Ptr(opts.ContentEncoding)
	}

	counter := &countingReader{r: reader}
	_, err := blobClient.UploadStream(ctx, counter, &blockblob.UploadStreamOptions{HTTPHeaders: headers})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.UploadResult{Path: path, Key: key, Size: counter.n}, nil
}

// Download retrieves an object from Azure Blob Storage
func (s *AzureStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(s.blobName(path))

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	return resp.Body, nil
}

// Delete removes an object from Azure Blob Storage
func (s *AzureStorage) Delete(ctx context.Context, path string) error {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(s.blobName(path))

	if _, err := blobClient.Delete(ctx, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}

// Exists checks if an object exists at the specified path
func (s *AzureStorage) Exists(ctx context.Context, path string) (bool, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(s.blobName(path))

	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ResourceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get blob properties: %w", err)
	}
	return true, nil
}

// PublicURL returns the public host URL if configured, else the blob's
// account URL.
func (s *AzureStorage) PublicURL(path string) string {
	key := s.blobName(path)
	if s.publicHost != "" {
		return storage.HTTPSURL(s.publicHost, key)
	}
	return strings.TrimSuffix(s.serviceURL, "/") + "/" + s.containerName + "/" + key
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
