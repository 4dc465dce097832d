// Package azure implements the Azure Blob Storage archive backend. Uploads go
// directly to Blob Storage with the SHA256 digest stored in blob metadata;
// downloads are served via time-limited SAS (Shared Access Signature) URLs
// generated on demand rather than proxied through the service.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/devflowfix/devflowfix/internal/artifacts"
	"github.com/devflowfix/devflowfix/internal/config"
	"github.com/devflowfix/devflowfix/pkg/checksum"
)

func init() {
	// Register Azure archive backend
	artifacts.Register("azure", func(cfg *config.Config) (artifacts.Store, error) {
		return New(&cfg.Artifacts.Azure)
	})
}

// AzureStore implements the Store interface for Azure Blob Storage
type AzureStore struct {
	client        *azblob.Client
	containerName string
	accountName   string
	accountKey    string
}

// New creates a new Azure Blob Storage archive backend
func New(cfg *config.AzureArtifactsConfig) (*AzureStore, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	// Create credential using shared key
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	// Create service URL
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)

	// Create client
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStore{
		client:        client,
		containerName: cfg.ContainerName,
		accountName:   cfg.AccountName,
		accountKey:    cfg.AccountKey,
	}, nil
}

// Upload stores a blob in Azure Blob Storage with its SHA256 digest in
// blob metadata so GetMetadata can return it without re-downloading.
func (s *AzureStore) Upload(ctx context.Context, key string, reader io.Reader, size int64) (*artifacts.UploadResult, error) {
	// Run logs are small enough to buffer for checksumming
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	// Calculate SHA256 checksum
	sha256sum, err := checksum.CalculateSHA256(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	// Get blob client for this key
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(key)

	// Upload the blob with metadata containing SHA256
	_, err = blobClient.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		Metadata: map[string]*string{
			"sha256": &sha256sum,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &artifacts.UploadResult{
		Key:      key,
		Size:     int64(len(data)),
		Checksum: sha256sum,
	}, nil
}

// Download retrieves a blob from Azure Blob Storage
func (s *AzureStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	// Get blob client for this key
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(key)

	// Download the blob
	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}

	return resp.Body, nil
}

// Delete removes a blob from Azure Blob Storage
func (s *AzureStore) Delete(ctx context.Context, key string) error {
	// Get blob client for this key
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(key)

	// Delete the blob
	_, err := blobClient.Delete(ctx, nil)
	if err != nil {
		// Azure SDK returns an error for non-existent blobs
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}

	return nil
}

// DeletePrefix removes every blob under the given prefix. Disconnecting a
// repository uses this to scrub its archived run logs.
func (s *AzureStore) DeletePrefix(ctx context.Context, prefix string) error {
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list blobs under prefix: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			if _, err := s.client.DeleteBlob(ctx, s.containerName, *item.Name, nil); err != nil {
				return fmt.Errorf("failed to delete blob %s: %w", *item.Name, err)
			}
		}
	}

	return nil
}

// GetURL returns a time-limited SAS URL for downloading the blob
func (s *AzureStore) GetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	// Check if blob exists first
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("archived blob not found: %s", key)
	}

	// Generate SAS token for direct blob access
	credential, err := azblob.NewSharedKeyCredential(s.accountName, s.accountKey)
	if err != nil {
		return "", fmt.Errorf("failed to create credential for SAS: %w", err)
	}

	// Set SAS permissions and expiry
	sasPermissions := sas.BlobPermissions{Read: true}
	startTime := time.Now().UTC().Add(-5 * time.Minute) // Allow for clock skew
	expiryTime := time.Now().UTC().Add(ttl)

	// Build SAS query parameters
	sasQueryParams, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     startTime,
		ExpiryTime:    expiryTime,
		Permissions:   sasPermissions.String(),
		ContainerName: s.containerName,
		BlobName:      key,
	}.SignWithSharedKey(credential)
	if err != nil {
		return "", fmt.Errorf("failed to generate SAS token: %w", err)
	}

	// Build the full URL
	blobURL := fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s",
		s.accountName, s.containerName, url.PathEscape(key))

	return fmt.Sprintf("%s?%s", blobURL, sasQueryParams.Encode()), nil
}

// Exists checks if a blob exists at the specified key
func (s *AzureStore) Exists(ctx context.Context, key string) (bool, error) {
	// Get blob client for this key
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(key)

	// Get blob properties to check existence
	_, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		// Azure SDK uses bloberror.StorageError for "not found"
		return false, nil
	}

	return true, nil
}

// GetMetadata retrieves blob metadata without downloading the entire blob
func (s *AzureStore) GetMetadata(ctx context.Context, key string) (*artifacts.FileMetadata, error) {
	// Get blob client for this key
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(key)

	// Get blob properties
	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	// Azure stores MD5 natively, not SHA256, so Upload stashes the SHA256
	// in blob metadata for retrieval here
	var sha256sum string
	if props.Metadata != nil {
		if sha256Val, ok := props.Metadata["sha256"]; ok && sha256Val != nil {
			sha256sum = *sha256Val
		}
	}

	// If no stored checksum, download and compute
	if sha256sum == "" {
		reader, err := s.Download(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to download for checksum: %w", err)
		}
		defer reader.Close()

		sha256sum, err = checksum.CalculateSHA256(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to compute checksum: %w", err)
		}
	}

	var size int64
	if props.ContentLength != nil {
		size = *props.ContentLength
	}

	var lastModified time.Time
	if props.LastModified != nil {
		lastModified = *props.LastModified
	}

	return &artifacts.FileMetadata{
		Key:          key,
		Size:         size,
		Checksum:     sha256sum,
		LastModified: lastModified,
	}, nil
}

// EnsureContainer creates the container if it doesn't exist
func (s *AzureStore) EnsureContainer(ctx context.Context) error {
	containerClient := s.client.ServiceClient().NewContainerClient(s.containerName)

	// Try to create the container
	_, err := containerClient.Create(ctx, nil)
	if err != nil {
		// Container might already exist, which is fine
		// A more robust check would parse the error type
		return nil
	}

	return nil
}
