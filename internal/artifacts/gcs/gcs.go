// Package gcs implements the Google Cloud Storage archive backend. Downloads
// use time-limited signed URLs generated via the GCS signing API. Supports
// Application Default Credentials, service account JSON keys, and Workload
// Identity Federation for keyless authentication in GKE environments.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/devflowfix/devflowfix/internal/artifacts"
	appconfig "github.com/devflowfix/devflowfix/internal/config"
	"github.com/devflowfix/devflowfix/pkg/checksum"
)

func init() {
	// Register GCS archive backend
	artifacts.Register("gcs", func(cfg *appconfig.Config) (artifacts.Store, error) {
		return New(&cfg.Artifacts.GCS)
	})
}

// GCSStore implements the Store interface for Google Cloud Storage
type GCSStore struct {
	client    *storage.Client
	bucket    string
	projectID string
}

// New creates a new Google Cloud Storage archive backend.
//
// Credentials are resolved in order: inline JSON, key file path, then
// Application Default Credentials (ADC). ADC automatically supports the
// GOOGLE_APPLICATION_CREDENTIALS environment variable, the GCE/GKE metadata
// service (Workload Identity), and gcloud auth application-default login.
func New(cfg *appconfig.GCSArtifactsConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	ctx := context.Background()
	var opts []option.ClientOption

	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		// ADC; no additional options needed
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client:    client,
		bucket:    cfg.Bucket,
		projectID: cfg.ProjectID,
	}, nil
}

// Close closes the GCS client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Upload stores a blob in GCS with its SHA256 digest in object metadata
func (s *GCSStore) Upload(ctx context.Context, key string, reader io.Reader, size int64) (*artifacts.UploadResult, error) {
	// Read all content to calculate checksum
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	// Calculate SHA256 checksum
	sha256sum, err := checksum.CalculateSHA256(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	// Get object handle
	obj := s.client.Bucket(s.bucket).Object(key)

	// Create writer and upload
	writer := obj.NewWriter(ctx)
	writer.Metadata = map[string]string{
		"sha256": sha256sum,
	}

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &artifacts.UploadResult{
		Key:      key,
		Size:     int64(len(data)),
		Checksum: sha256sum,
	}, nil
}

// Download retrieves a blob from GCS
func (s *GCSStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj := s.client.Bucket(s.bucket).Object(key)

	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}

	return reader, nil
}

// Delete removes a blob from GCS
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	obj := s.client.Bucket(s.bucket).Object(key)

	if err := obj.Delete(ctx); err != nil {
		// Object already gone is fine
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}

	return nil
}

// DeletePrefix removes every blob under the given prefix. Disconnecting a
// repository uses this to scrub its archived run logs.
func (s *GCSStore) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}

	return nil
}

// listKeys returns the names of all objects under the given prefix
func (s *GCSStore) listKeys(ctx context.Context, prefix string) ([]string, error) {
	query := &storage.Query{
		Prefix: prefix,
	}

	var keys []string
	it := s.client.Bucket(s.bucket).Objects(ctx, query)

	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		keys = append(keys, attrs.Name)
	}

	return keys, nil
}

// GetURL returns a time-limited signed URL for downloading the blob
func (s *GCSStore) GetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	// Check if blob exists first
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("archived blob not found: %s", key)
	}

	// Generate signed URL
	// Note: This requires the service account to have the iam.serviceAccountTokenCreator role
	// or for ADC to have signBlob permissions
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	}

	url, err := s.client.Bucket(s.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return url, nil
}

// Exists checks if a blob exists at the specified key
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	obj := s.client.Bucket(s.bucket).Object(key)

	_, err := obj.Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// GetMetadata retrieves blob metadata without downloading the entire blob
func (s *GCSStore) GetMetadata(ctx context.Context, key string) (*artifacts.FileMetadata, error) {
	obj := s.client.Bucket(s.bucket).Object(key)

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, fmt.Errorf("archived blob not found: %s", key)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	// Try to get SHA256 from metadata
	var sha256sum string
	if attrs.Metadata != nil {
		if sha256Val, ok := attrs.Metadata["sha256"]; ok {
			sha256sum = sha256Val
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

	return &artifacts.FileMetadata{
		Key:          key,
		Size:         attrs.Size,
		Checksum:     sha256sum,
		LastModified: attrs.Updated,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *GCSStore) EnsureBucket(ctx context.Context) error {
	bucket := s.client.Bucket(s.bucket)

	// Check if bucket exists
	_, err := bucket.Attrs(ctx)
	if err == nil {
		return nil
	}

	if err != storage.ErrBucketNotExist {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	// Create the bucket
	if s.projectID == "" {
		return fmt.Errorf("artifacts.gcs.project_id is required to create a bucket")
	}

	if err := bucket.Create(ctx, s.projectID, nil); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}
