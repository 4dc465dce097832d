// Package local implements the local filesystem archive backend. This backend is
// intended for development and single-node deployments only — it does not support
// horizontal scaling (multiple instances would need access to the same filesystem,
// e.g., via NFS). For production, use a cloud archive backend.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devflowfix/devflowfix/internal/artifacts"
	"github.com/devflowfix/devflowfix/internal/config"
)

func init() {
	// Register local archive backend
	artifacts.Register("local", func(cfg *config.Config) (artifacts.Store, error) {
		return New(&cfg.Artifacts.Local)
	})
}

// LocalStore implements the Store interface for local filesystem archiving
type LocalStore struct {
	basePath string
}

// New creates a new local filesystem archive backend
func New(cfg *config.LocalArtifactsConfig) (*LocalStore, error) {
	// Ensure base path exists
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &LocalStore{basePath: cfg.BasePath}, nil
}

// Upload stores a blob in the local filesystem
func (s *LocalStore) Upload(ctx context.Context, key string, reader io.Reader, size int64) (*artifacts.UploadResult, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	// Ensure directory exists
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	// Calculate checksum while writing
	hasher := sha256.New()
	multiWriter := io.MultiWriter(file, hasher)

	written, err := io.Copy(multiWriter, reader)
	if err != nil {
		// Clean up partial file
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))

	return &artifacts.UploadResult{
		Key:      key,
		Size:     written,
		Checksum: checksum,
	}, nil
}

// Download retrieves a blob from the local filesystem
func (s *LocalStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archived blob not found: %s", key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes a blob from the local filesystem
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil // Blob doesn't exist, consider it deleted
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.pruneEmptyParents(fullPath)

	return nil
}

// DeletePrefix removes every blob stored under the given key prefix. Prefixes
// are directory-shaped (as produced by RunLogPrefix), so this maps to removing
// the corresponding directory tree.
func (s *LocalStore) DeletePrefix(ctx context.Context, prefix string) error {
	dir := filepath.Join(s.basePath, filepath.FromSlash(strings.TrimSuffix(prefix, "/")))
	if dir == s.basePath {
		return fmt.Errorf("refusing to delete archive root")
	}

	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil // Nothing archived under this prefix
		}
		return fmt.Errorf("failed to stat archive prefix: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete archive prefix: %w", err)
	}

	s.pruneEmptyParents(dir)

	return nil
}

// pruneEmptyParents removes now-empty directories between path and the archive
// root, best effort.
func (s *LocalStore) pruneEmptyParents(path string) {
	dir := filepath.Dir(path)
	for dir != s.basePath {
		if err := os.Remove(dir); err != nil {
			break // Directory not empty or other error, stop trying
		}
		dir = filepath.Dir(dir)
	}
}

// GetURL returns a file:// URL for local access. The incidents API streams
// archived logs itself, so local deployments never hand this URL to clients.
func (s *LocalStore) GetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("archived blob not found: %s", key)
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	return fmt.Sprintf("file://%s", fullPath), nil
}

// Exists checks if a blob exists at the specified key
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}

	return true, nil
}

// GetMetadata retrieves blob metadata without downloading the blob
func (s *LocalStore) GetMetadata(ctx context.Context, key string) (*artifacts.FileMetadata, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	stat, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archived blob not found: %s", key)
		}
		return nil, fmt.Errorf("failed to get file metadata: %w", err)
	}

	// Calculate checksum by reading the file
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))

	return &artifacts.FileMetadata{
		Key:          key,
		Size:         stat.Size(),
		Checksum:     checksum,
		LastModified: stat.ModTime(),
	}, nil
}
