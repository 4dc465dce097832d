// Package artifacts defines the Store interface and common types for the
// run-log archive backends.
//
// When remediation picks up an incident, the raw log blob downloaded from the
// code host is archived before parsing so the evidence behind a generated fix
// survives the provider's own log retention window and can be streamed back
// through the incidents API.
//
// New backends are added by implementing the Store interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    artifacts.Register("mybackend", func(cfg *config.Config) (Store, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The router imports each backend with a blank import to trigger init(), so
// adding a backend requires no changes to the factory or the router wiring.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Store defines the interface for all archive backends.
// Implementations must support upload, download, delete, and URL generation.
type Store interface {
	// Upload stores a blob and returns the archive result with key and checksum
	Upload(ctx context.Context, key string, reader io.Reader, size int64) (*UploadResult, error)

	// Download retrieves a blob and returns a reader
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a blob from the archive
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every blob stored under the given key prefix.
	// Disconnecting a repository uses this to scrub its archived logs.
	DeletePrefix(ctx context.Context, prefix string) error

	// GetURL returns a direct download URL
	// For cloud backends, this generates a signed URL valid for the specified TTL
	// For the local backend, this returns a file path reference
	GetURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Exists checks if a blob exists at the specified key
	Exists(ctx context.Context, key string) (bool, error)

	// GetMetadata retrieves blob metadata without downloading the entire blob
	GetMetadata(ctx context.Context, key string) (*FileMetadata, error)
}

// UploadResult contains information about an archived blob
type UploadResult struct {
	// Key is the archive key where the blob was stored
	Key string

	// Size is the blob size in bytes
	Size int64

	// Checksum is the SHA256 hash of the blob contents
	Checksum string
}

// FileMetadata contains metadata about an archived blob
type FileMetadata struct {
	// Key is the archive key of the blob
	Key string

	// Size is the blob size in bytes
	Size int64

	// Checksum is the SHA256 hash of the blob contents
	Checksum string

	// LastModified is the timestamp when the blob was last modified
	LastModified time.Time
}

// RunLogKey returns the archive key for a workflow run's raw log. Keys are
// deterministic so the incidents API can locate a log from the run row alone.
func RunLogKey(provider, repoFullName, externalRunID string) string {
	return fmt.Sprintf("logs/%s/%s/%s.log", provider, repoFullName, externalRunID)
}

// RunLogPrefix returns the key prefix holding every archived log for one
// repository. The prefix is directory-shaped and always ends with a slash.
func RunLogPrefix(provider, repoFullName string) string {
	return fmt.Sprintf("logs/%s/%s/", provider, repoFullName)
}
