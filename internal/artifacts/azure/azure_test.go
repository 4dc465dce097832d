package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/devflowfix/devflowfix/internal/config"
)

type storedBlob struct {
	content      []byte
	metadata     map[string]string
	lastModified time.Time
}

// newTestStore creates an AzureStore pointed at an httptest server speaking
// just enough of the Azure Blob REST API for these tests. The returned map is
// the server's blob state, keyed by full request path (container/blob...).
func newTestStore(t *testing.T) (*AzureStore, map[string]*storedBlob, func()) {
	t.Helper()

	store := map[string]*storedBlob{}

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// path: /container/blob...
		p := strings.TrimPrefix(r.URL.Path, "/")

		// container creation: PUT /container?restype=container
		if r.Method == http.MethodPut && strings.Contains(r.URL.RawQuery, "restype=container") {
			w.WriteHeader(http.StatusCreated)
			return
		}

		// blob listing: GET /container?restype=container&comp=list&prefix=...
		if r.Method == http.MethodGet && strings.Contains(r.URL.RawQuery, "comp=list") {
			prefix := r.URL.Query().Get("prefix")
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><EnumerationResults ServiceEndpoint="%s" ContainerName="container"><Blobs>`, srv.URL)
			for k := range store {
				if strings.HasPrefix(k, "container/"+prefix) {
					fmt.Fprintf(w, `<Blob><Name>%s</Name><Properties /></Blob>`, strings.TrimPrefix(k, "container/"))
				}
			}
			fmt.Fprintf(w, `</Blobs><NextMarker /></EnumerationResults>`)
			return
		}

		// identify blob key as full path (container/blob...)
		key := p

		switch r.Method {
		case http.MethodPut:
			// Upload: read body and store
			data, _ := io.ReadAll(r.Body)
			// capture metadata headers x-ms-meta-*
			meta := map[string]string{}
			for k, v := range r.Header {
				lk := strings.ToLower(k)
				if strings.HasPrefix(lk, "x-ms-meta-") && len(v) > 0 {
					name := strings.TrimPrefix(lk, "x-ms-meta-")
					meta[name] = v[0]
				}
			}
			store[key] = &storedBlob{content: data, metadata: meta, lastModified: time.Now().UTC()}
			w.WriteHeader(http.StatusCreated)
			return

		case http.MethodGet:
			// Download stream
			if b, ok := store[key]; ok {
				w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
				w.WriteHeader(http.StatusOK)
				w.Write(b.content)
				return
			}
			http.NotFound(w, r)
			return

		case http.MethodHead:
			if b, ok := store[key]; ok {
				w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
				w.Header().Set("Last-Modified", b.lastModified.Format(time.RFC1123))
				for k, v := range b.metadata {
					w.Header().Set("x-ms-meta-"+k, v)
				}
				w.WriteHeader(http.StatusOK)
				return
			}
			http.NotFound(w, r)
			return

		case http.MethodDelete:
			delete(store, key)
			w.WriteHeader(http.StatusAccepted)
			return

		default:
			http.NotFound(w, r)
			return
		}
	}))

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("failed to create azblob client: %v", err)
	}

	s := &AzureStore{
		client:        client,
		containerName: "container",
		accountName:   "account",
		// base64 so GetURL can build a shared key credential for SAS signing
		accountKey: "dGVzdC1rZXk=",
	}

	cleanup := func() { srv.Close() }
	return s, store, cleanup
}

func TestUploadDownloadDeleteAndExists(t *testing.T) {
	s, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	data := []byte("##[error] step failed with exit code 1")

	// Upload
	res, err := s.Upload(ctx, "logs/github/acme/web/42.log", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.Size != int64(len(data)) {
		t.Fatalf("unexpected size: got %d want %d", res.Size, len(data))
	}
	if len(res.Checksum) != 64 {
		t.Fatalf("unexpected checksum length: %d", len(res.Checksum))
	}

	// Download
	rc, err := s.Download(ctx, "logs/github/acme/web/42.log")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Fatalf("download content mismatch: %q", string(got))
	}

	// Exists -> should be true
	exists, err := s.Exists(ctx, "logs/github/acme/web/42.log")
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if !exists {
		t.Fatalf("Exists = false, want true")
	}

	// Delete
	if err := s.Delete(ctx, "logs/github/acme/web/42.log"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Now should not exist
	exists, err = s.Exists(ctx, "logs/github/acme/web/42.log")
	if err != nil {
		t.Fatalf("Exists after delete returned error: %v", err)
	}
	if exists {
		t.Fatalf("Exists = true after delete, want false")
	}
}

func TestUpload_StoresChecksumMetadata(t *testing.T) {
	s, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	data := []byte("content-for-metadata")

	res, err := s.Upload(ctx, "logs/github/acme/web/7.log", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	// GetMetadata should return the stored checksum without re-downloading
	meta, err := s.GetMetadata(ctx, "logs/github/acme/web/7.log")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if meta.Size != int64(len(data)) {
		t.Fatalf("metadata size mismatch: %d", meta.Size)
	}
	if meta.Key != "logs/github/acme/web/7.log" {
		t.Fatalf("metadata key mismatch: %s", meta.Key)
	}
	if meta.Checksum != res.Checksum {
		t.Fatalf("metadata checksum %q does not match upload checksum %q", meta.Checksum, res.Checksum)
	}
}

func TestGetMetadata_ComputesWhenMissing(t *testing.T) {
	s, store, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	data := []byte("no-metadata-content")

	// Seed a blob without the sha256 metadata entry; GetMetadata should
	// fall back to downloading and computing the digest
	store["container/logs/github/acme/web/9.log"] = &storedBlob{
		content:      data,
		metadata:     map[string]string{},
		lastModified: time.Now().UTC(),
	}

	meta, err := s.GetMetadata(ctx, "logs/github/acme/web/9.log")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if meta.Size != int64(len(data)) {
		t.Fatalf("expected size %d got %d", len(data), meta.Size)
	}
	if len(meta.Checksum) != 64 {
		t.Fatalf("expected computed checksum, got %q", meta.Checksum)
	}
}

func TestDeletePrefix_RemovesOnlyMatchingKeys(t *testing.T) {
	s, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	for _, key := range []string{
		"logs/github/acme/web/1.log",
		"logs/github/acme/web/2.log",
		"logs/github/acme/api/1.log",
	} {
		if _, err := s.Upload(ctx, key, strings.NewReader("log data"), 8); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
	}

	if err := s.DeletePrefix(ctx, "logs/github/acme/web/"); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}

	for _, key := range []string{"logs/github/acme/web/1.log", "logs/github/acme/web/2.log"} {
		if exists, _ := s.Exists(ctx, key); exists {
			t.Errorf("DeletePrefix left %s behind", key)
		}
	}
	if exists, _ := s.Exists(ctx, "logs/github/acme/api/1.log"); !exists {
		t.Error("DeletePrefix removed a key outside the prefix")
	}
}

func TestGetURL_SignsSASURL(t *testing.T) {
	s, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	if _, err := s.Upload(ctx, "logs/github/acme/web/5.log", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	u, err := s.GetURL(ctx, "logs/github/acme/web/5.log", time.Hour)
	if err != nil {
		t.Fatalf("GetURL failed: %v", err)
	}
	if !strings.HasPrefix(u, "https://account.blob.core.windows.net/container/") {
		t.Fatalf("unexpected blob URL: %s", u)
	}
	if !strings.Contains(u, "sig=") {
		t.Fatalf("expected SAS signature in URL: %s", u)
	}
}

func TestGetURL_NotFound(t *testing.T) {
	s, _, done := newTestStore(t)
	defer done()

	_, err := s.GetURL(context.Background(), "logs/github/acme/web/none.log", time.Hour)
	if err == nil {
		t.Fatalf("GetURL expected error for nonexistent blob")
	}
}

func TestEnsureContainer_NoError(t *testing.T) {
	s, _, done := newTestStore(t)
	defer done()

	if err := s.EnsureContainer(context.Background()); err != nil {
		t.Fatalf("EnsureContainer failed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// New() — constructor validation (no cloud connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingAccountName(t *testing.T) {
	cfg := &config.AzureArtifactsConfig{
		AccountName:   "",
		AccountKey:    "somekey",
		ContainerName: "container",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for missing account name")
	}
}

func TestNew_MissingAccountKey(t *testing.T) {
	cfg := &config.AzureArtifactsConfig{
		AccountName:   "myaccount",
		AccountKey:    "",
		ContainerName: "container",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for missing account key")
	}
}

func TestNew_MissingContainerName(t *testing.T) {
	cfg := &config.AzureArtifactsConfig{
		AccountName:   "myaccount",
		AccountKey:    "mykey",
		ContainerName: "",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for missing container name")
	}
}
