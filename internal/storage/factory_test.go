package storage_test

import (
	"context"
	"io"
	"testing"

	"github.com/srcpkg/registry/internal/config"
	"github.com/srcpkg/registry/internal/storage"
)

type mockStorage struct{}

func (m *mockStorage) Upload(_ context.Context, _ string, _ io.Reader, _ storage.UploadOptions) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *mockStorage) Download(_ context.Context, _ string) (io.ReadCloser, error) { return nil, nil }
func (m *mockStorage) Delete(_ context.Context, _ string) error                    { return nil }
func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error)            { return false, nil }
func (m *mockStorage) PublicURL(p string) string                                   { return p }

// ---------------------------------------------------------------------------
// Register / NewStorage
// ---------------------------------------------------------------------------

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("test-backend", func(_ *config.Config) (storage.Storage, error) {
		return &mockStorage{}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "test-backend"

	s, err := storage.NewStorage(cfg)
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if s == nil {
		t.Fatal("NewStorage() returned nil")
	}
}

func TestNewStorage_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "completely-unknown-backend"

	if _, err := storage.NewStorage(cfg); err == nil {
		t.Error("NewStorage() = nil error, want error for unregistered backend")
	}
}

// ---------------------------------------------------------------------------
// Key and URL helpers
// ---------------------------------------------------------------------------

func TestObjectKey(t *testing.T) {
	tests := []struct{ prefix, path, want string }{
		{"pkg", "foo/foo-1.0.0.tar.gz", "pkg/foo/foo-1.0.0.tar.gz"},
		{"/pkg/", "/foo/foo-1.0.0.tar.gz", "pkg/foo/foo-1.0.0.tar.gz"},
		{"", "foo/foo-1.0.0.tar.gz", "foo/foo-1.0.0.tar.gz"},
		{"a/b", "x", "a/b/x"},
	}
	for _, tt := range tests {
		if got := storage.ObjectKey(tt.prefix, tt.path); got != tt.want {
			t.Errorf("ObjectKey(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestHTTPSURL(t *testing.T) {
	got := storage.HTTPSURL("blobs.example.com/", "pkg/foo/foo-1.0.0.tar.gz")
	want := "https://blobs.example.com/pkg/foo/foo-1.0.0.tar.gz"
	if got != want {
		t.Errorf("HTTPSURL() = %q, want %q", got, want)
	}
}
