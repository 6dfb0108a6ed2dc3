// Package local implements the filesystem blob backend. It suits development
// and single-node deployments; objects are served back by the registry itself
// under /files/.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/srcpkg/registry/internal/config"
	"github.com/srcpkg/registry/internal/storage"
)

// FilesRoute is the URL prefix the API server mounts the base path under.
const FilesRoute = "/files"

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage, cfg.Server.BaseURL)
	})
}

// LocalStorage implements storage.Storage on the local filesystem
type LocalStorage struct {
	basePath   string
	keyPrefix  string
	publicHost string
	baseURL    string
}

// New creates a new local filesystem storage backend
func New(cfg *config.StorageConfig, serverBaseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(cfg.Local.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath:   cfg.Local.BasePath,
		keyPrefix:  cfg.KeyPrefix,
		publicHost: cfg.PublicHost,
		baseURL:    strings.TrimSuffix(serverBaseURL, "/"),
	}, nil
}

// Root returns the directory objects are stored under.
func (s *LocalStorage) Root() string {
	return s.basePath
}

func (s *LocalStorage) fullPath(path string) (key, full string) {
	key = storage.ObjectKey(s.keyPrefix, path)
	return key, filepath.Join(s.basePath, filepath.FromSlash(key))
}

// Upload writes the stream to a temporary file and renames it into place, so
// a failed or interrupted upload never leaves a partial object behind.
func (s *LocalStorage) Upload(ctx context.Context, path string, reader io.Reader, _ storage.UploadOptions) (*storage.UploadResult, error) {
	key, full := s.fullPath(path)

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	written, err := io.Copy(tmp, readerWithContext(ctx, reader))
	if err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	return &storage.UploadResult{Path: path, Key: key, Size: written}, nil
}

// Download retrieves an object from the filesystem
func (s *LocalStorage) Download(_ context.Context, path string) (io.ReadCloser, error) {
	_, full := s.fullPath(path)

	file, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes an object and prunes empty parent directories.
func (s *LocalStorage) Delete(_ context.Context, path string) error {
	_, full := s.fullPath(path)

	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	base := filepath.Clean(s.basePath)
	for dir := filepath.Dir(full); dir != base && strings.HasPrefix(dir, base); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break // not empty
		}
	}
	return nil
}

// Exists checks if an object exists at the specified path
func (s *LocalStorage) Exists(_ context.Context, path string) (bool, error) {
	_, full := s.fullPath(path)

	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// PublicURL returns the configured public host URL, or the registry's own
// /files route when no public host is set.
func (s *LocalStorage) PublicURL(path string) string {
	key := storage.ObjectKey(s.keyPrefix, path)
	if s.publicHost != "" {
		return storage.HTTPSURL(s.publicHost, key)
	}
	return s.baseURL + FilesRoute + "/" + key
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}
