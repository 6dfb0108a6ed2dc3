// Package gcs implements the Google Cloud Storage backend. Supports
// Application Default Credentials, service account JSON keys, and Workload
// Identity Federation for keyless authentication in GKE and GitHub Actions
// environments.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/srcpkg/registry/internal/config"
	appstorage "github.com/srcpkg/registry/internal/storage"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage)
	})
}

// GCSStorage implements the Storage interface for Google Cloud Storage
type GCSStorage struct {
	client     *storage.Client
	bucket     string
	keyPrefix  string
	publicHost string
}

// New connects to the configured bucket. AuthMethod selects credentials:
// "default" (Application Default Credentials, which also covers Workload
// Identity), "service_account" (a key file or inline JSON) or
// "workload_identity". When empty it is inferred from the credential fields.
func New(storageCfg *appconfig.StorageConfig) (*GCSStorage, error) {
	cfg := &storageCfg.GCS
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: failed to create client: %w", err)
	}
	return &GCSStorage{
		client:     client,
		bucket:     cfg.Bucket,
		keyPrefix:  storageCfg.KeyPrefix,
		publicHost: storageCfg.PublicHost,
	}, nil
}

func clientOptions(cfg *appconfig.GCSStorageConfig) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		// Emulators such as fake-gcs-server.
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	method := cfg.AuthMethod
	if method == "" && (cfg.CredentialsFile != "" || cfg.CredentialsJSON != "") {
		method = "service_account"
	}

	switch method {
	case "", "default", "workload_identity":
		return opts, nil
	case "service_account":
		switch {
		case cfg.CredentialsJSON != "":
			return append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))), nil
		case cfg.CredentialsFile != "":
			return append(opts, option.WithCredentialsFile(cfg.CredentialsFile)), nil
		}
		return nil, errors.New("gcs: service_account auth needs credentials_file or credentials_json")
	default:
		return nil, fmt.Errorf("gcs: unsupported auth_method %q", method)
	}
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(appstorage.ObjectKey(s.keyPrefix, path))
}

// Upload streams the object through a GCS writer. The object only becomes
// visible once the writer closes successfully; a failed copy cancels it.
func (s *GCSStorage) Upload(ctx context.Context, path string, reader io.Reader, opts appstorage.UploadOptions) (*appstorage.UploadResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obj := s.object(path)
	writer := obj.NewWriter(ctx)
	writer.ContentType = opts.ContentType
	writer.ContentEncoding = opts.ContentEncoding

	written, err := io.Copy(writer, reader)
	if err != nil {
		cancel()
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &appstorage.UploadResult{
		Path: path,
		Key:  obj.ObjectName(),
		Size: written,
	}, nil
}

// Download retrieves a file from GCS
func (s *GCSStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	reader, err := s.object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", appstorage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return reader, nil
}

// Delete removes a file from GCS
func (s *GCSStorage) Delete(ctx context.Context, path string) error {
	if err := s.object(path).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// Exists checks if a file exists at the specified path
func (s *GCSStorage) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := s.object(path).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// PublicURL returns the public host URL if configured, else the object's
// storage.googleapis.com URL.
func (s *GCSStorage) PublicURL(path string) string {
	key := appstorage.ObjectKey(s.keyPrefix, path)
	if s.publicHost != "" {
		return appstorage.HTTPSURL(s.publicHost, key)
	}
	return appstorage.HTTPSURL("storage.googleapis.com", s.bucket+"/"+key)
}
