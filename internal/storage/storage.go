// Package storage defines the blob store interface used for package tarballs
// and the registry of backend constructors.
//
// Backends register themselves from an init() function in their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The server blank-imports each backend package to trigger registration.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned by Download when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// Storage is a blob store. Paths are relative to the backend's configured
// key prefix; backends apply the prefix themselves.
type Storage interface {
	// Upload streams reader to path. opts.Size is the declared length and is
	// passed to backends that need it up front.
	Upload(ctx context.Context, path string, reader io.Reader, opts UploadOptions) (*UploadResult, error)

	// Download retrieves an object
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// PublicURL returns the publicly resolvable location of path
	PublicURL(path string) string
}

// UploadOptions describes the object being written.
type UploadOptions struct {
	Size            int64
	ContentType     string
	ContentEncoding string
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	// Path is the storage path the caller asked for
	Path string

	// Key is the full object key, prefix included
	Key string

	// Size is the number of bytes written
	Size int64
}

// ObjectKey joins the key prefix and a relative path into a full object key.
func ObjectKey(prefix, p string) string {
	p = strings.TrimPrefix(p, "/")
	if prefix == "" {
		return p
	}
	return path.Join(strings.Trim(prefix, "/"), p)
}

// HTTPSURL builds https://<host>/<key>.
func HTTPSURL(host, key string) string {
	return "https://" + strings.TrimSuffix(host, "/") + "/" + key
}
