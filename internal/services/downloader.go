package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/srcpkg/registry/internal/db/models"
	"github.com/srcpkg/registry/internal/safego"
	"github.com/srcpkg/registry/internal/storage"
	"github.com/srcpkg/registry/internal/telemetry"
)

const (
	tarballSuffix       = ".tar.gz"
	recordDownloadLimit = 5 * time.Second
)

// DownloadTarget is a resolved download: where the tarball lives and which
// catalog rows it belongs to.
type DownloadTarget struct {
	PackageID int64
	VersionID int64
	Version   string
	URL       string
}

// Downloader resolves download requests to blob URLs and records them.
type Downloader struct {
	packages PackageStore
	blobs    storage.Storage
	detach   safego.Runner
}

// NewDownloader creates a Downloader. Counter updates run on background
// goroutines launched through safego.
func NewDownloader(packages PackageStore, blobs storage.Storage) *Downloader {
	return &Downloader{packages: packages, blobs: blobs, detach: safego.Detached}
}

// Resolve maps (name, filename) to the published version it names. filename
// must be <name>-<version>.tar.gz; the version is taken syntactically.
func (d *Downloader) Resolve(ctx context.Context, name, filename string) (*DownloadTarget, error) {
	name = strings.ToLower(name)
	num, ok := versionFromFilename(name, filename)
	if !ok {
		return nil, newError(ErrNotFound, "`%s` is not a download of package `%s`", filename, name)
	}

	target, err := d.packages.FindDownloadTarget(ctx, name, num)
	if err != nil {
		return nil, wrapError(ErrInternal, err, "failed to resolve download")
	}
	if target == nil {
		return nil, newError(ErrNotFound, "package `%s` has no version `%s`", name, num)
	}

	d.record(ctx, *target)

	return &DownloadTarget{
		PackageID: target.PackageID,
		VersionID: target.VersionID,
		Version:   num,
		URL:       d.blobs.PublicURL(models.BlobKey(name, num)),
	}, nil
}

// record bumps the counters off the request path. A failure only loses one
// count, so it is logged and dropped.
func (d *Downloader) record(ctx context.Context, target models.DownloadTarget) {
	telemetry.PackageDownloadsTotal.Inc()
	d.detach(ctx, "record-download", recordDownloadLimit, func(ctx context.Context) {
		if err := d.packages.RecordDownload(ctx, target.PackageID, target.VersionID); err != nil {
			slog.Warn("failed to record download", "package_id", target.PackageID, "version_id", target.VersionID, "error", err)
		}
	})
}

// versionFromFilename returns the version part of <name>-<version>.tar.gz.
// The name and suffix match case-insensitively; the version keeps its case.
func versionFromFilename(name, filename string) (string, bool) {
	prefix := name + "-"
	if len(filename) <= len(prefix)+len(tarballSuffix) {
		return "", false
	}
	head, tail := filename[:len(prefix)], filename[len(filename)-len(tarballSuffix):]
	if !strings.EqualFold(head, prefix) || !strings.EqualFold(tail, tarballSuffix) {
		return "", false
	}
	return filename[len(prefix) : len(filename)-len(tarballSuffix)], true
}
