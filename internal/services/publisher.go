package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/srcpkg/registry/internal/auth"
	"github.com/srcpkg/registry/internal/db/models"
	"github.com/srcpkg/registry/internal/db/repositories"
	"github.com/srcpkg/registry/internal/index"
	"github.com/srcpkg/registry/internal/storage"
	"github.com/srcpkg/registry/internal/telemetry"
	"github.com/srcpkg/registry/internal/validation"
	"github.com/srcpkg/registry/pkg/checksum"
)

const (
	// TarballContentType is the only accepted publish content type.
	TarballContentType = "application/x-tar"

	rollbackTimeout = 30 * time.Second
)

// Publish saga states.
const (
	StateValidating = "validating"
	StateReserving  = "reserving"
	StateUploading  = "uploading"
	StateIndexing   = "indexing"
	StateCommitted  = "committed"
	StateAborted    = "aborted"
	StateRolledBack = "rolled_back"
)

// PublishRequest carries everything a client sends to publish one version.
type PublishRequest struct {
	Credential      string
	Name            string
	Version         string
	Features        models.Features
	Dependencies    []models.Dependency
	ContentLength   int64 // negative when the client did not declare one
	ContentType     string
	ContentEncoding string
	Body            io.Reader
}

// Publisher runs the publish saga: validate, reserve the catalog rows, stream
// the tarball to the blob store, commit to the package index. The catalog
// insert is transactional but the blob store and index are independent remote
// services, so an upload that is not followed by a successful index commit is
// compensated by deleting the blob and releasing the version reservation.
type Publisher struct {
	packages      PackageStore
	versions      VersionStore
	blobs         storage.Storage
	index         index.Index
	resolver      CredentialResolver
	maxUploadSize int64
}

// NewPublisher creates a Publisher.
func NewPublisher(packages PackageStore, versions VersionStore, blobs storage.Storage, idx index.Index, resolver CredentialResolver, maxUploadSize int64) *Publisher {
	return &Publisher{
		packages:      packages,
		versions:      versions,
		blobs:         blobs,
		index:         idx,
		resolver:      resolver,
		maxUploadSize: maxUploadSize,
	}
}

// publishGuard holds the compensations for an in-flight publish: the
// unpublished version row once reserved and the blob once uploaded. Both are
// undone on release unless the guard was disarmed first.
type publishGuard struct {
	blobs     storage.Storage
	versions  VersionStore
	log       *slog.Logger
	versionID int64
	path      string
	armed     bool
}

func (g *publishGuard) hold(versionID int64) {
	g.versionID = versionID
}

func (g *publishGuard) arm(path string) {
	g.path = path
	g.armed = true
}

func (g *publishGuard) disarm() {
	g.armed = false
	g.versionID = 0
}

// release runs the compensating deletes still held and reports whether a
// blob was rolled back. It uses a context detached from the request so a
// client disconnect cannot cancel it. Failures are logged and counted, never
// returned.
func (g *publishGuard) release(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	rolledBack := false
	if g.armed {
		g.armed = false
		rolledBack = true
		if err := g.blobs.Delete(ctx, g.path); err != nil {
			telemetry.BlobRollbacksTotal.WithLabelValues("failed").Inc()
			g.log.Error("failed to delete blob after aborted publish, object leaked", "path", g.path, "error", err)
		} else {
			telemetry.BlobRollbacksTotal.WithLabelValues("deleted").Inc()
			g.log.Info("deleted blob of aborted publish", "path", g.path)
		}
	}

	if g.versionID != 0 {
		id := g.versionID
		g.versionID = 0
		if err := g.versions.DeleteUnpublished(ctx, id); err != nil {
			g.log.Error("failed to release version reservation", "version_id", id, "error", err)
		}
	}
	return rolledBack
}

// Publish runs the saga for one version and returns the package on success.
func (p *Publisher) Publish(ctx context.Context, req *PublishRequest) (pkg *models.EncodablePackage, err error) {
	start := time.Now()
	// Normalisation rewrites dependency names; keep it off the caller's slice.
	own := *req
	own.Dependencies = slices.Clone(req.Dependencies)
	req = &own

	log := slog.With("package", req.Name, "version", req.Version)
	guard := &publishGuard{blobs: p.blobs, versions: p.versions, log: log}

	state := StateValidating
	transition := func(next string) {
		state = next
		log.Debug("publish state", "state", state)
	}
	log.Debug("publish state", "state", state)

	defer func() {
		final := StateCommitted
		if err != nil {
			final = StateAborted
			if guard.release(ctx) {
				final = StateRolledBack
			}
		}
		outcome := "committed"
		if err != nil {
			outcome = outcomeLabel(err)
		}
		telemetry.PublishTotal.WithLabelValues(outcome).Inc()
		telemetry.PublishDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			log.Warn("publish failed", "state", final, "failed_in", state, "error", err)
		} else {
			log.Info("publish committed", "state", final, "duration", time.Since(start))
		}
	}()

	// Validating
	name, user, err := p.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	log = log.With("user_id", user.ID)
	guard.log = log

	// Reserving
	transition(StateReserving)
	pkgRow, version, err := p.reserve(ctx, name, user, req)
	if err != nil {
		return nil, err
	}
	guard.hold(version.ID)

	// Uploading
	transition(StateUploading)
	path := models.BlobKey(name, req.Version)
	hr := checksum.NewHashingReader(req.Body, p.maxUploadSize)
	if _, err := p.blobs.Upload(ctx, path, hr, storage.UploadOptions{
		Size:            req.ContentLength,
		ContentType:     TarballContentType,
		ContentEncoding: "gzip",
	}); err != nil {
		if errors.Is(err, checksum.ErrPayloadTooLarge) {
			return nil, newError(ErrPayloadTooLarge, "max upload size is: %d", p.maxUploadSize)
		}
		return nil, wrapError(ErrUploadFailed, err, "failed to upload package `%s`", path)
	}
	guard.arm(path)

	if got := hr.BytesRead(); got != req.ContentLength {
		return nil, newError(ErrUploadFailed, "received %d bytes but Content-Length declared %d", got, req.ContentLength)
	}
	digest := hr.HexSum()

	// Indexing
	transition(StateIndexing)
	if err := p.index.Register(ctx, indexEntry(name, req, digest)); err != nil {
		result := "error"
		if errors.Is(err, index.ErrDuplicate) {
			result = "duplicate"
		}
		telemetry.IndexRegisterTotal.WithLabelValues(result).Inc()
		return nil, wrapError(ErrIndexingFailed, err, "could not add package `%s` to the index", name)
	}
	telemetry.IndexRegisterTotal.WithLabelValues("success").Inc()

	// The index entry now references the blob and the version, so neither
	// may be undone by a failure below.
	guard.disarm()

	if err := p.versions.SetChecksum(ctx, version.ID, digest); err != nil {
		return nil, wrapError(ErrInternal, err, "failed to record checksum")
	}
	if err := p.versions.MarkPublished(ctx, version.ID); err != nil {
		return nil, wrapError(ErrInternal, err, "failed to mark version published")
	}

	transition(StateCommitted)
	encoded := pkgRow.Encodable(nil)
	return &encoded, nil
}

func (p *Publisher) validate(ctx context.Context, req *PublishRequest) (string, *models.User, error) {
	name, err := validation.NormalizePackageName(req.Name)
	if err != nil {
		return "", nil, wrapError(ErrValidationFailed, err, "invalid package name `%s`", req.Name)
	}
	if err := validation.ValidateVersion(req.Version); err != nil {
		return "", nil, wrapError(ErrValidationFailed, err, "invalid package version `%s`", req.Version)
	}

	if req.ContentLength < 0 {
		return "", nil, newError(ErrInvalidRequest, "missing header: Content-Length")
	}
	if p.maxUploadSize > 0 && req.ContentLength > p.maxUploadSize {
		return "", nil, newError(ErrPayloadTooLarge, "max upload size is: %d", p.maxUploadSize)
	}
	if mediaType(req.ContentType) != TarballContentType {
		return "", nil, newError(ErrValidationFailed, "invalid content type `%s`, expected `%s`", req.ContentType, TarballContentType)
	}
	switch strings.ToLower(strings.TrimSpace(req.ContentEncoding)) {
	case "gzip", "x-gzip":
	default:
		return "", nil, newError(ErrValidationFailed, "invalid content encoding `%s`, expected `gzip`", req.ContentEncoding)
	}

	if err := validation.ValidateFeatures(req.Features); err != nil {
		return "", nil, wrapError(ErrValidationFailed, err, "invalid feature map")
	}
	for i, dep := range req.Dependencies {
		if err := validation.ValidateDependency(dep); err != nil {
			return "", nil, wrapError(ErrValidationFailed, err, "invalid dependency `%s`", dep.Name)
		}
		req.Dependencies[i].Name = strings.ToLower(dep.Name)
	}

	user, err := p.resolver.Resolve(ctx, req.Credential)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			return "", nil, newError(ErrUnauthorized, "must be logged in to publish")
		}
		return "", nil, wrapError(ErrInternal, err, "failed to resolve credential")
	}
	return name, user, nil
}

func (p *Publisher) reserve(ctx context.Context, name string, user *models.User, req *PublishRequest) (*models.Package, *models.Version, error) {
	pkg, _, err := p.packages.FindOrCreate(ctx, name, user.ID)
	if err != nil {
		return nil, nil, wrapError(ErrInternal, err, "failed to reserve package")
	}
	if pkg.UserID != user.ID {
		return nil, nil, newError(ErrOwnershipConflict, "package name `%s` has already been claimed by another user", name)
	}

	existing, err := p.versions.GetByNum(ctx, pkg.ID, req.Version)
	if err != nil {
		return nil, nil, wrapError(ErrInternal, err, "failed to look up version")
	}
	if existing != nil {
		return nil, nil, newError(ErrVersionAlreadyPublished, "package version `%s` is already uploaded", req.Version)
	}

	version, err := p.versions.CreateWithDependencies(ctx, pkg.ID, req.Version, req.Features, req.Dependencies)
	if err != nil {
		var unknown *repositories.UnknownDependencyError
		switch {
		case errors.As(err, &unknown):
			return nil, nil, newError(ErrUnknownDependency, "no known package named `%s`", unknown.Name)
		case errors.Is(err, repositories.ErrVersionExists):
			return nil, nil, newError(ErrVersionAlreadyPublished, "package version `%s` is already uploaded", req.Version)
		default:
			return nil, nil, wrapError(ErrInternal, err, "failed to create version")
		}
	}
	return pkg, version, nil
}

func indexEntry(name string, req *PublishRequest, digest string) index.Entry {
	deps := make([]index.Dependency, 0, len(req.Dependencies))
	for _, d := range req.Dependencies {
		deps = append(deps, index.Dependency{Name: d.Name, Req: d.Req, Features: d.Features})
	}
	return index.Entry{
		Name:     name,
		Vers:     req.Version,
		Deps:     deps,
		Cksum:    digest,
		Features: req.Features,
	}
}

// mediaType strips parameters such as "; charset=binary".
func mediaType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
