package services

import (
	"context"

	"github.com/srcpkg/registry/internal/db/models"
)

// PackageStore is the package half of the catalog.
// *repositories.PackageRepository implements it.
type PackageStore interface {
	GetByName(ctx context.Context, name string) (*models.Package, error)
	FindOrCreate(ctx context.Context, name, ownerID string) (*models.Package, bool, error)
	List(ctx context.Context, prefix string, limit, offset int) ([]models.Package, error)
	Count(ctx context.Context, prefix string) (int64, error)
	Top(ctx context.Context, order string, n int) ([]models.Package, error)
	TotalDownloads(ctx context.Context) (int64, error)
	VersionIDsByPackage(ctx context.Context, packageIDs []int64) (map[int64][]int64, error)
	FindDownloadTarget(ctx context.Context, name, num string) (*models.DownloadTarget, error)
	RecordDownload(ctx context.Context, packageID, versionID int64) error
}

// VersionStore is the version half of the catalog.
// *repositories.VersionRepository implements it.
type VersionStore interface {
	GetByNum(ctx context.Context, packageID int64, num string) (*models.Version, error)
	CreateWithDependencies(ctx context.Context, packageID int64, num string, features models.Features, deps []models.Dependency) (*models.Version, error)
	ListByPackage(ctx context.Context, packageID int64) ([]models.Version, error)
	SetChecksum(ctx context.Context, versionID int64, checksum string) error
	MarkPublished(ctx context.Context, versionID int64) error
	DeleteUnpublished(ctx context.Context, versionID int64) error
}

// CredentialResolver maps a presented credential to its user.
// *auth.Resolver implements it.
type CredentialResolver interface {
	Resolve(ctx context.Context, credential string) (*models.User, error)
}
