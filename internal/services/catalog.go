package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"

	"github.com/srcpkg/registry/internal/auth"
	"github.com/srcpkg/registry/internal/db/models"
	"github.com/srcpkg/registry/internal/db/repositories"
	"github.com/srcpkg/registry/internal/validation"
)

// Paging defaults and limits for List.
const (
	DefaultPage    = 1
	DefaultPerPage = 10
	MaxPerPage     = 100

	summaryListSize = 10
)

// PackageList is one page of packages plus the total matching the filter.
type PackageList struct {
	Packages []models.EncodablePackage
	Total    int64
}

// Summary is the registry front-page record.
type Summary struct {
	NumPackages    int64                     `json:"num_packages"`
	NumDownloads   int64                     `json:"num_downloads"`
	NewPackages    []models.EncodablePackage `json:"new_packages"`
	MostDownloaded []models.EncodablePackage `json:"most_downloaded"`
	JustUpdated    []models.EncodablePackage `json:"just_updated"`
}

// PackageDetail is a package with its published versions, newest first.
type PackageDetail struct {
	Package  models.EncodablePackage   `json:"package"`
	Versions []models.EncodableVersion `json:"versions"`
}

// CatalogService answers read queries against the catalog. Only published
// versions are ever visible through it.
type CatalogService struct {
	packages PackageStore
	versions VersionStore
	resolver CredentialResolver
}

// NewCatalogService creates a CatalogService.
func NewCatalogService(packages PackageStore, versions VersionStore, resolver CredentialResolver) *CatalogService {
	return &CatalogService{packages: packages, versions: versions, resolver: resolver}
}

// List returns one page of packages whose name starts with prefix
// (case-insensitive). page and perPage must already carry defaults for
// absent parameters.
func (s *CatalogService) List(ctx context.Context, page, perPage int, prefix string) (*PackageList, error) {
	if perPage > MaxPerPage {
		return nil, newError(ErrInvalidRequest, "cannot request more than %d packages", MaxPerPage)
	}
	if perPage < 1 {
		return nil, newError(ErrInvalidRequest, "per_page must be at least 1")
	}
	if page < 1 {
		return nil, newError(ErrInvalidRequest, "page must be at least 1")
	}
	if page-1 > math.MaxInt/perPage {
		return nil, newError(ErrInvalidRequest, "page %d is out of range", page)
	}
	offset := (page - 1) * perPage

	pkgs, err := s.packages.List(ctx, prefix, perPage, offset)
	if err != nil {
		return nil, wrapError(ErrInternal, err, "failed to list packages")
	}
	total, err := s.packages.Count(ctx, prefix)
	if err != nil {
		return nil, wrapError(ErrInternal, err, "failed to count packages")
	}
	encoded, err := s.EncodeMany(ctx, pkgs)
	if err != nil {
		return nil, err
	}
	return &PackageList{Packages: encoded, Total: total}, nil
}

// Summary builds the front-page record: totals plus the newest, most
// downloaded and most recently updated packages.
func (s *CatalogService) Summary(ctx context.Context) (*Summary, error) {
	numPackages, err := s.packages.Count(ctx, "")
	if err != nil {
		return nil, wrapError(ErrInternal, err, "failed to count packages")
	}
	numDownloads, err := s.packages.TotalDownloads(ctx)
	if err != nil {
		return nil, wrapError(ErrInternal, err, "failed to read download total")
	}

	top := func(order string) ([]models.EncodablePackage, error) {
		pkgs, err := s.packages.Top(ctx, order, summaryListSize)
		if err != nil {
			return nil, wrapError(ErrInternal, err, "failed to load summary list")
		}
		return s.EncodeMany(ctx, pkgs)
	}

	summary := &Summary{NumPackages: numPackages, NumDownloads: numDownloads}
	if summary.NewPackages, err = top(repositories.OrderNewest); err != nil {
		return nil, err
	}
	if summary.MostDownloaded, err = top(repositories.OrderMostDownloaded); err != nil {
		return nil, err
	}
	if summary.JustUpdated, err = top(repositories.OrderJustUpdated); err != nil {
		return nil, err
	}
	return summary, nil
}

// EncodeMany attaches published version ids to each package using a single
// query for the whole batch.
func (s *CatalogService) EncodeMany(ctx context.Context, pkgs []models.Package) ([]models.EncodablePackage, error) {
	ids := make([]int64, len(pkgs))
	for i := range pkgs {
		ids[i] = pkgs[i].ID
	}
	versionIDs, err := s.packages.VersionIDsByPackage(ctx, ids)
	if err != nil {
		return nil, wrapError(ErrInternal, err, "failed to load package versions")
	}

	out := make([]models.EncodablePackage, len(pkgs))
	for i := range pkgs {
		out[i] = pkgs[i].Encodable(versionIDs[pkgs[i].ID])
	}
	return out, nil
}

// Show returns a package with its published versions, newest version first.
func (s *CatalogService) Show(ctx context.Context, name string) (*PackageDetail, error) {
	pkg, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	versions, err := s.versions.ListByPackage(ctx, pkg.ID)
	if err != nil {
		return nil, wrapError(ErrInternal, err, "failed to load versions")
	}
	validation.SortNewestFirst(versions, func(v models.Version) string { return v.Num })

	ids := make([]int64, len(versions))
	encoded := make([]models.EncodableVersion, len(versions))
	for i := range versions {
		ids[i] = versions[i].ID
		encoded[i] = versions[i].Encodable(pkg.Name)
	}
	return &PackageDetail{Package: pkg.Encodable(ids), Versions: encoded}, nil
}

// Update accepts a rename request from an authenticated user. Renames are not
// supported; the package is returned unchanged.
func (s *CatalogService) Update(ctx context.Context, credential, name, newName string) (*models.EncodablePackage, error) {
	user, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			return nil, newError(ErrUnauthorized, "must be logged in to update a package")
		}
		return nil, wrapError(ErrInternal, err, "failed to resolve credential")
	}

	pkg, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	slog.Info("package rename requested, leaving package unchanged",
		"package", pkg.Name, "new_name", newName, "user_id", user.ID)

	encoded := pkg.Encodable(nil)
	return &encoded, nil
}

func (s *CatalogService) lookup(ctx context.Context, name string) (*models.Package, error) {
	pkg, err := s.packages.GetByName(ctx, strings.ToLower(name))
	if err != nil {
		return nil, wrapError(ErrInternal, err, "failed to look up package")
	}
	if pkg == nil {
		return nil, newError(ErrNotFound, "package `%s` does not exist", name)
	}
	return pkg, nil
}
