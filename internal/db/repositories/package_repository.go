// Package repositories implements the data access layer for the package registry.
// Each repository encapsulates the SQL for one entity; services never issue
// SQL directly.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/srcpkg/registry/internal/db/models"
)

const packageColumns = `id, name, user_id, downloads, created_at, updated_at`

// PackageRepository handles package database operations
type PackageRepository struct {
	db *sqlx.DB
}

// NewPackageRepository creates a new PackageRepository
func NewPackageRepository(db *sqlx.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

// GetByName retrieves a package by its (lower-cased) name. Returns nil, nil
// when no row exists.
func (r *PackageRepository) GetByName(ctx context.Context, name string) (*models.Package, error) {
	var pkg models.Package
	err := r.db.GetContext(ctx, &pkg, `SELECT `+packageColumns+` FROM packages WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package %q: %w", name, err)
	}
	return &pkg, nil
}

// FindOrCreate returns the package called name, inserting it with ownerID as
// owner if it does not exist yet. An existing row is returned unchanged; in
// particular its owner is never overwritten. The insert relies on the unique
// constraint on packages.name, so concurrent callers racing on a new name all
// end up with the single winning row. created reports whether this call
// inserted it.
func (r *PackageRepository) FindOrCreate(ctx context.Context, name, ownerID string) (pkg *models.Package, created bool, err error) {
	var inserted models.Package
	err = r.db.GetContext(ctx, &inserted, `
		INSERT INTO packages (name, user_id, downloads, created_at, updated_at)
		VALUES ($1, $2, 0, now(), now())
		ON CONFLICT (name) DO NOTHING
		RETURNING `+packageColumns, name, ownerID)
	switch {
	case err == nil:
		return &inserted, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("failed to upsert package %q: %w", name, err)
	}

	// Conflict: somebody else owns the row, read it back.
	pkg, err = r.GetByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if pkg == nil {
		return nil, false, fmt.Errorf("package %q vanished after insert conflict", name)
	}
	return pkg, false, nil
}

// likePrefix turns a user-supplied prefix into a LIKE pattern, escaping the
// pattern metacharacters so "_" (a legal name character) matches literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(strings.ToLower(prefix)) + "%"
}

// List returns one page of packages ordered by name. An empty prefix matches
// every package.
func (r *PackageRepository) List(ctx context.Context, prefix string, limit, offset int) ([]models.Package, error) {
	pkgs := []models.Package{}
	err := r.db.SelectContext(ctx, &pkgs, `
		SELECT `+packageColumns+`
		FROM packages
		WHERE name LIKE $1 ESCAPE '\'
		ORDER BY name ASC, id ASC
		LIMIT $2 OFFSET $3`, likePrefix(prefix), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	return pkgs, nil
}

// Count returns the number of packages matching prefix, independent of paging.
func (r *PackageRepository) Count(ctx context.Context, prefix string) (int64, error) {
	var total int64
	err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM packages WHERE name LIKE $1 ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return 0, fmt.Errorf("failed to count packages: %w", err)
	}
	return total, nil
}

// Orderings accepted by Top.
const (
	OrderNewest         = "created_at DESC"
	OrderMostDownloaded = "downloads DESC"
	OrderJustUpdated    = "updated_at DESC"
)

// Top returns the first n packages under the given ordering, ties broken by
// insertion order.
func (r *PackageRepository) Top(ctx context.Context, order string, n int) ([]models.Package, error) {
	switch order {
	case OrderNewest, OrderMostDownloaded, OrderJustUpdated:
	default:
		return nil, fmt.Errorf("unsupported package ordering %q", order)
	}

	pkgs := []models.Package{}
	err := r.db.SelectContext(ctx, &pkgs,
		`SELECT `+packageColumns+` FROM packages ORDER BY `+order+`, id ASC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list top packages: %w", err)
	}
	return pkgs, nil
}

// TotalDownloads returns the registry-wide download counter.
func (r *PackageRepository) TotalDownloads(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT total_downloads FROM metadata LIMIT 1`); err != nil {
		return 0, fmt.Errorf("failed to read total downloads: %w", err)
	}
	return total, nil
}

// VersionIDsByPackage fetches the published version ids of every given
// package in a single query. Packages without versions are absent from the
// returned map.
func (r *PackageRepository) VersionIDsByPackage(ctx context.Context, packageIDs []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(packageIDs))
	if len(packageIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, package_id
		FROM versions
		WHERE package_id = ANY($1) AND published_at IS NOT NULL
		ORDER BY id ASC`, pq.Array(packageIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load version ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var versionID, packageID int64
		if err := rows.Scan(&versionID, &packageID); err != nil {
			return nil, fmt.Errorf("failed to scan version id: %w", err)
		}
		out[packageID] = append(out[packageID], versionID)
	}
	return out, rows.Err()
}

// FindDownloadTarget resolves a package name and version number to their ids
// with a single join. Unpublished versions are not downloadable. Returns
// nil, nil when nothing matches.
func (r *PackageRepository) FindDownloadTarget(ctx context.Context, name, num string) (*models.DownloadTarget, error) {
	var target models.DownloadTarget
	err := r.db.GetContext(ctx, &target, `
		SELECT p.id AS package_id, v.id AS version_id
		FROM packages p
		JOIN versions v ON v.package_id = p.id
		WHERE p.name = $1 AND v.num = $2 AND v.published_at IS NOT NULL`, name, num)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download %s-%s: %w", name, num, err)
	}
	return &target, nil
}

// RecordDownload bumps the package, version and global download counters.
// Each counter is a store-side increment; the three updates are independent,
// so a failure in one does not stop the others.
func (r *PackageRepository) RecordDownload(ctx context.Context, packageID, versionID int64) error {
	var errs []error
	if _, err := r.db.ExecContext(ctx,
		`UPDATE packages SET downloads = downloads + 1 WHERE id = $1`, packageID); err != nil {
		errs = append(errs, fmt.Errorf("package counter: %w", err))
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE versions SET downloads = downloads + 1 WHERE id = $1`, versionID); err != nil {
		errs = append(errs, fmt.Errorf("version counter: %w", err))
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE metadata SET total_downloads = total_downloads + 1`); err != nil {
		errs = append(errs, fmt.Errorf("total counter: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to record download: %w", errors.Join(errs...))
	}
	return nil
}
