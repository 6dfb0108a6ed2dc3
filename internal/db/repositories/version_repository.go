package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/srcpkg/registry/internal/db/models"
)

const versionColumns = `id, package_id, num, checksum, features, downloads, created_at, updated_at, published_at`

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// ErrVersionExists is returned when (package_id, num) is already taken.
var ErrVersionExists = errors.New("version already exists")

// UnknownDependencyError reports a dependency naming a package that does not
// exist.
type UnknownDependencyError struct {
	Name string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("no known package named `%s`", e.Name)
}

// VersionRepository handles version and dependency-edge database operations
type VersionRepository struct {
	db *sqlx.DB
}

// NewVersionRepository creates a new VersionRepository
func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// GetByNum looks up a version of a package whether or not it has been
// published. Returns nil, nil when no row exists.
func (r *VersionRepository) GetByNum(ctx context.Context, packageID int64, num string) (*models.Version, error) {
	var v models.Version
	err := r.db.GetContext(ctx, &v,
		`SELECT `+versionColumns+` FROM versions WHERE package_id = $1 AND num = $2`, packageID, num)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", num, err)
	}
	return &v, nil
}

// CreateWithDependencies inserts a version and links every dependency in one
// transaction. If any dependency names an unknown package the whole unit is
// rolled back and *UnknownDependencyError is returned.
func (r *VersionRepository) CreateWithDependencies(ctx context.Context, packageID int64, num string, features models.Features, deps []models.Dependency) (*models.Version, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	v, err := insertVersion(ctx, tx, packageID, num, features)
	if err != nil {
		return nil, err
	}

	for _, dep := range deps {
		var dependsOnID int64
		err := tx.GetContext(ctx, &dependsOnID, `SELECT id FROM packages WHERE name = $1`, dep.Name)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &UnknownDependencyError{Name: dep.Name}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve dependency %q: %w", dep.Name, err)
		}
		if err := linkDependency(ctx, tx, v.ID, dependsOnID, dep.Req, dep.Features); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit version %s: %w", num, err)
	}
	return v, nil
}

func insertVersion(ctx context.Context, q sqlx.QueryerContext, packageID int64, num string, features models.Features) (*models.Version, error) {
	if features == nil {
		features = models.Features{}
	}
	v := &models.Version{PackageID: packageID, Num: num, Features: features}
	err := q.QueryRowxContext(ctx, `
		INSERT INTO versions (package_id, num, features, downloads, created_at, updated_at)
		VALUES ($1, $2, $3, 0, now(), now())
		RETURNING id, created_at, updated_at`, packageID, num, features).
		Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return nil, ErrVersionExists
		}
		return nil, fmt.Errorf("failed to insert version %s: %w", num, err)
	}
	return v, nil
}

func linkDependency(ctx context.Context, e sqlx.ExecerContext, versionID, dependsOnID int64, req string, features []string) error {
	if features == nil {
		features = []string{}
	}
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return err
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO version_dependencies (version_id, depends_on_id, req, features)
		VALUES ($1, $2, $3, $4)`, versionID, dependsOnID, req, featuresJSON)
	if err != nil {
		return fmt.Errorf("failed to link dependency %d -> %d: %w", versionID, dependsOnID, err)
	}
	return nil
}

// ListByPackage returns the published versions of a package in insertion order.
func (r *VersionRepository) ListByPackage(ctx context.Context, packageID int64) ([]models.Version, error) {
	versions := []models.Version{}
	err := r.db.SelectContext(ctx, &versions, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE package_id = $1 AND published_at IS NOT NULL
		ORDER BY id ASC`, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}

// SetChecksum stores the hex SHA-256 of the uploaded tarball.
func (r *VersionRepository) SetChecksum(ctx context.Context, versionID int64, checksum string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE versions SET checksum = $1, updated_at = now() WHERE id = $2`, checksum, versionID)
	if err != nil {
		return fmt.Errorf("failed to set checksum: %w", err)
	}
	return nil
}

// MarkPublished makes a version visible to readers and bumps its package's
// updated_at.
func (r *VersionRepository) MarkPublished(ctx context.Context, versionID int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE versions SET published_at = now(), updated_at = now() WHERE id = $1`, versionID); err != nil {
		return fmt.Errorf("failed to publish version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE packages SET updated_at = now()
		WHERE id = (SELECT package_id FROM versions WHERE id = $1)`, versionID); err != nil {
		return fmt.Errorf("failed to touch package: %w", err)
	}

	return tx.Commit()
}

// DeleteUnpublished releases a version reservation left by an aborted
// publish. Published rows are never touched; dependency edges cascade.
func (r *VersionRepository) DeleteUnpublished(ctx context.Context, versionID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM versions WHERE id = $1 AND published_at IS NULL`, versionID)
	if err != nil {
		return fmt.Errorf("failed to delete unpublished version: %w", err)
	}
	return nil
}
