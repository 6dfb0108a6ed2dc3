// Package models defines the database model types for the package registry.
// Each type corresponds to a table and carries db tags for sqlx scanning;
// the Encodable* types are the JSON shapes returned by the API.
package models

import "time"

// Package is a named, owned unit of distribution. Rows are created once by
// the first publish of a name and never deleted.
type Package struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	UserID    string    `db:"user_id"`
	Downloads int64     `db:"downloads"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// EncodablePackage is the API representation of a package. Its id is the
// package name; Versions lists the ids of its published versions.
type EncodablePackage struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Versions  []int64   `json:"versions"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Downloads int64     `json:"downloads"`
}

// Encodable attaches the given version ids. A nil slice is encoded as [].
func (p *Package) Encodable(versionIDs []int64) EncodablePackage {
	if versionIDs == nil {
		versionIDs = []int64{}
	}
	return EncodablePackage{
		ID:        p.Name,
		Name:      p.Name,
		Versions:  versionIDs,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		Downloads: p.Downloads,
	}
}

// DownloadTarget is the (package, version) pair a download filename resolves to.
type DownloadTarget struct {
	PackageID int64 `db:"package_id"`
	VersionID int64 `db:"version_id"`
}
