package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Features maps a feature name to the features or optional dependencies it
// enables. Stored as JSONB.
type Features map[string][]string

// Value implements driver.Valuer.
func (f Features) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner.
func (f *Features) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*f = Features{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Features", src)
	}
	out := Features{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode features: %w", err)
	}
	*f = out
	return nil
}

// Version is one release of a package. PublishedAt stays nil until the
// version has been registered in the package index; read paths ignore
// unpublished rows.
type Version struct {
	ID          int64      `db:"id"`
	PackageID   int64      `db:"package_id"`
	Num         string     `db:"num"`
	Checksum    *string    `db:"checksum"`
	Features    Features   `db:"features"`
	Downloads   int64      `db:"downloads"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	PublishedAt *time.Time `db:"published_at"`
}

// Published reports whether the version is visible to readers.
func (v *Version) Published() bool {
	return v.PublishedAt != nil
}

// EncodableVersion is the API representation of a version.
type EncodableVersion struct {
	ID        int64     `json:"id"`
	Package   string    `json:"package"`
	Num       string    `json:"num"`
	DLPath    string    `json:"dl_path"`
	Checksum  string    `json:"checksum"`
	Features  Features  `json:"features"`
	Downloads int64     `json:"downloads"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Encodable renders v as a version of the named package.
func (v *Version) Encodable(packageName string) EncodableVersion {
	features := v.Features
	if features == nil {
		features = Features{}
	}
	var cksum string
	if v.Checksum != nil {
		cksum = *v.Checksum
	}
	return EncodableVersion{
		ID:        v.ID,
		Package:   packageName,
		Num:       v.Num,
		DLPath:    DownloadPath(packageName, v.Num),
		Checksum:  cksum,
		Features:  features,
		Downloads: v.Downloads,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}

// TarballName returns the archive file name for a package version.
func TarballName(name, num string) string {
	return name + "-" + num + ".tar.gz"
}

// BlobKey returns the blob store key for a package version, relative to the
// storage key prefix.
func BlobKey(name, num string) string {
	return name + "/" + TarballName(name, num)
}

// DownloadPath returns the registry URL path clients fetch a tarball from.
func DownloadPath(name, num string) string {
	return "/download/" + BlobKey(name, num)
}

// Dependency is a declared requirement of a version being published.
type Dependency struct {
	Name     string   `json:"name"`
	Req      string   `json:"req"`
	Features []string `json:"features"`
}
