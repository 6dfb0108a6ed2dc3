package validation

import (
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-version"
)

// ValidateVersion requires a full MAJOR.MINOR.PATCH semantic version with
// optional pre-release and build metadata. Leading "v" and short forms such as
// "1.0" are rejected.
func ValidateVersion(versionStr string) error {
	if _, err := semver.StrictNewVersion(versionStr); err != nil {
		return fmt.Errorf("invalid semantic version %q: %w", versionStr, err)
	}
	return nil
}

// ValidateRequirement checks a dependency version requirement such as "^1.2"
// or ">= 1.0, < 2.0".
func ValidateRequirement(req string) error {
	if _, err := semver.NewConstraint(req); err != nil {
		return fmt.Errorf("invalid version requirement %q: %w", req, err)
	}
	return nil
}

// SortNewestFirst orders items by the version number num extracts,
// highest precedence first. Numbers that do not parse sort after valid ones;
// ties keep their input order.
func SortNewestFirst[T any](items []T, num func(T) string) {
	type ranked struct {
		item T
		v    *version.Version
	}
	rs := make([]ranked, len(items))
	for i, it := range items {
		rs[i].item = it
		if v, err := version.NewVersion(num(it)); err == nil {
			rs[i].v = v
		}
	}
	slices.SortStableFunc(rs, func(a, b ranked) int {
		switch {
		case a.v == nil && b.v == nil:
			return 0
		case a.v == nil:
			return 1
		case b.v == nil:
			return -1
		}
		return b.v.Compare(a.v)
	})
	for i := range rs {
		items[i] = rs[i].item
	}
}
