// Package validation checks publish metadata: package names, version strings,
// dependency specs and feature maps.
package validation

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxNameLength is the longest accepted package or feature name.
const MaxNameLength = 64

// ValidateName checks the registry name rule: non-empty, at most
// MaxNameLength characters, letters, digits, '_' and '-' only.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if n := len([]rune(name)); n > MaxNameLength {
		return fmt.Errorf("name %q is %d characters long, the limit is %d", name, n, MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			continue
		}
		return fmt.Errorf("invalid character %q in name %q: only letters, numbers, '_' and '-' are allowed", r, name)
	}
	return nil
}

// NormalizePackageName validates name and returns its case-folded form, the
// identity under which it is stored.
func NormalizePackageName(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", fmt.Errorf("invalid package name: %w", err)
	}
	return strings.ToLower(name), nil
}
