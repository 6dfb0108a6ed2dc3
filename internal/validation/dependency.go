package validation

import (
	"fmt"
	"strings"

	"github.com/srcpkg/registry/internal/db/models"
)

// ParseDependencies decodes dependency header values. Each value holds one or
// more ';'-separated entries of the form name|req|feat1,feat2; the requirement
// and feature list may be omitted. An empty requirement means "*".
func ParseDependencies(values []string) ([]models.Dependency, error) {
	var deps []models.Dependency
	seen := make(map[string]bool)

	for _, value := range values {
		for _, item := range strings.Split(value, ";") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}

			parts := strings.Split(item, "|")
			if len(parts) > 3 {
				return nil, fmt.Errorf("malformed dependency %q: expected name|req|features", item)
			}

			dep := models.Dependency{Name: strings.TrimSpace(parts[0]), Req: "*", Features: []string{}}
			if dep.Name == "" {
				return nil, fmt.Errorf("malformed dependency %q: missing name", item)
			}
			if len(parts) > 1 {
				if req := strings.TrimSpace(parts[1]); req != "" {
					dep.Req = req
				}
			}
			if len(parts) > 2 {
				for _, f := range strings.Split(parts[2], ",") {
					if f = strings.TrimSpace(f); f != "" {
						dep.Features = append(dep.Features, f)
					}
				}
			}

			key := strings.ToLower(dep.Name)
			if seen[key] {
				return nil, fmt.Errorf("dependency %q is declared more than once", dep.Name)
			}
			seen[key] = true
			deps = append(deps, dep)
		}
	}
	return deps, nil
}

// ValidateDependency checks the name, requirement and requested features of
// one dependency.
func ValidateDependency(dep models.Dependency) error {
	if err := ValidateName(dep.Name); err != nil {
		return fmt.Errorf("invalid dependency name: %w", err)
	}
	if err := ValidateRequirement(dep.Req); err != nil {
		return fmt.Errorf("dependency %q: %w", dep.Name, err)
	}
	for _, f := range dep.Features {
		if err := ValidateName(f); err != nil {
			return fmt.Errorf("dependency %q: invalid feature: %w", dep.Name, err)
		}
	}
	return nil
}
