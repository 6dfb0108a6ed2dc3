package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srcpkg/registry/internal/db/models"
)

// ParseFeatures decodes the JSON feature map sent with a publish. An empty
// input yields an empty map.
func ParseFeatures(raw string) (models.Features, error) {
	features := models.Features{}
	if strings.TrimSpace(raw) == "" {
		return features, nil
	}
	if err := json.Unmarshal([]byte(raw), &features); err != nil {
		return nil, fmt.Errorf("malformed feature map: %w", err)
	}
	if features == nil {
		features = models.Features{}
	}
	return features, nil
}

// ValidateFeatures checks feature names and the entries each feature enables.
// An entry is either another feature name or dep/feature.
func ValidateFeatures(features models.Features) error {
	for name, enables := range features {
		if err := ValidateName(name); err != nil {
			return fmt.Errorf("invalid feature name: %w", err)
		}
		for _, entry := range enables {
			for _, part := range strings.SplitN(entry, "/", 2) {
				if err := ValidateName(part); err != nil {
					return fmt.Errorf("feature %q: invalid entry %q: %w", name, entry, err)
				}
			}
		}
	}
	return nil
}
