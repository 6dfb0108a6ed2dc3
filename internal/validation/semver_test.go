package validation

import (
	"slices"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"simple release", "1.0.0", false},
		{"patch release", "1.2.3", false},
		{"pre-release", "1.0.0-beta", false},
		{"pre-release with number", "1.0.0-beta.1", false},
		{"build metadata", "1.0.0+build.1", false},
		{"zero version", "0.0.0", false},
		{"large version", "100.200.300", false},
		{"empty string", "", true},
		{"plain text", "not-a-version", true},
		{"missing patch", "1.0", true},
		{"leading v", "v1.0.0", true},
		{"negative", "-1.0.0", true},
		{"leading zero", "01.0.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVersion(%q) error = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRequirement(t *testing.T) {
	tests := []struct {
		req     string
		wantErr bool
	}{
		{"*", false},
		{"^1.2", false},
		{"~0.3.1", false},
		{">= 1.0, < 2.0", false},
		{"=1.0.0", false},
		{"banana", true},
		{"latest", true},
	}

	for _, tt := range tests {
		t.Run(tt.req, func(t *testing.T) {
			err := ValidateRequirement(tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRequirement(%q) error = %v, wantErr %v", tt.req, err, tt.wantErr)
			}
		})
	}
}

func TestSortNewestFirst(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"numeric not lexical", []string{"1.9.0", "1.10.0", "1.2.0"}, []string{"1.10.0", "1.9.0", "1.2.0"}},
		{"pre-release below release", []string{"1.0.0-alpha", "1.0.0", "1.0.0-beta"}, []string{"1.0.0", "1.0.0-beta", "1.0.0-alpha"}},
		{"unparseable last in input order", []string{"junk", "0.1.0", "also junk", "2.0.0"}, []string{"2.0.0", "0.1.0", "junk", "also junk"}},
		{"empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slices.Clone(tt.in)
			SortNewestFirst(got, func(s string) string { return s })
			if !slices.Equal(got, tt.want) {
				t.Errorf("SortNewestFirst(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
