package validation

import (
	"reflect"
	"testing"

	"github.com/srcpkg/registry/internal/db/models"
)

func TestParseDependencies(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		want    []models.Dependency
		wantErr bool
	}{
		{
			name:   "no headers",
			values: nil,
			want:   nil,
		},
		{
			name:   "full entry",
			values: []string{"serde|^1.0|derive,std"},
			want:   []models.Dependency{{Name: "serde", Req: "^1.0", Features: []string{"derive", "std"}}},
		},
		{
			name:   "semicolon separated in one header",
			values: []string{"a|1.0; b|>=0.2"},
			want: []models.Dependency{
				{Name: "a", Req: "1.0", Features: []string{}},
				{Name: "b", Req: ">=0.2", Features: []string{}},
			},
		},
		{
			name:   "repeated headers",
			values: []string{"a|1.0", "b"},
			want: []models.Dependency{
				{Name: "a", Req: "1.0", Features: []string{}},
				{Name: "b", Req: "*", Features: []string{}},
			},
		},
		{
			name:   "empty segments ignored",
			values: []string{";a||;"},
			want:   []models.Dependency{{Name: "a", Req: "*", Features: []string{}}},
		},
		{name: "missing name", values: []string{"|1.0"}, wantErr: true},
		{name: "too many fields", values: []string{"a|1.0|x|y"}, wantErr: true},
		{name: "duplicate dependency", values: []string{"a|1.0", "A|2.0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDependencies(tt.values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDependencies() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseDependencies() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidateDependency(t *testing.T) {
	tests := []struct {
		name    string
		dep     models.Dependency
		wantErr bool
	}{
		{"valid", models.Dependency{Name: "serde", Req: "^1.0", Features: []string{"derive"}}, false},
		{"wildcard", models.Dependency{Name: "serde", Req: "*"}, false},
		{"bad name", models.Dependency{Name: "ser de", Req: "*"}, true},
		{"bad requirement", models.Dependency{Name: "serde", Req: "latest"}, true},
		{"bad feature", models.Dependency{Name: "serde", Req: "*", Features: []string{"a.b"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDependency(tt.dep)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDependency() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
