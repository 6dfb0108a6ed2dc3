// Package index records published package versions in the package index
// consumed by clients resolving dependencies. Backends are selected by name
// from configuration: "http" talks to a remote index service, "file" keeps an
// append-only sparse index on local disk.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/srcpkg/registry/internal/config"
)

// ErrDuplicate is returned by Register when (name, vers) is already indexed.
var ErrDuplicate = errors.New("version already present in index")

// Dependency is one edge of an index entry.
type Dependency struct {
	Name     string   `json:"name"`
	Req      string   `json:"req"`
	Features []string `json:"features"`
}

// Entry is the record committed for every published version.
type Entry struct {
	Name     string              `json:"name"`
	Vers     string              `json:"vers"`
	Deps     []Dependency        `json:"deps"`
	Cksum    string              `json:"cksum"`
	Features map[string][]string `json:"features"`
}

// normalized returns a copy with nil collections replaced by empty ones so
// the JSON form never carries null.
func (e Entry) normalized() Entry {
	if e.Deps == nil {
		e.Deps = []Dependency{}
	}
	for i := range e.Deps {
		if e.Deps[i].Features == nil {
			e.Deps[i].Features = []string{}
		}
	}
	if e.Features == nil {
		e.Features = map[string][]string{}
	}
	return e
}

// Index is the package index collaborator used by the publisher.
type Index interface {
	Register(ctx context.Context, entry Entry) error
}

// New builds the index backend named by cfg.Index.Backend.
func New(cfg *config.IndexConfig) (Index, error) {
	switch cfg.Backend {
	case "http":
		return NewHTTPIndex(&cfg.HTTP)
	case "file":
		return NewFileIndex(cfg.File.Path)
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Backend)
	}
}
