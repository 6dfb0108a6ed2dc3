package index

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileIndex keeps one JSON-lines file per package, laid out the way sparse
// package indexes are served:
//
//	1/a
//	2/ab
//	3/a/abc
//	ab/cd/abcdef
//
// Each published version appends a single line. Writes are serialised with a
// process-local mutex; running several registry processes against the same
// directory needs the http backend instead.
type FileIndex struct {
	root string
	mu   sync.Mutex
}

// NewFileIndex creates the index root if needed.
func NewFileIndex(root string) (*FileIndex, error) {
	if root == "" {
		return nil, fmt.Errorf("index.file.path is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return &FileIndex{root: root}, nil
}

// EntryPath returns the slash-separated path of a package's index file
// relative to the index root.
func EntryPath(name string) string {
	r := []rune(strings.ToLower(name))
	switch len(r) {
	case 0:
		return ""
	case 1, 2:
		return fmt.Sprintf("%d/%s", len(r), string(r))
	case 3:
		return "3/" + string(r[:1]) + "/" + string(r)
	default:
		return string(r[:2]) + "/" + string(r[2:4]) + "/" + string(r)
	}
}

// Register appends the entry to the package's index file.
func (f *FileIndex) Register(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel := EntryPath(entry.Name)
	if rel == "" {
		return fmt.Errorf("index entry has no package name")
	}
	line, err := json.Marshal(entry.normalized())
	if err != nil {
		return fmt.Errorf("failed to encode index entry: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.root, filepath.FromSlash(rel))
	existing, err := f.read(path)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Vers == entry.Vers {
			return ErrDuplicate
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return fmt.Errorf("failed to append index entry: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close index file: %w", err)
	}
	return nil
}

// Entries returns every entry recorded for a package, oldest first.
func (f *FileIndex) Entries(name string) ([]Entry, error) {
	rel := EntryPath(name)
	if rel == "" {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(filepath.Join(f.root, filepath.FromSlash(rel)))
}

func (f *FileIndex) read(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupt index file %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}
	return entries, nil
}
