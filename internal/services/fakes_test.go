package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/srcpkg/registry/internal/auth"
	"github.com/srcpkg/registry/internal/db/models"
	"github.com/srcpkg/registry/internal/db/repositories"
	"github.com/srcpkg/registry/internal/index"
	"github.com/srcpkg/registry/internal/storage"
)

// fakeCatalog is an in-memory PackageStore and VersionStore.
type fakeCatalog struct {
	mu       sync.Mutex
	nextID   int64
	packages map[string]*models.Package
	versions []*models.Version
	deps     map[int64][]models.Dependency
	failWith error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{packages: map[string]*models.Package{}, deps: map[int64][]models.Dependency{}}
}

func (f *fakeCatalog) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeCatalog) GetByName(_ context.Context, name string) (*models.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if p, ok := f.packages[name]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeCatalog) FindOrCreate(_ context.Context, name, ownerID string) (*models.Package, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.packages[name]; ok {
		cp := *p
		return &cp, false, nil
	}
	now := time.Now()
	p := &models.Package{ID: f.id(), Name: name, UserID: ownerID, CreatedAt: now, UpdatedAt: now}
	f.packages[name] = p
	cp := *p
	return &cp, true, nil
}

func (f *fakeCatalog) List(_ context.Context, prefix string, limit, offset int) ([]models.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Package
	for _, p := range f.sorted() {
		if strings.HasPrefix(p.Name, strings.ToLower(prefix)) {
			out = append(out, *p)
		}
	}
	if offset >= len(out) {
		return []models.Package{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCatalog) Count(_ context.Context, prefix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for name := range f.packages {
		if strings.HasPrefix(name, strings.ToLower(prefix)) {
			n++
		}
	}
	return n, nil
}

func (f *fakeCatalog) Top(_ context.Context, _ string, n int) ([]models.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Package
	for _, p := range f.sorted() {
		if len(out) == n {
			break
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeCatalog) TotalDownloads(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.packages {
		n += p.Downloads
	}
	return n, nil
}

func (f *fakeCatalog) VersionIDsByPackage(_ context.Context, ids []int64) (map[int64][]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64][]int64{}
	for _, id := range ids {
		for _, v := range f.versions {
			if v.PackageID == id && v.Published() {
				out[id] = append(out[id], v.ID)
			}
		}
	}
	return out, nil
}

func (f *fakeCatalog) FindDownloadTarget(_ context.Context, name, num string) (*models.DownloadTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.packages[name]
	if !ok {
		return nil, nil
	}
	for _, v := range f.versions {
		if v.PackageID == p.ID && v.Num == num && v.Published() {
			return &models.DownloadTarget{PackageID: p.ID, VersionID: v.ID}, nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) RecordDownload(_ context.Context, packageID, versionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.packages {
		if p.ID == packageID {
			p.Downloads++
		}
	}
	for _, v := range f.versions {
		if v.ID == versionID {
			v.Downloads++
		}
	}
	return nil
}

func (f *fakeCatalog) GetByNum(_ context.Context, packageID int64, num string) (*models.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions {
		if v.PackageID == packageID && v.Num == num {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) CreateWithDependencies(_ context.Context, packageID int64, num string, features models.Features, deps []models.Dependency) (*models.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions {
		if v.PackageID == packageID && v.Num == num {
			return nil, repositories.ErrVersionExists
		}
	}
	for _, d := range deps {
		if _, ok := f.packages[d.Name]; !ok {
			return nil, &repositories.UnknownDependencyError{Name: d.Name}
		}
	}
	now := time.Now()
	v := &models.Version{ID: f.id(), PackageID: packageID, Num: num, Features: features, CreatedAt: now, UpdatedAt: now}
	f.versions = append(f.versions, v)
	f.deps[v.ID] = deps
	cp := *v
	return &cp, nil
}

func (f *fakeCatalog) ListByPackage(_ context.Context, packageID int64) ([]models.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Version
	for _, v := range f.versions {
		if v.PackageID == packageID && v.Published() {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (f *fakeCatalog) SetChecksum(_ context.Context, versionID int64, sum string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions {
		if v.ID == versionID {
			v.Checksum = &sum
		}
	}
	return nil
}

func (f *fakeCatalog) MarkPublished(_ context.Context, versionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, v := range f.versions {
		if v.ID == versionID {
			v.PublishedAt = &now
		}
	}
	return nil
}

func (f *fakeCatalog) DeleteUnpublished(_ context.Context, versionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range f.versions {
		if v.ID == versionID && !v.Published() {
			f.versions = append(f.versions[:i], f.versions[i+1:]...)
			delete(f.deps, versionID)
			break
		}
	}
	return nil
}

// addPublished seeds a package with one published version.
func (f *fakeCatalog) addPublished(name, owner, num string) {
	p, _, _ := f.FindOrCreate(context.Background(), name, owner)
	v, _ := f.CreateWithDependencies(context.Background(), p.ID, num, nil, nil)
	_ = f.MarkPublished(context.Background(), v.ID)
}

func (f *fakeCatalog) versionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.versions)
}

// sorted returns packages by name. Callers hold mu.
func (f *fakeCatalog) sorted() []*models.Package {
	out := make([]*models.Package, 0, len(f.packages))
	for _, p := range f.packages {
		out = append(out, p)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Name < out[j-1].Name; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// fakeBlobs is an in-memory storage.Storage.
type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   int
	deletes   int
	uploadErr error
	deleteErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (b *fakeBlobs) Upload(_ context.Context, path string, r io.Reader, _ storage.UploadOptions) (*storage.UploadResult, error) {
	b.mu.Lock()
	b.uploads++
	b.mu.Unlock()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if b.uploadErr != nil {
		return nil, b.uploadErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = data
	return &storage.UploadResult{Path: path, Key: "pkg/" + path, Size: int64(len(data))}, nil
}

func (b *fakeBlobs) Download(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlobs) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes++
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, path)
	return nil
}

func (b *fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func (b *fakeBlobs) PublicURL(path string) string {
	return storage.HTTPSURL("cdn.example.com", storage.ObjectKey("pkg", path))
}

func (b *fakeBlobs) has(path string) bool {
	ok, _ := b.Exists(context.Background(), path)
	return ok
}

// fakeIndex records registered entries.
type fakeIndex struct {
	mu      sync.Mutex
	entries []index.Entry
	err     error
}

func (i *fakeIndex) Register(_ context.Context, e index.Entry) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	for _, existing := range i.entries {
		if existing.Name == e.Name && existing.Vers == e.Vers {
			return index.ErrDuplicate
		}
	}
	i.entries = append(i.entries, e)
	return nil
}

func (i *fakeIndex) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.entries)
}

// fakeResolver accepts the tokens it knows.
type fakeResolver struct {
	users map[string]*models.User
	err   error
}

func (r *fakeResolver) Resolve(_ context.Context, credential string) (*models.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	credential = strings.TrimPrefix(credential, "Bearer ")
	if u, ok := r.users[credential]; ok {
		return u, nil
	}
	return nil, auth.ErrInvalidCredential
}

var errBackend = errors.New("backend unavailable")
