package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srcpkg/registry/internal/telemetry"
)

func newTestDownloader() (*fakeCatalog, *Downloader) {
	catalog := newFakeCatalog()
	d := NewDownloader(catalog, newFakeBlobs())
	d.detach = func(ctx context.Context, _ string, _ time.Duration, fn func(context.Context)) { fn(ctx) }
	return catalog, d
}

func TestDownload_ResolvesURLAndCounts(t *testing.T) {
	catalog, d := newTestDownloader()
	catalog.addPublished("foo", "alice", "1.0.0")
	before := testutil.ToFloat64(telemetry.PackageDownloadsTotal)

	target, err := d.Resolve(context.Background(), "foo", "foo-1.0.0.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/pkg/foo/foo-1.0.0.tar.gz", target.URL)
	assert.Equal(t, "1.0.0", target.Version)

	pkg, _ := catalog.GetByName(context.Background(), "foo")
	assert.Equal(t, int64(1), pkg.Downloads)
	v, _ := catalog.GetByNum(context.Background(), pkg.ID, "1.0.0")
	assert.Equal(t, int64(1), v.Downloads)
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.PackageDownloadsTotal))
}

func TestDownload_MixedCaseVersionKeepsCase(t *testing.T) {
	f := newPublishFixture(1 << 20)
	ctx := context.Background()
	_, err := f.publisher.Publish(ctx, publishReq("foo", "1.0.0-RC1", tarball))
	require.NoError(t, err)
	require.True(t, f.blobs.has("foo/foo-1.0.0-RC1.tar.gz"))

	d := NewDownloader(f.catalog, f.blobs)
	d.detach = func(ctx context.Context, _ string, _ time.Duration, fn func(context.Context)) { fn(ctx) }

	for _, file := range []string{"foo-1.0.0-RC1.tar.gz", "FOO-1.0.0-RC1.TAR.GZ"} {
		target, err := d.Resolve(ctx, "Foo", file)
		require.NoError(t, err, file)
		assert.Equal(t, "1.0.0-RC1", target.Version)
		assert.Equal(t, "https://cdn.example.com/pkg/foo/foo-1.0.0-RC1.tar.gz", target.URL)
	}

	_, err = d.Resolve(ctx, "foo", "foo-1.0.0-rc1.tar.gz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownload_ConcurrentCountsAreNotLost(t *testing.T) {
	catalog, d := newTestDownloader()
	catalog.addPublished("foo", "alice", "1.0.0")
	const n = 32

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Resolve(context.Background(), "foo", "foo-1.0.0.tar.gz")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pkg, _ := catalog.GetByName(context.Background(), "foo")
	assert.Equal(t, int64(n), pkg.Downloads)
	v, _ := catalog.GetByNum(context.Background(), pkg.ID, "1.0.0")
	assert.Equal(t, int64(n), v.Downloads)
}

func TestDownload_NotFound(t *testing.T) {
	catalog, d := newTestDownloader()
	catalog.addPublished("foo", "alice", "1.0.0")

	for _, tc := range []struct{ name, file string }{
		{"foo", "foo-2.0.0.tar.gz"},
		{"foo", "bar-1.0.0.tar.gz"},
		{"foo", "foo-1.0.0.zip"},
		{"foo", "foo-.tar.gz"},
		{"bar", "bar-1.0.0.tar.gz"},
	} {
		_, err := d.Resolve(context.Background(), tc.name, tc.file)
		assert.ErrorIs(t, err, ErrNotFound, "%s/%s", tc.name, tc.file)
	}
}

func TestDownload_UnpublishedVersionNotServed(t *testing.T) {
	catalog, d := newTestDownloader()
	pkg, _, _ := catalog.FindOrCreate(context.Background(), "foo", "alice")
	_, err := catalog.CreateWithDependencies(context.Background(), pkg.ID, "1.0.0", nil, nil)
	require.NoError(t, err)

	_, err = d.Resolve(context.Background(), "foo", "foo-1.0.0.tar.gz")
	assert.ErrorIs(t, err, ErrNotFound)
}
