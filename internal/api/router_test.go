package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/srcpkg/registry/internal/api/packages"
	"github.com/srcpkg/registry/internal/config"
	"github.com/srcpkg/registry/internal/db/models"
	"github.com/srcpkg/registry/internal/middleware"
	"github.com/srcpkg/registry/internal/services"
	"github.com/srcpkg/registry/internal/storage"
	"github.com/srcpkg/registry/internal/storage/local"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type readinessMockStorage struct{ existsErr error }

func (m *readinessMockStorage) Upload(context.Context, string, io.Reader, storage.UploadOptions) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *readinessMockStorage) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}
func (m *readinessMockStorage) Delete(context.Context, string) error { return nil }
func (m *readinessMockStorage) Exists(context.Context, string) (bool, error) {
	return false, m.existsErr
}
func (m *readinessMockStorage) PublicURL(p string) string { return "https://cdn.example.com/" + p }

type nopCatalog struct{}

func (nopCatalog) List(context.Context, int, int, string) (*services.PackageList, error) {
	return &services.PackageList{Packages: []models.EncodablePackage{}}, nil
}
func (nopCatalog) Summary(context.Context) (*services.Summary, error) { return &services.Summary{}, nil }
func (nopCatalog) Show(_ context.Context, name string) (*services.PackageDetail, error) {
	return nil, &services.Error{Kind: services.ErrNotFound, Message: "package `" + name + "` does not exist"}
}
func (nopCatalog) Update(context.Context, string, string, string) (*models.EncodablePackage, error) {
	return nil, &services.Error{Kind: services.ErrUnauthorized, Message: "must be logged in to update a package"}
}

type countingPublisher struct{ calls int }

func (p *countingPublisher) Publish(context.Context, *services.PublishRequest) (*models.EncodablePackage, error) {
	p.calls++
	return &models.EncodablePackage{ID: "foo", Name: "foo", Versions: []int64{}}, nil
}

type nopDownloader struct{}

func (nopDownloader) Resolve(context.Context, string, string) (*services.DownloadTarget, error) {
	return &services.DownloadTarget{URL: "https://cdn.example.com/pkg/foo/foo-1.0.0.tar.gz"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Security: config.SecurityConfig{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
	}
}

func testEngine(t *testing.T, blobs storage.Storage, limiter middleware.Limiter, pub *countingPublisher) *gin.Engine {
	t.Helper()
	if pub == nil {
		pub = &countingPublisher{}
	}
	return newEngine(testConfig(), routes{
		packages:       packages.NewHandler(nopCatalog{}, pub, nopDownloader{}),
		db:             fakePinger{},
		blobs:          blobs,
		publishLimiter: limiter,
	})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return body
}

// ---------------------------------------------------------------------------
// System handlers
// ---------------------------------------------------------------------------

func TestHealthCheckHandler(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantField  string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"unhealthy", errors.New("connection refused"), http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", healthCheckHandler(fakePinger{err: tt.pingErr}))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := decode(t, w)["status"]; got != tt.wantField {
				t.Errorf("status field = %v, want %s", got, tt.wantField)
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		existsErr  error
		wantStatus int
		wantError  string
	}{
		{"ready", nil, nil, http.StatusOK, ""},
		{"database down", errors.New("down"), nil, http.StatusServiceUnavailable, "database not ready"},
		{"storage down", nil, errors.New("403"), http.StatusServiceUnavailable, "storage backend not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/ready", readinessHandler(fakePinger{err: tt.pingErr}, &readinessMockStorage{existsErr: tt.existsErr}))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decode(t, w)
			if tt.wantError == "" {
				if body["ready"] != true {
					t.Errorf("ready = %v, want true", body["ready"])
				}
			} else if body["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	r := gin.New()
	r.GET("/version", versionHandler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	body := decode(t, w)
	if body["version"] != Version || body["api_version"] != "v1" {
		t.Errorf("body = %v", body)
	}
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestRouter_RoutesAndMiddleware(t *testing.T) {
	r := testEngine(t, &readinessMockStorage{}, nil, nil)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/v1/packages", http.StatusOK},
		{http.MethodGet, "/api/v1/summary", http.StatusOK},
		{http.MethodGet, "/api/v1/packages/foo", http.StatusNotFound},
		{http.MethodPut, "/api/v1/packages/new", http.StatusOK},
		{http.MethodGet, "/download/foo/foo-1.0.0.tar.gz", http.StatusFound},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/files/pkg/foo/foo-1.0.0.tar.gz", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, strings.NewReader("")))
		if w.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
		}
		if w.Header().Get(middleware.RequestIDHeader) == "" {
			t.Errorf("%s %s: missing %s", tt.method, tt.path, middleware.RequestIDHeader)
		}
		if w.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s %s: missing security headers", tt.method, tt.path)
		}
	}
}

func TestRouter_UpdateRequiresCredential(t *testing.T) {
	r := testEngine(t, &readinessMockStorage{}, nil, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/packages/foo", strings.NewReader(`{"package":{"name":"bar"}}`))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRouter_PublishRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1, CleanupInterval: time.Hour})
	defer limiter.Stop()
	pub := &countingPublisher{}
	r := testEngine(t, &readinessMockStorage{}, limiter, pub)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/v1/packages/new", strings.NewReader("x")))
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
	if pub.calls != 1 {
		t.Errorf("publisher ran %d times, want 1", pub.calls)
	}

	// Reads are not limited.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/packages", nil))
	if w.Code != http.StatusOK {
		t.Errorf("list status = %d, want 200", w.Code)
	}
}

func TestRouter_ServesLocalFiles(t *testing.T) {
	dir := t.TempDir()
	ls, err := local.New(&config.StorageConfig{KeyPrefix: "pkg", Local: config.LocalStorageConfig{BasePath: dir}}, "http://localhost:8080")
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	if _, err := ls.Upload(context.Background(), "foo/foo-1.0.0.tar.gz", strings.NewReader("tarball-bytes"), storage.UploadOptions{}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "pkg", "empty"), 0750); err != nil {
		t.Fatal(err)
	}

	r := testEngine(t, ls, nil, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/pkg/foo/foo-1.0.0.tar.gz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "tarball-bytes" {
		t.Errorf("GET file = %d %q", w.Code, w.Body.String())
	}

	for _, p := range []string{"/files/pkg/empty", "/files/pkg/foo/missing.tar.gz", "/files/../../etc/passwd", "/files/"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", p, w.Code)
		}
	}
}
