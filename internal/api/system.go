package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/srcpkg/registry/internal/storage"
)

// Version is the server version reported by /version, set at build time with
// -ldflags "-X github.com/srcpkg/registry/internal/api.Version=...".
var Version = "dev"

// Pinger checks database connectivity. *sqlx.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

const healthTimeout = 5 * time.Second

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and the blob store.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler also checks the blob store, so the readiness gate fails
// when publishes would error.
func readinessHandler(db Pinger, blobs storage.Storage) gin.HandlerFunc {
	dependencies := []struct {
		check string
		what  string
		run   func(context.Context) error
	}{
		{"database", "database", db.PingContext},
		// Exists on a known-absent key exercises credentials and
		// connectivity without creating state.
		{"storage", "storage backend", func(ctx context.Context) error {
			_, err := blobs.Exists(ctx, ".readiness-check")
			return err
		}},
	}

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		checks := gin.H{}
		for _, p := range dependencies {
			if err := p.run(ctx); err != nil {
				checks[p.check] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  p.what + " not ready",
				})
				return
			}
			checks[p.check] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the server version and API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// filesHandler serves tarballs written by the local backend. Only regular
// files are served; directories are never listed.
func filesHandler(root string) gin.HandlerFunc {
	fsys := http.Dir(root)
	return func(c *gin.Context) {
		name := path.Clean("/" + strings.TrimPrefix(c.Param("filepath"), "/"))
		if name == "/" {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}

		f, err := fsys.Open(name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.AbortWithStatus(http.StatusNotFound)
				return
			}
			_ = c.Error(err)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}

		c.Header("Content-Type", "application/gzip")
		http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
	}
}
