// Package api wires the registry's HTTP routes.
//
// Reads (listing, summary, package detail, downloads) are public. Publish and
// update carry their credential in the Authorization header and are
// authenticated by the services layer, so no route group needs auth
// middleware. Publishing is additionally rate limited per client.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/srcpkg/registry/internal/api/packages"
	"github.com/srcpkg/registry/internal/auth"
	"github.com/srcpkg/registry/internal/config"
	"github.com/srcpkg/registry/internal/db/repositories"
	"github.com/srcpkg/registry/internal/index"
	"github.com/srcpkg/registry/internal/middleware"
	"github.com/srcpkg/registry/internal/services"
	"github.com/srcpkg/registry/internal/storage"
	"github.com/srcpkg/registry/internal/storage/local"
)

// BackgroundServices holds resources started alongside the router that must
// be released on shutdown.
type BackgroundServices struct {
	stopLimiter func()
}

// Shutdown releases background resources. Call it after the HTTP server has
// drained in-flight requests.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.stopLimiter != nil {
		bg.stopLimiter()
	}
	slog.Info("all background services stopped")
}

// NewRouter builds the repositories, services and handlers and returns the
// configured Gin engine.
func NewRouter(cfg *config.Config, db *sqlx.DB, blobs storage.Storage, idx index.Index) (*gin.Engine, *BackgroundServices) {
	packageRepo := repositories.NewPackageRepository(db)
	versionRepo := repositories.NewVersionRepository(db)
	userRepo := repositories.NewUserRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)

	resolver := auth.NewResolver(userRepo, apiKeyRepo, &cfg.Auth)

	handler := packages.NewHandler(
		services.NewCatalogService(packageRepo, versionRepo, resolver),
		services.NewPublisher(packageRepo, versionRepo, blobs, idx, resolver, cfg.Publish.MaxUploadSize),
		services.NewDownloader(packageRepo, blobs),
	)

	bg := &BackgroundServices{}
	var publishLimiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		publishLimiter, bg.stopLimiter = middleware.NewLimiterFromConfig(&cfg.Security.RateLimiting)
		if cfg.Security.RateLimiting.Redis.Addr != "" {
			slog.Info("publish rate limiting enabled", "backend", "redis", "addr", cfg.Security.RateLimiting.Redis.Addr)
		} else {
			slog.Info("publish rate limiting enabled", "backend", "memory")
		}
	}

	router := newEngine(cfg, routes{
		packages:       handler,
		db:             db,
		blobs:          blobs,
		publishLimiter: publishLimiter,
	})
	return router, bg
}

// routes carries what newEngine mounts; tests build it from fakes.
type routes struct {
	packages       *packages.Handler
	db             Pinger
	blobs          storage.Storage
	publishLimiter middleware.Limiter
}

func newEngine(cfg *config.Config, r routes) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(&cfg.Security.CORS))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(r.db))
	router.GET("/ready", readinessHandler(r.db, r.blobs))
	router.GET("/version", versionHandler())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/summary", r.packages.Summary)
		v1.GET("/packages", r.packages.List)

		publish := []gin.HandlerFunc{r.packages.Publish}
		if r.publishLimiter != nil {
			publish = append([]gin.HandlerFunc{middleware.RateLimitMiddleware(r.publishLimiter)}, publish...)
		}
		v1.PUT("/packages/new", publish...)

		v1.GET("/packages/:package_id", r.packages.Show)
		v1.PUT("/packages/:package_id", r.packages.Update)
	}

	router.GET("/download/:package_id/:filename", r.packages.Download)

	// The local backend has no web server of its own.
	if ls, ok := r.blobs.(*local.LocalStorage); ok && cfg.Storage.PublicHost == "" {
		router.GET(local.FilesRoute+"/*filepath", filesHandler(ls.Root()))
		router.HEAD(local.FilesRoute+"/*filepath", filesHandler(ls.Root()))
	}

	return router
}
