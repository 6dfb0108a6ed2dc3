// Package main is the entry point for the package registry server binary.
// It dispatches four subcommands (serve, migrate, create-user and version)
// via a simple switch on os.Args. The serve command runs auto-migration on
// startup so freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- served only on the internal profiling port, never on the API listener.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srcpkg/registry/internal/api"
	"github.com/srcpkg/registry/internal/auth"
	"github.com/srcpkg/registry/internal/config"
	"github.com/srcpkg/registry/internal/db"
	"github.com/srcpkg/registry/internal/db/models"
	"github.com/srcpkg/registry/internal/db/repositories"
	"github.com/srcpkg/registry/internal/index"
	"github.com/srcpkg/registry/internal/safego"
	"github.com/srcpkg/registry/internal/storage"
	"github.com/srcpkg/registry/internal/telemetry"

	_ "github.com/srcpkg/registry/internal/storage/azure"
	_ "github.com/srcpkg/registry/internal/storage/gcs"
	_ "github.com/srcpkg/registry/internal/storage/local"
	_ "github.com/srcpkg/registry/internal/storage/s3"
)

const usage = "Available commands: serve, migrate <up|down>, create-user <email> <name>, version"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("Package Registry %s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "create-user":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: %s create-user <email> <name>", os.Args[0])
		}
		return createUser(cfg, os.Args[2], os.Args[3])
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Auth.JWT.Enabled {
		if err := auth.ValidateJWTSecret(); err != nil {
			return fmt.Errorf("security configuration error: %w", err)
		}
	}

	ctx := context.Background()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port, "dbname", cfg.Database.Name)

	telemetry.StartDBStatsCollector(database.DB)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	blobs, err := storage.NewStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	idx, err := index.New(&cfg.Index)
	if err != nil {
		return fmt.Errorf("failed to initialize index: %w", err)
	}

	if cfg.Watch(func(c *config.Config) {
		telemetry.SetLogLevel(c.Logging.Level)
	}) {
		slog.Info("watching configuration file for changes")
	}

	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		safego.Go(func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	if cfg.Telemetry.Profiling.Enabled {
		pprofAddr := fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port)
		safego.Go(func() {
			slog.Info("starting pprof server", "addr", pprofAddr)
			// net/http/pprof registers its handlers on http.DefaultServeMux at init time.
			srv := &http.Server{ //nolint:gosec // #nosec G112 -- internal-only pprof port
				Addr:         pprofAddr,
				Handler:      http.DefaultServeMux,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("pprof server error", "error", err)
			}
		})
	}

	router, bgServices := api.NewRouter(cfg, database, blobs, idx)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"storage", cfg.Storage.DefaultBackend,
			"index", cfg.Index.Backend,
			"tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		bgServices.Shutdown()
		return fmt.Errorf("failed to start server: %w", err)
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(context.Background(), cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}

// createUser provisions an account and prints a freshly minted API key. The
// raw key is shown once; only its bcrypt hash is stored.
func createUser(cfg *config.Config, email, name string) error {
	ctx := context.Background()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	users := repositories.NewUserRepository(database)
	if existing, err := users.GetUserByEmail(ctx, email); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("user %s already exists", email)
	}

	user := &models.User{Email: email, Name: name}
	if err := users.CreateUser(ctx, user); err != nil {
		return err
	}

	key, hash, prefix, err := auth.GenerateAPIKey(cfg.Auth.APIKeys.Prefix)
	if err != nil {
		return err
	}
	apiKey := &models.APIKey{
		UserID:    user.ID,
		Name:      "default",
		KeyHash:   hash,
		KeyPrefix: prefix,
	}
	if err := repositories.NewAPIKeyRepository(database).CreateAPIKey(ctx, apiKey); err != nil {
		return err
	}

	slog.Info("user created", "user_id", user.ID, "email", email)
	fmt.Printf("API key for %s (store it now, it will not be shown again):\n%s\n", email, key)

	if cfg.Auth.JWT.Enabled {
		token, err := auth.GenerateJWT(user.ID, email, auth.DefaultTokenTTL)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Printf("Bearer token (expires in %s):\n%s\n", auth.DefaultTokenTTL, token)
	}
	return nil
}
