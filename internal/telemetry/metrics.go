// Package telemetry provides application-level observability for the package registry.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<REGISTRY_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Publish outcomes and duration
//   - Package download counter
//   - Blob compensation and index registration results
//   - Database connection pool gauges (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/packages/:package_id)
// rather than the raw request URL. Package names and versions never appear as
// label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Publish metrics.
//
// PublishTotal is labelled by outcome: "committed" or the lower-cased error
// kind that ended the publish (e.g. "version_already_published", "indexing_failed").
//
// Example PromQL queries:
//   - Failed publishes:  sum by (outcome) (rate(registry_publish_total{outcome!="committed"}[1h]))
//   - p95 publish time:  histogram_quantile(0.95, rate(registry_publish_duration_seconds_bucket[1h]))
var (
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_publish_total",
			Help: "Total number of publish attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_publish_duration_seconds",
			Help:    "Duration of publish attempts from validation to commit or rollback.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

// PackageDownloadsTotal counts download redirects served. Per-package counts
// live in the catalog, not in label values.
var PackageDownloadsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "registry_package_downloads_total",
		Help: "Total number of package download redirects served.",
	},
)

// Compensation and index metrics.
//
// BlobRollbacksTotal is labelled by result: "deleted" or "failed". A failed
// rollback leaves an orphaned tarball in the blob store.
//
// Example PromQL queries:
//   - Alert on leaked blobs:  increase(registry_blob_rollbacks_total{result="failed"}[1h]) > 0
var (
	BlobRollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_blob_rollbacks_total",
			Help: "Total number of compensating blob deletes, by result.",
		},
		[]string{"result"},
	)

	IndexRegisterTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_index_register_total",
			Help: "Total number of package index registrations, by result.",
		},
		[]string{"result"},
	)
)

// Database connection pool gauges, sampled every 30 seconds by
// StartDBStatsCollector rather than per-request.
//
// Example PromQL queries:
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var (
	DBOpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_open_connections",
			Help: "Current number of open database connections in the pool.",
		},
	)

	DBInUseConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_in_use_connections",
			Help: "Current number of database connections in use.",
		},
	)
)

// RecordDBStats copies pool statistics into the gauges.
func RecordDBStats(stats sql.DBStats) {
	DBOpenConnections.Set(float64(stats.OpenConnections))
	DBInUseConnections.Set(float64(stats.InUse))
}

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds. The goroutine exits when the database becomes
// unreachable, which happens when the application shuts down and closes the pool.
//
// Call this once, immediately after db.Connect() succeeds:
//
//	telemetry.StartDBStatsCollector(database.DB)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			RecordDBStats(db.Stats())
		}
	}()
}
