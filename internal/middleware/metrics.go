// Package middleware provides the Gin middleware shared by every route of the
// registry API: request IDs, request metrics and logs, CORS, security headers
// and publish rate limiting. The order is fixed in internal/api/router.go.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/srcpkg/registry/internal/telemetry"
)

// noRoute labels requests that matched no route, keeping label cardinality bounded.
const noRoute = "<no-route>"

// MetricsMiddleware records http_requests_total{method,path,status} and
// http_request_duration_seconds{method,path}. The path label is the matched
// route template from c.FullPath(), e.g. /download/:package_id/:filename.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
