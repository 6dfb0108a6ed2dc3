package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig selects the protective response headers. Empty values
// are not sent. HSTS is only emitted when HSTSMaxAge is positive.
type SecurityHeadersConfig struct {
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	FrameOptions          string
	ContentSecurityPolicy string
	ReferrerPolicy        string
}

// APISecurityHeadersConfig suits a JSON API whose download routes redirect to
// another origin. HSTS is enabled only when the listener terminates TLS.
func APISecurityHeadersConfig(tls bool) SecurityHeadersConfig {
	cfg := SecurityHeadersConfig{
		HSTSIncludeSubdomains: true,
		FrameOptions:          "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}
	if tls {
		cfg.HSTSMaxAge = 365 * 24 * 60 * 60
	}
	return cfg
}

func (c SecurityHeadersConfig) headers() http.Header {
	h := http.Header{}
	set := func(name, value string) {
		if value != "" {
			h.Set(name, value)
		}
	}
	if c.HSTSMaxAge > 0 {
		hsts := fmt.Sprintf("max-age=%d", c.HSTSMaxAge)
		if c.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
		set("Strict-Transport-Security", hsts)
	}
	set("X-Frame-Options", c.FrameOptions)
	set("Content-Security-Policy", c.ContentSecurityPolicy)
	set("Referrer-Policy", c.ReferrerPolicy)
	set("X-Content-Type-Options", "nosniff")
	set("X-Permitted-Cross-Domain-Policies", "none")
	return h
}

// SecurityHeadersMiddleware stamps the configured headers on every response.
func SecurityHeadersMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	fixed := config.headers()
	return func(c *gin.Context) {
		out := c.Writer.Header()
		for name, values := range fixed {
			out[name] = values
		}
		c.Next()
	}
}
