// security.go provides Gin middleware that injects protective response
// headers. The portal pages and the JSON API use different profiles: pages
// may embed the receipt PDF from the API origin in an iframe, while API
// responses are only ever framed by the portal itself.
package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig holds configuration for security headers
type SecurityHeadersConfig struct {
	// EnableHSTS enables HTTP Strict Transport Security
	EnableHSTS bool
	// HSTSMaxAge is the max-age value for HSTS in seconds
	HSTSMaxAge int
	// HSTSIncludeSubdomains includes subdomains in HSTS
	HSTSIncludeSubdomains bool
	// FrameOptionsValue is the X-Frame-Options value (DENY, SAMEORIGIN); empty omits the header
	FrameOptionsValue string
	// ContentSecurityPolicy is the CSP header value
	ContentSecurityPolicy string
	// ReferrerPolicy is the Referrer-Policy header value
	ReferrerPolicy string
	// PermissionsPolicy is the Permissions-Policy header value
	PermissionsPolicy string
	// CrossOriginResourcePolicy is the CORP value; "cross-origin" lets a
	// separately hosted portal embed API responses.
	CrossOriginResourcePolicy string
}

// PortalSecurityHeadersConfig returns the profile for server-rendered pages.
// apiOrigin is allowed as a fetch target and as a frame source so the receipt
// viewer can embed the PDF.
func PortalSecurityHeadersConfig(apiOrigin string) SecurityHeadersConfig {
	sources := "'self'"
	if apiOrigin = strings.TrimRight(apiOrigin, "/"); apiOrigin != "" {
		sources += " " + apiOrigin
	}
	return SecurityHeadersConfig{
		EnableHSTS:            true,
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
		FrameOptionsValue:     "SAMEORIGIN",
		ContentSecurityPolicy: "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' data:; font-src 'self'" +
			"; connect-src " + sources +
			"; frame-src " + sources +
			"; frame-ancestors 'self'",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		PermissionsPolicy:         "geolocation=(), microphone=(), camera=()",
		CrossOriginResourcePolicy: "same-origin",
	}
}

// APISecurityHeadersConfig returns the profile for JSON and file endpoints.
// frameAncestors lists extra origins (typically the portal) allowed to embed
// API responses such as receipt PDFs.
func APISecurityHeadersConfig(frameAncestors ...string) SecurityHeadersConfig {
	ancestors := []string{"'self'"}
	for _, o := range frameAncestors {
		if o = strings.TrimRight(o, "/"); o != "" && o != "*" {
			ancestors = append(ancestors, o)
		}
	}

	cfg := SecurityHeadersConfig{
		EnableHSTS:                true,
		HSTSMaxAge:                31536000,
		HSTSIncludeSubdomains:     true,
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors " + strings.Join(ancestors, " "),
		ReferrerPolicy:            "no-referrer",
		CrossOriginResourcePolicy: "same-origin",
	}
	if len(ancestors) == 1 {
		// X-Frame-Options cannot express an allow list; browsers that honour
		// CSP use frame-ancestors instead.
		cfg.FrameOptionsValue = "SAMEORIGIN"
	} else {
		cfg.CrossOriginResourcePolicy = "cross-origin"
	}
	return cfg
}

// SecurityHeadersMiddleware adds security headers to all responses
func SecurityHeadersMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	hsts := ""
	if config.EnableHSTS {
		hsts = "max-age=" + strconv.Itoa(config.HSTSMaxAge)
		if config.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}

	return func(c *gin.Context) {
		if hsts != "" {
			c.Header("Strict-Transport-Security", hsts)
		}
		if config.FrameOptionsValue != "" {
			c.Header("X-Frame-Options", config.FrameOptionsValue)
		}
		c.Header("X-Content-Type-Options", "nosniff")
		if config.ContentSecurityPolicy != "" {
			c.Header("Content-Security-Policy", config.ContentSecurityPolicy)
		}
		if config.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", config.ReferrerPolicy)
		}
		if config.PermissionsPolicy != "" {
			c.Header("Permissions-Policy", config.PermissionsPolicy)
		}
		if config.CrossOriginResourcePolicy != "" {
			c.Header("Cross-Origin-Resource-Policy", config.CrossOriginResourcePolicy)
		}
		c.Header("X-Permitted-Cross-Domain-Policies", "none")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")

		c.Next()
	}
}
