package security

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Headers configures common security headers for HTTP responses.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
}

// Middleware attaches standard security headers to each response.
func (h Headers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Enable {
			next.ServeHTTP(w, r)
			return
		}
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Permissions-Policy", "geolocation=(), microphone=()")
		if h.EnableHSTS && r.TLS != nil {
			maxAge := h.HSTSMaxAge
			if maxAge <= 0 {
				maxAge = 31536000
			}
			value := "max-age=" + strconv.Itoa(maxAge)
			if h.HSTSIncludeSubdomains {
				value += "; includeSubDomains"
			}
			headers.Set("Strict-Transport-Security", value)
		}
		next.ServeHTTP(w, r)
	})
}

// SurfaceCSP locks down the embedded payment page: scripts may only load
// from our own origin and the checkout script's origin, and the page may
// only be framed by the host application.
type SurfaceCSP struct {
	CheckoutScriptURL string
	FrameAncestor     string
}

// Middleware sets the Content-Security-Policy for surface responses.
func (c SurfaceCSP) Middleware(next http.Handler) http.Handler {
	scriptOrigin := originOf(c.CheckoutScriptURL)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var policy strings.Builder
		policy.WriteString("default-src 'self'; script-src 'self' 'unsafe-inline'")
		if scriptOrigin != "" {
			policy.WriteString(" " + scriptOrigin)
		}
		policy.WriteString("; connect-src 'self'")
		if scriptOrigin != "" {
			policy.WriteString(" " + scriptOrigin)
		}
		policy.WriteString("; frame-ancestors ")
		if c.FrameAncestor != "" {
			policy.WriteString(c.FrameAncestor)
		} else {
			policy.WriteString("'self'")
		}
		w.Header().Set("Content-Security-Policy", policy.String())
		next.ServeHTTP(w, r)
	})
}

func originOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}
