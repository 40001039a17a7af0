package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Headers a cross-origin client may send, and read back, when calling the
// JSON endpoints (/api/me, social connections, the security event feed).
// The login page and its form post are same-origin and never need these.
var (
	corsAllowMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
	}, ", ")
	corsAllowHeaders = strings.Join([]string{
		echo.HeaderContentType, "X-Requested-With", "HX-Request",
		CSRFHeaderName, "X-Verify-Key",
	}, ", ")
	corsExposeHeaders = strings.Join([]string{
		"HX-Redirect", "X-Verify-Key", RequestIDHeader, "Retry-After",
	}, ", ")
)

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	// AllowedOrigins holds exact origins ("https://app.example.com"). "*"
	// allows any origin but disables credentials.
	AllowedOrigins []string

	// AllowCredentials lets the session and remember-me cookies travel with
	// cross-origin requests.
	AllowCredentials bool
}

// CORS answers preflight requests and decorates responses for allowed
// origins. Requests from other origins pass through untouched; the browser
// then refuses to hand the response to the calling page.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	wildcard := false
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
			continue
		}
		if o != "" {
			origins[o] = struct{}{}
		}
	}

	credentials := cfg.AllowCredentials
	if wildcard && credentials {
		slog.Warn("cors: wildcard origin configured, cookies will not be sent cross-origin")
		credentials = false
	}

	allowed := func(origin string) bool {
		if wildcard {
			return true
		}
		_, ok := origins[origin]
		return ok
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			origin := req.Header.Get(echo.HeaderOrigin)
			if origin == "" || !allowed(origin) {
				return next(c)
			}

			h := c.Response().Header()
			h.Add(echo.HeaderVary, echo.HeaderOrigin)
			h.Set(echo.HeaderAccessControlAllowOrigin, origin)
			if credentials {
				h.Set(echo.HeaderAccessControlAllowCredentials, "true")
			}

			preflight := req.Method == http.MethodOptions &&
				req.Header.Get(echo.HeaderAccessControlRequestMethod) != ""
			if !preflight {
				h.Set(echo.HeaderAccessControlExposeHeaders, corsExposeHeaders)
				return next(c)
			}

			h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
			h.Set(echo.HeaderAccessControlAllowHeaders, corsAllowHeaders)
			h.Set(echo.HeaderAccessControlMaxAge, "3600")
			return c.NoContent(http.StatusNoContent)
		}
	}
}
