package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/middleware"
)

// RegisterRoutes sets up the auth endpoints on the given Echo instance. The
// login page, login-require URL and /register are exempt from the chain;
// logout and /api/me need a principal.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	b := h.props.Browser

	e.GET(b.LoginPage, h.LoginForm)
	e.GET(b.LoginRequireURL, h.RequireAuthentication)
	e.POST(b.LogoutURL, h.Logout)
	e.POST("/register", h.Register, middleware.RateLimit(5, time.Minute))
	e.GET("/api/me", h.Me)
}

// LoginRateLimit throttles credential POSTs per IP. The chain answers those
// requests itself, so this must be installed with e.Use ahead of the chain
// rather than on a route.
func LoginRateLimit(processingURL string, maxRequests int) echo.MiddlewareFunc {
	limit := middleware.RateLimit(maxRequests, time.Minute)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		limited := limit(next)
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method == http.MethodPost && req.URL.Path == processingURL {
				return limited(c)
			}
			return next(c)
		}
	}
}
