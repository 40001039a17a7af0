package smtp

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/plugins/securitylog"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// RegisterRoutes mounts the admin mail endpoints next to the event log.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/security/smtp", security.RequireRole(securitylog.AdminRole))
	g.GET("", h.Settings)
	g.POST("/test", h.TestConnection)
}
