package securitylog

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/security"
)

// AdminRole is required to read the security log.
const AdminRole = "ROLE_ADMIN"

// RegisterRoutes mounts the admin security log API.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/security", security.RequireRole(AdminRole))
	g.GET("/events", h.ListEvents)
	g.GET("/stats", h.Stats)
}
