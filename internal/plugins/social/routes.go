package social

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the connection management API. The provider
// callbacks themselves are answered by the chain filter.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/social/connections")
	g.GET("", h.List)
	g.POST("/:provider", h.Connect)
	g.DELETE("/:provider/:subject", h.Disconnect)
}
