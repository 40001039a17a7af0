package captcha

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/middleware"
)

// RegisterRoutes mounts the challenge image endpoint. The path is exempt
// from authentication; issuing is rate-limited per IP because every image
// costs a store write.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET(h.props.IssueURL, h.Image, middleware.RateLimit(60, time.Minute))
}
