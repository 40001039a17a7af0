package smtp

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the mail settings to admins.
type Handler struct {
	service MailService
}

// NewHandler creates a new SMTP handler.
func NewHandler(service MailService) *Handler {
	return &Handler{service: service}
}

// Settings returns the redacted configuration (GET /api/security/smtp).
func (h *Handler) Settings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Settings())
}

// TestConnection dials the relay (POST /api/security/smtp/test).
func (h *Handler) TestConnection(c echo.Context) error {
	if err := h.service.TestConnection(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
