package captcha

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/config"
)

// Handler serves challenge images.
type Handler struct {
	service *Service
	props   config.ImageCodeProperties
}

// NewHandler creates a challenge handler.
func NewHandler(service *Service, props config.ImageCodeProperties) *Handler {
	return &Handler{service: service, props: props}
}

// Image issues a new challenge (GET /verifycode/image). The key travels in
// a cookie and a response header; the body is the PNG.
func (h *Handler) Image(c echo.Context) error {
	ch, err := h.service.Issue(c.Request().Context())
	if err != nil {
		return apperror.NewInternal(err)
	}

	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     h.props.KeyCookie,
		Value:    ch.Key,
		Path:     "/",
		HttpOnly: true,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(time.Until(ch.ExpiresAt).Seconds()) + 1,
	})

	header := c.Response().Header()
	header.Set(KeyHeader, ch.Key)
	header.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	header.Set("Pragma", "no-cache")
	header.Set("Expires", "0")
	header.Set(echo.HeaderContentLength, strconv.Itoa(len(ch.Image)))
	return c.Blob(http.StatusOK, "image/png", ch.Image)
}
