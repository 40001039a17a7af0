package social

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// Handler lets a signed-in user manage the identities bound to their
// account.
type Handler struct {
	providers map[string]Provider
	conns     ConnectionRepository
}

// NewHandler creates a connections handler.
func NewHandler(providers map[string]Provider, conns ConnectionRepository) *Handler {
	return &Handler{providers: providers, conns: conns}
}

// List returns the caller's connections (GET /api/social/connections).
func (h *Handler) List(c echo.Context) error {
	p := security.GetPrincipal(c)
	if p == nil {
		return security.NewAuthError(security.Unauthenticated).AppError()
	}

	conns, err := h.conns.ListByUsername(c.Request().Context(), p.Username)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if conns == nil {
		conns = []Connection{}
	}
	return c.JSON(http.StatusOK, conns)
}

// Connect binds the identity asserted by the request's id_token to the
// caller (POST /api/social/connections/:provider).
func (h *Handler) Connect(c echo.Context) error {
	p := security.GetPrincipal(c)
	if p == nil {
		return security.NewAuthError(security.Unauthenticated).AppError()
	}

	provider, ok := h.providers[c.Param("provider")]
	if !ok {
		return apperror.NewNotFound("unknown provider")
	}

	identity, err := provider.Authenticate(c.Request())
	if err != nil {
		return apperror.NewBadRequest("the identity assertion could not be verified")
	}

	conn := Connection{
		Username:       p.Username,
		ProviderID:     identity.ProviderID,
		ProviderUserID: identity.ProviderUserID,
		DisplayName:    identity.DisplayName,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.conns.Create(c.Request().Context(), conn); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, conn)
}

// Disconnect removes one of the caller's bindings
// (DELETE /api/social/connections/:provider/:subject).
func (h *Handler) Disconnect(c echo.Context) error {
	p := security.GetPrincipal(c)
	if p == nil {
		return security.NewAuthError(security.Unauthenticated).AppError()
	}

	if err := h.conns.Delete(c.Request().Context(), p.Username, c.Param("provider"), c.Param("subject")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
