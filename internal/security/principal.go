// Package security implements the request-time authentication gate: an
// ordered chain of filters that decides, for every request, whether to let
// it through, complete an interactive login, or reject it with a typed
// failure. Concrete authentication mechanisms (image challenges, social
// login, remember-me tokens, credential stores, sessions) plug in through
// the interfaces declared here and live in internal/plugins.
package security

import (
	"slices"

	"github.com/labstack/echo/v4"
)

// contextKeyPrincipal is the Echo context key holding the authenticated
// principal once the chain lets a request through.
const contextKeyPrincipal = "security_principal"

// Principal is an authenticated identity. It is created by a credential
// store, a social provider, a session lookup or a remember-me validation
// and is never persisted by the chain itself.
type Principal struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles,omitempty"`
}

// HasRole reports whether the principal was granted role.
func (p *Principal) HasRole(role string) bool {
	return p != nil && slices.Contains(p.Roles, role)
}

// SetPrincipal stores p in the Echo context for downstream handlers.
func SetPrincipal(c echo.Context, p *Principal) {
	c.Set(contextKeyPrincipal, p)
}

// GetPrincipal returns the principal the chain attached to the request, or
// nil for anonymous requests on exempt paths.
func GetPrincipal(c echo.Context) *Principal {
	p, ok := c.Get(contextKeyPrincipal).(*Principal)
	if !ok {
		return nil
	}
	return p
}
