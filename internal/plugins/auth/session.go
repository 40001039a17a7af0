package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// sessionCookieName is the HTTP cookie used to store the session token.
const sessionCookieName = "sentinel_session"

// SessionStrategy keeps principals in Redis sessions keyed by a cookie. It
// implements security.SessionStrategy.
type SessionStrategy struct {
	service AuthService
	ttl     time.Duration
}

// NewSessionStrategy creates the cookie session strategy.
func NewSessionStrategy(service AuthService, ttl time.Duration) *SessionStrategy {
	return &SessionStrategy{service: service, ttl: ttl}
}

// Load implements security.SessionStrategy. A stale cookie is cleared and
// treated as no session.
func (s *SessionStrategy) Load(ex *security.Exchange) (*security.Principal, error) {
	token := getSessionToken(ex.Context)
	if token == "" {
		return nil, nil
	}

	session, err := s.service.ValidateSession(ex.Ctx(), token)
	if err != nil {
		if apperror.SafeCode(err) == http.StatusUnauthorized {
			clearSessionCookie(ex.Context)
			return nil, nil
		}
		return nil, err
	}
	return session.Principal(), nil
}

// Establish implements security.SessionStrategy. A session already bound
// to the request is replaced so a login never inherits an old token.
func (s *SessionStrategy) Establish(ex *security.Exchange, p *security.Principal) error {
	if old := getSessionToken(ex.Context); old != "" {
		_ = s.service.DestroySession(ex.Ctx(), old)
	}

	token, err := s.service.CreateSession(ex.Ctx(), p)
	if err != nil {
		return err
	}
	setSessionCookie(ex.Context, token, s.ttl)
	return nil
}

// --- Cookie helpers ---

// getSessionToken reads the session token from the cookie.
func getSessionToken(c echo.Context) string {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// setSessionCookie sets the session cookie on the response. The cookie is
// HttpOnly (JS can't read it), Secure if behind TLS, and SameSite=Lax.
func setSessionCookie(c echo.Context, token string, ttl time.Duration) {
	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl / time.Second),
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
