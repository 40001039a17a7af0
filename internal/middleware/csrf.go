package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/apperror"
)

const (
	// csrfTokenLength is the number of random bytes in a token (64 hex chars).
	csrfTokenLength = 32

	// CSRFCookieName is the cookie that carries the double-submit token.
	CSRFCookieName = "sentinel_csrf"

	// CSRFHeaderName is checked before the form field.
	CSRFHeaderName = "X-CSRF-Token"

	// CSRFFormField is the hidden field rendered into HTML forms.
	CSRFFormField = "csrf_token"

	csrfContextKey = "csrf_token"
)

// CSRFConfig configures the double-submit check.
type CSRFConfig struct {
	// Skipper exempts requests from validation. The token cookie is still
	// issued so pages rendered on skipped paths can embed it.
	Skipper func(c echo.Context) bool
}

// SkipAPI exempts /api/ routes, which are consumed by non-browser clients
// that never see the cookie.
func SkipAPI(c echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/api/")
}

// CSRF returns middleware that implements the double-submit cookie pattern
// on state-changing requests. The token travels in a readable cookie and
// must be echoed in the X-CSRF-Token header or the csrf_token form field.
func CSRF(cfg CSRFConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			var cookieToken string
			if cookie, err := req.Cookie(CSRFCookieName); err == nil && cookie.Value != "" {
				cookieToken = cookie.Value
			} else {
				token, genErr := generateCSRFToken()
				if genErr != nil {
					return apperror.NewInternal(genErr)
				}
				c.SetCookie(&http.Cookie{
					Name:     CSRFCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: false,
					Secure:   isSecureRequest(c),
					SameSite: http.SameSiteLaxMode,
				})
				cookieToken = token
			}
			c.Set(csrfContextKey, cookieToken)

			if isSafeMethod(req.Method) || (cfg.Skipper != nil && cfg.Skipper(c)) {
				return next(c)
			}

			submitted := req.Header.Get(CSRFHeaderName)
			if submitted == "" {
				submitted = req.FormValue(CSRFFormField)
			}
			if submitted == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(cookieToken)) != 1 {
				return apperror.NewForbidden("invalid or missing CSRF token")
			}

			return next(c)
		}
	}
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions
}

func generateCSRFToken() (string, error) {
	b := make([]byte, csrfTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GetCSRFToken returns the token for the current request, or "" when the
// CSRF middleware is not installed.
func GetCSRFToken(c echo.Context) string {
	if token, ok := c.Get(csrfContextKey).(string); ok {
		return token
	}
	return ""
}
