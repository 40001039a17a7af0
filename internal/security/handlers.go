package security

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/config"
)

// NextParameter carries the originally requested path through the login
// round trip so a REDIRECT-style login can return the user there.
const NextParameter = "next"

// SuccessHandler writes the response for a completed interactive login.
type SuccessHandler interface {
	OnAuthenticationSuccess(ex *Exchange, p *Principal) error
}

// FailureHandler writes the response for any authentication failure.
type FailureHandler interface {
	OnAuthenticationFailure(ex *Exchange, failure *AuthError) error
}

// SuccessHandlerFunc adapts a function to SuccessHandler.
type SuccessHandlerFunc func(ex *Exchange, p *Principal) error

// OnAuthenticationSuccess calls f.
func (f SuccessHandlerFunc) OnAuthenticationSuccess(ex *Exchange, p *Principal) error {
	return f(ex, p)
}

// FailureHandlerFunc adapts a function to FailureHandler.
type FailureHandlerFunc func(ex *Exchange, failure *AuthError) error

// OnAuthenticationFailure calls f.
func (f FailureHandlerFunc) OnAuthenticationFailure(ex *Exchange, failure *AuthError) error {
	return f(ex, failure)
}

// BrowserSuccessHandler answers logins with JSON or a redirect depending
// on the configured login type.
type BrowserSuccessHandler struct {
	props config.BrowserProperties
}

// NewBrowserSuccessHandler creates the default success callback.
func NewBrowserSuccessHandler(props config.BrowserProperties) *BrowserSuccessHandler {
	return &BrowserSuccessHandler{props: props}
}

// OnAuthenticationSuccess implements SuccessHandler.
func (h *BrowserSuccessHandler) OnAuthenticationSuccess(ex *Exchange, p *Principal) error {
	if h.props.LoginType == config.LoginResponseJSON {
		return ex.JSON(http.StatusOK, map[string]any{
			"authenticated": true,
			"principal":     p,
		})
	}

	target := h.props.SuccessURL
	if next := ex.FormValue(NextParameter); isLocalPath(next) {
		target = next
	}
	return ex.Redirect(http.StatusSeeOther, target)
}

// BrowserFailureHandler answers every failure kind. Anonymous browser
// navigations, including ones whose remember-me cookie was rejected, are
// sent to the login-require endpoint; everything else gets a 401 JSON body
// or a redirect back to the login page.
type BrowserFailureHandler struct {
	props config.BrowserProperties
}

// NewBrowserFailureHandler creates the default failure callback.
func NewBrowserFailureHandler(props config.BrowserProperties) *BrowserFailureHandler {
	return &BrowserFailureHandler{props: props}
}

// OnAuthenticationFailure implements FailureHandler.
func (h *BrowserFailureHandler) OnAuthenticationFailure(ex *Exchange, failure *AuthError) error {
	if failure.Kind == Unauthenticated {
		return h.requireAuthentication(ex, failure)
	}
	// The coordinator has already cleared a rejected cookie, so a page
	// navigation continues as an anonymous one would.
	if failure.Kind.IsRememberMe() && (WantsHTML(ex.Context) || IsHTMX(ex.Context)) {
		return h.requireAuthentication(ex, failure)
	}

	if h.props.LoginType == config.LoginResponseRedirect && !isAPIRequest(ex.Context) {
		kind, _ := failure.Public()
		q := url.Values{}
		q.Set("error", string(kind))
		if next := ex.FormValue(NextParameter); isLocalPath(next) {
			q.Set(NextParameter, next)
		}
		return ex.Redirect(http.StatusSeeOther, h.props.LoginPage+"?"+q.Encode())
	}

	return writeFailureJSON(ex, failure)
}

// requireAuthentication handles requests that simply lack a principal.
func (h *BrowserFailureHandler) requireAuthentication(ex *Exchange, failure *AuthError) error {
	if IsHTMX(ex.Context) {
		ex.Response().Header().Set("HX-Redirect", h.props.LoginPage)
		return ex.NoContent(http.StatusNoContent)
	}
	if WantsHTML(ex.Context) {
		q := url.Values{}
		q.Set(NextParameter, ex.Request().URL.RequestURI())
		return ex.Redirect(http.StatusSeeOther, h.props.LoginRequireURL+"?"+q.Encode())
	}
	return writeFailureJSON(ex, failure)
}

// writeFailureJSON writes the 401 body shared by all JSON failures.
func writeFailureJSON(ex *Exchange, failure *AuthError) error {
	kind, message := failure.Public()
	return ex.JSON(http.StatusUnauthorized, map[string]string{
		"error":   http.StatusText(http.StatusUnauthorized),
		"kind":    string(kind),
		"message": message,
	})
}

// RequireRole returns route middleware that allows only principals holding
// role. It must run behind the chain middleware.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := GetPrincipal(c)
			if p == nil {
				return NewAuthError(Unauthenticated).AppError()
			}
			if !p.HasRole(role) {
				return apperror.NewForbidden("you do not have permission to access this resource")
			}
			return next(c)
		}
	}
}

// --- Request classification ---

// WantsHTML reports whether the request is a browser navigation that
// expects an HTML page rather than JSON.
func WantsHTML(c echo.Context) bool {
	req := c.Request()
	if isAPIRequest(c) || req.Method != http.MethodGet {
		return false
	}
	accept := req.Header.Get(echo.HeaderAccept)
	return accept == "" || strings.Contains(accept, echo.MIMETextHTML) || strings.HasSuffix(req.URL.Path, ".html")
}

// IsHTMX returns true if the request was initiated by HTMX.
func IsHTMX(c echo.Context) bool {
	return c.Request().Header.Get("HX-Request") == "true"
}

// isAPIRequest returns true if the request targets the JSON API.
func isAPIRequest(c echo.Context) bool {
	path := c.Request().URL.Path
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// isLocalPath accepts only same-origin absolute paths so the next
// parameter cannot become an open redirect.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}
