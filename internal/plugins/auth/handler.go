package auth

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/config"
	"github.com/keyxmakerx/sentinel/internal/events"
	"github.com/keyxmakerx/sentinel/internal/middleware"
	"github.com/keyxmakerx/sentinel/internal/sanitize"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// RememberMeLogout revokes remember-me tokens when a user signs out.
type RememberMeLogout interface {
	LogoutRequest(c echo.Context, username string) error
}

// Handler handles the HTTP surface around the security chain: the login
// page, the login-require decision, logout, registration and /api/me.
// The credential POST itself is consumed by the chain and never reaches
// this handler.
type Handler struct {
	service    AuthService
	props      config.SecurityProperties
	rememberMe RememberMeLogout
	publisher  events.Publisher
}

// NewHandler creates a new auth handler. rememberMe and publisher may be nil.
func NewHandler(service AuthService, props config.SecurityProperties, rememberMe RememberMeLogout, publisher events.Publisher) *Handler {
	return &Handler{
		service:    service,
		props:      props,
		rememberMe: rememberMe,
		publisher:  publisher,
	}
}

// LoginForm renders the login page (GET <loginPage>).
func (h *Handler) LoginForm(c echo.Context) error {
	next := c.QueryParam(security.NextParameter)

	// If the user already has a valid session, skip the form.
	if token := getSessionToken(c); token != "" {
		if _, err := h.service.ValidateSession(c.Request().Context(), token); err == nil {
			return c.Redirect(http.StatusSeeOther, h.afterLogin(next))
		}
	}

	data := LoginPageData{
		CSRFToken:           middleware.GetCSRFToken(c),
		ProcessingURL:       h.props.Browser.LoginProcessingURL,
		ChallengeImageURL:   h.props.Code.Image.IssueURL,
		ChallengeParameter:  h.props.Code.Image.Parameter,
		RememberMeParameter: h.props.Browser.RememberMeParameter,
		Next:                next,
	}
	if kind := c.QueryParam("error"); kind != "" {
		data.Error = security.FailureKind(kind).Message()
	}
	if c.QueryParam("logout") != "" {
		data.Notice = "You have been signed out."
	}

	return middleware.Render(c, http.StatusOK, LoginPage(data))
}

// RequireAuthentication decides where an unauthenticated request goes
// (GET <loginRequireUrl>). Page navigations are redirected to the login
// page; anything else gets a 401 telling the client to show it.
func (h *Handler) RequireAuthentication(c echo.Context) error {
	next := c.QueryParam(security.NextParameter)

	if security.WantsHTML(c) && (next == "" || wantsPage(next)) {
		target := h.props.Browser.LoginPage
		if isLocalPath(next) {
			target += "?" + url.Values{security.NextParameter: {next}}.Encode()
		}
		return c.Redirect(http.StatusSeeOther, target)
	}

	return c.JSON(http.StatusUnauthorized, map[string]string{
		"error":     http.StatusText(http.StatusUnauthorized),
		"kind":      string(security.Unauthenticated),
		"message":   "The requested resource requires authentication. Direct the user to the login page.",
		"loginPage": h.props.Browser.LoginPage,
	})
}

// Logout destroys the session, revokes remember-me tokens and clears the
// cookies (POST <logoutUrl>).
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()

	var username string
	if p := security.GetPrincipal(c); p != nil {
		username = p.Username
	}

	if token := getSessionToken(c); token != "" {
		// Ignore errors -- the cookie will be cleared regardless.
		_ = h.service.DestroySession(ctx, token)
	}
	clearSessionCookie(c)

	if h.rememberMe != nil {
		if err := h.rememberMe.LogoutRequest(c, username); err != nil {
			return apperror.NewInternal(err)
		}
	}

	if username != "" {
		events.Emit(ctx, h.publisher, events.SecurityEvent{
			Type:      events.Logout,
			Username:  username,
			IPAddress: c.RealIP(),
			UserAgent: c.Request().UserAgent(),
		})
	}

	target := h.props.Browser.LoginPage + "?logout=1"
	switch {
	case security.IsHTMX(c):
		c.Response().Header().Set("HX-Redirect", target)
		return c.NoContent(http.StatusNoContent)
	case h.props.Browser.LoginType == config.LoginResponseJSON:
		return c.JSON(http.StatusOK, map[string]bool{"logged_out": true})
	default:
		return c.Redirect(http.StatusSeeOther, target)
	}
}

// Register creates an account (POST /register). The body may be JSON or a
// form; the response is the created user as JSON.
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if msg := validateRegisterRequest(&req); msg != "" {
		return apperror.NewValidation(msg)
	}

	user, err := h.service.Register(c.Request().Context(), RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, user)
}

// Me returns the authenticated principal (GET /api/me).
func (h *Handler) Me(c echo.Context) error {
	p := security.GetPrincipal(c)
	if p == nil {
		return security.NewAuthError(security.Unauthenticated).AppError()
	}
	return c.JSON(http.StatusOK, p)
}

// afterLogin returns where a signed-in user should land.
func (h *Handler) afterLogin(next string) string {
	if isLocalPath(next) {
		return next
	}
	return h.props.Browser.SuccessURL
}

// wantsPage reports whether the saved request was for an HTML page rather
// than an API resource.
func wantsPage(next string) bool {
	path, _, _ := strings.Cut(next, "?")
	return !strings.HasPrefix(path, "/api/") && path != "/api"
}

// isLocalPath accepts only same-origin absolute paths.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}

// --- Validation helpers ---

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,64}$`)

// validateRegisterRequest performs basic server-side validation on the
// registration request. Returns an error message or empty string.
func validateRegisterRequest(req *RegisterRequest) string {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = sanitize.Text(req.DisplayName)

	if !usernamePattern.MatchString(req.Username) {
		return "username must be 3-64 letters, digits, dots, dashes or underscores"
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return "a valid email is required"
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	if len(req.DisplayName) > 100 {
		return "display name must be at most 100 characters"
	}
	if len(req.Password) < 8 {
		return "password must be at least 8 characters"
	}
	if len(req.Password) > 72 {
		// bcrypt ignores everything past 72 bytes.
		return "password must be at most 72 characters"
	}
	if req.Confirm != "" && req.Confirm != req.Password {
		return "passwords do not match"
	}
	return ""
}
