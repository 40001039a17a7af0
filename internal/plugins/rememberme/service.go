package rememberme

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/events"
	"github.com/keyxmakerx/sentinel/internal/metrics"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// Config controls token validity and the HTTP names involved.
type Config struct {
	// Validity is how long a token stays usable after its last use.
	Validity time.Duration

	// Parameter is the login form field that requests remember-me.
	Parameter string

	// CookieName is the cookie carrying the artifact.
	CookieName string
}

// Coordinator issues, validates and rotates remember-me tokens. It
// implements security.RememberMeServices.
type Coordinator struct {
	repo      TokenRepository
	users     security.CredentialStore
	publisher events.Publisher
	cfg       Config
	locks     *keyedMutex

	// nowFunc is swapped in tests to move the clock.
	nowFunc func() time.Time
}

// NewCoordinator creates a coordinator. publisher may be nil.
func NewCoordinator(repo TokenRepository, users security.CredentialStore, cfg Config, publisher events.Publisher) *Coordinator {
	return &Coordinator{
		repo:      repo,
		users:     users,
		publisher: publisher,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		nowFunc:   func() time.Time { return time.Now().UTC() },
	}
}

// Issue starts a new series for username and returns the artifact to hand
// to the browser.
func (c *Coordinator) Issue(ctx context.Context, username string) (string, error) {
	value, err := newTokenValue()
	if err != nil {
		return "", err
	}
	token := PersistentToken{
		Series:     newSeries(),
		Username:   username,
		TokenValue: value,
		LastUsed:   c.nowFunc(),
	}
	if err := c.repo.CreateNewToken(ctx, token); err != nil {
		return "", err
	}

	slog.Debug("remember-me series issued",
		slog.String("username", username),
		slog.String("series", token.Series),
	)
	return EncodeArtifact(token.Series, token.TokenValue), nil
}

// Validate checks an artifact and, on success, rotates the token value. It
// returns the principal and the replacement artifact. Rejections are
// *security.AuthError values; anything else is an infrastructure failure.
func (c *Coordinator) Validate(ctx context.Context, artifact string) (*security.Principal, string, error) {
	series, presented, err := DecodeArtifact(artifact)
	if err != nil {
		metrics.RememberMeValidations.WithLabelValues("invalid_artifact").Inc()
		return nil, "", security.Wrap(security.InvalidArtifact, err)
	}

	unlock, err := c.lockSeries(ctx, series)
	if err != nil {
		return nil, "", err
	}
	defer unlock()

	token, err := c.repo.GetTokenForSeries(ctx, series)
	if err != nil {
		return nil, "", err
	}
	if token == nil {
		metrics.RememberMeValidations.WithLabelValues("unknown_series").Inc()
		return nil, "", security.NewAuthError(security.UnknownSeries)
	}

	if subtle.ConstantTimeCompare([]byte(token.TokenValue), []byte(presented)) != 1 {
		return nil, "", c.handleTheft(ctx, token)
	}

	now := c.nowFunc()
	if token.LastUsed.Add(c.cfg.Validity).Before(now) {
		if err := c.repo.RemoveSeries(ctx, series); err != nil {
			return nil, "", err
		}
		metrics.RememberMeValidations.WithLabelValues("expired").Inc()
		return nil, "", security.NewAuthError(security.Expired)
	}

	principal, err := c.users.LoadPrincipal(ctx, token.Username)
	if err != nil {
		if apperror.IsNotFound(err) {
			if err := c.repo.RemoveSeries(ctx, series); err != nil {
				return nil, "", err
			}
			metrics.RememberMeValidations.WithLabelValues("unknown_user").Inc()
			return nil, "", security.Wrap(security.Unauthenticated,
				fmt.Errorf("remember-me user %q no longer exists", token.Username))
		}
		return nil, "", err
	}

	value, err := newTokenValue()
	if err != nil {
		return nil, "", err
	}
	if err := c.repo.UpdateToken(ctx, series, value, now); err != nil {
		return nil, "", err
	}

	metrics.RememberMeValidations.WithLabelValues("ok").Inc()
	return principal, EncodeArtifact(series, value), nil
}

// handleTheft revokes every series of the token's user after a stale value
// was presented and returns the TokenReuseDetected failure.
func (c *Coordinator) handleTheft(ctx context.Context, token *PersistentToken) error {
	slog.Warn("remember-me token reuse detected, revoking all series for user",
		slog.String("username", token.Username),
		slog.String("series", token.Series),
	)
	metrics.RememberMeTheft.Inc()
	metrics.RememberMeValidations.WithLabelValues("token_reuse").Inc()

	if err := c.repo.RemoveSeries(ctx, token.Series); err != nil {
		return err
	}
	if err := c.repo.RemoveUserTokens(ctx, token.Username); err != nil {
		return err
	}

	events.Emit(ctx, c.publisher, events.SecurityEvent{
		Type:     events.RememberMeTheft,
		Username: token.Username,
		Failure:  string(security.TokenReuseDetected),
		Details:  map[string]string{"series": token.Series},
	})
	return security.NewAuthError(security.TokenReuseDetected)
}

// Logout revokes every series of username.
func (c *Coordinator) Logout(ctx context.Context, username string) error {
	return c.repo.RemoveUserTokens(ctx, username)
}

// lockSeries takes the in-process lock and, if the repository is shared,
// its distributed lock.
func (c *Coordinator) lockSeries(ctx context.Context, series string) (func(), error) {
	unlockLocal := c.locks.Lock(series)

	locker, ok := c.repo.(SeriesLocker)
	if !ok {
		return unlockLocal, nil
	}
	unlockShared, err := locker.LockSeries(ctx, series)
	if err != nil {
		unlockLocal()
		return nil, err
	}
	return func() {
		unlockShared()
		unlockLocal()
	}, nil
}

// --- security.RememberMeServices ---

// AutoLogin implements security.RememberMeServices.
func (c *Coordinator) AutoLogin(ex *security.Exchange) (*security.Principal, error) {
	cookie, err := ex.Cookie(c.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	principal, artifact, err := c.Validate(ex.Ctx(), cookie.Value)
	if err != nil {
		if _, ok := security.AsAuthError(err); ok {
			c.clearCookie(ex.Context)
		}
		return nil, err
	}

	c.setCookie(ex.Context, artifact)
	events.Emit(ex.Ctx(), c.publisher, events.SecurityEvent{
		Type:      events.RememberMeLogin,
		Username:  principal.Username,
		IPAddress: ex.RealIP(),
		UserAgent: ex.Request().UserAgent(),
	})
	return principal, nil
}

// LoginSuccess implements security.RememberMeServices.
func (c *Coordinator) LoginSuccess(ex *security.Exchange, p *security.Principal) error {
	if !c.requested(ex) {
		return nil
	}
	artifact, err := c.Issue(ex.Ctx(), p.Username)
	if err != nil {
		return err
	}
	c.setCookie(ex.Context, artifact)
	return nil
}

// LoginFail implements security.RememberMeServices.
func (c *Coordinator) LoginFail(ex *security.Exchange) {
	c.clearCookie(ex.Context)
}

// LogoutRequest revokes the user's tokens and clears the cookie.
func (c *Coordinator) LogoutRequest(ec echo.Context, username string) error {
	c.clearCookie(ec)
	if username == "" {
		return nil
	}
	return c.Logout(ec.Request().Context(), username)
}

// requested reports whether the login form asked to be remembered.
func (c *Coordinator) requested(ex *security.Exchange) bool {
	switch strings.ToLower(strings.TrimSpace(ex.FormValue(c.cfg.Parameter))) {
	case "true", "on", "yes", "1":
		return true
	}
	return false
}

func (c *Coordinator) setCookie(ec echo.Context, artifact string) {
	req := ec.Request()
	ec.SetCookie(&http.Cookie{
		Name:     c.cfg.CookieName,
		Value:    artifact,
		Path:     "/",
		HttpOnly: true,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.cfg.Validity / time.Second),
	})
}

func (c *Coordinator) clearCookie(ec echo.Context) {
	ec.SetCookie(&http.Cookie{
		Name:     c.cfg.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
