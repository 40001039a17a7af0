package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/metrics"
	"github.com/keyxmakerx/sentinel/internal/middleware"
	"github.com/keyxmakerx/sentinel/internal/plugins/auth"
	"github.com/keyxmakerx/sentinel/internal/plugins/captcha"
	"github.com/keyxmakerx/sentinel/internal/plugins/securitylog"
	"github.com/keyxmakerx/sentinel/internal/plugins/smtp"
	"github.com/keyxmakerx/sentinel/internal/plugins/social"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// RegisterRoutes sets up all application routes. Every route sits behind
// the security chain; /healthz and /metrics are exempt by default.
func (a *App) RegisterRoutes() {
	e := a.Echo

	e.GET("/", a.home)
	e.GET("/healthz", a.healthz)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	auth.RegisterRoutes(e, a.plugins.auth)
	captcha.RegisterRoutes(e, a.plugins.captcha)
	social.RegisterRoutes(e, a.plugins.social)
	securitylog.RegisterRoutes(e, a.plugins.securitylog)
	smtp.RegisterRoutes(e, a.plugins.smtp)
}

// home is the default post-login landing page.
func (a *App) home(c echo.Context) error {
	p := security.GetPrincipal(c)
	if p == nil {
		return apperror.NewMissingContext()
	}
	return middleware.Render(c, http.StatusOK, homePage(p, a.Config.Security.Browser.LogoutURL, middleware.GetCSRFToken(c)))
}

// healthz reports whether the database and Redis are reachable.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "database": "ok", "redis": "ok"}
	code := http.StatusOK
	if err := a.DB.PingContext(ctx); err != nil {
		status["database"] = "unreachable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		status["redis"] = "unreachable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
