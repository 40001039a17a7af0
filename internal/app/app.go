// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (DB pool, Redis client, event bus,
// Echo instance), builds the security chain from configuration and wires
// every plugin's routes around it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/config"
	"github.com/keyxmakerx/sentinel/internal/events"
	"github.com/keyxmakerx/sentinel/internal/middleware"
	"github.com/keyxmakerx/sentinel/internal/plugins/auth"
	"github.com/keyxmakerx/sentinel/internal/plugins/securitylog"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the connection pool shared by the SQL repositories.
	DB *sql.DB

	// Redis backs sessions, challenges and optionally remember-me tokens.
	Redis *redis.Client

	// Bus carries security events from the chain to the event log.
	Bus *events.Bus

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Chain is the browser authentication chain every request runs through.
	Chain *security.Chain

	plugins  *plugins
	consumer *securitylog.Consumer
}

// New creates the App: it builds every plugin, assembles the security
// chain, installs global middleware and registers all routes.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, bus *events.Bus) (*App, error) {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	if invalid := middleware.TrustedProxies(e, cfg.TrustedProxies); len(invalid) > 0 {
		slog.Warn("ignoring invalid trusted proxy CIDRs", slog.Any("cidrs", invalid))
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Bus:    bus,
		Echo:   e,
	}

	if err := app.wire(); err != nil {
		return nil, err
	}

	app.setupMiddleware()
	e.HTTPErrorHandler = app.errorHandler
	e.Static("/static", "static")
	app.RegisterRoutes()

	return app, nil
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: the security chain is innermost so everything it rejects
// is still logged, hardened and rate limited.
func (a *App) setupMiddleware() {
	// Request logging is outermost so it also sees recovered panics.
	a.Echo.Use(middleware.RequestLogger())
	a.Echo.Use(middleware.Recovery())
	a.Echo.Use(middleware.SecurityHeaders())

	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{a.Config.BaseURL},
		AllowCredentials: true,
	}))

	if a.Config.CSRFEnabled {
		props := a.Config.Security
		a.Echo.Use(middleware.CSRF(middleware.CSRFConfig{
			Skipper: func(c echo.Context) bool {
				// Social assertions are posted by the identity provider's page.
				return middleware.SkipAPI(c) ||
					strings.HasPrefix(c.Request().URL.Path, props.Social.ProcessingURL+"/")
			},
		}))
	}

	a.Echo.Use(auth.LoginRateLimit(a.Config.Security.Browser.LoginProcessingURL, a.Config.Auth.LoginRateLimit))
	a.Echo.Use(a.Chain.Middleware())
}

// errorHandler maps AppErrors to HTTP responses: JSON for API and
// non-browser clients, an HTML error page for navigations.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := defaultErrorMessage(code)

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		message = appErr.Message
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
	case errors.As(err, &echoErr):
		code = echoErr.Code
		if msg, ok := echoErr.Message.(string); ok {
			message = msg
		} else {
			message = defaultErrorMessage(code)
		}
	default:
		slog.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
		)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}

	if !security.WantsHTML(c) && !security.IsHTMX(c) {
		_ = c.JSON(code, map[string]string{
			"error":   http.StatusText(code),
			"message": message,
		})
		return
	}

	loginPage := a.Config.Security.Browser.LoginPage
	if security.IsHTMX(c) {
		if code == http.StatusUnauthorized {
			c.Response().Header().Set("HX-Redirect", loginPage)
			_ = c.NoContent(http.StatusNoContent)
			return
		}
		// Retarget to body so the error page replaces the whole page.
		c.Response().Header().Set("HX-Retarget", "body")
		c.Response().Header().Set("HX-Reswap", "innerHTML")
	}

	if code == http.StatusUnauthorized {
		q := url.Values{security.NextParameter: {c.Request().URL.RequestURI()}}
		_ = c.Redirect(http.StatusSeeOther, loginPage+"?"+q.Encode())
		return
	}

	_ = middleware.Render(c, code, errorPage(code, message))
}

// defaultErrorMessage returns a user-friendly message for common HTTP status
// codes when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "You need to sign in to access this page."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusNotFound:
		return "The page you're looking for doesn't exist."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "Something went wrong on our end. Please try again."
	}
}

// Start runs the security event consumer and begins listening for HTTP
// requests. It blocks until the server stops.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.consumer.Run(ctx); err != nil {
			slog.Error("security event consumer stopped", slog.Any("error", err))
		}
	}()

	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting sentinel server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}

// Shutdown drains HTTP connections, then stops the event consumer and bus.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Echo.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("event consumer: %w", err))
	}
	if err := a.Bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("event bus: %w", err))
	}
	return errors.Join(errs...)
}
