package app

import (
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/sentinel/internal/config"
	"github.com/keyxmakerx/sentinel/internal/events"
	"github.com/keyxmakerx/sentinel/internal/plugins/auth"
	"github.com/keyxmakerx/sentinel/internal/plugins/captcha"
	"github.com/keyxmakerx/sentinel/internal/plugins/rememberme"
	"github.com/keyxmakerx/sentinel/internal/plugins/securitylog"
	"github.com/keyxmakerx/sentinel/internal/plugins/smtp"
	"github.com/keyxmakerx/sentinel/internal/plugins/social"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// plugins holds the HTTP handlers of every mounted plugin.
type plugins struct {
	auth        *auth.Handler
	captcha     *captcha.Handler
	social      *social.Handler
	securitylog *securitylog.Handler
	smtp        *smtp.Handler
}

// wire builds every plugin and assembles the security chain. Filter order:
// exemptions, existing session, image challenge, social delegate, form
// login, remember-me, authorization.
func (a *App) wire() error {
	props := a.Config.Security
	publisher := events.NewWatermillPublisher(a.Bus.Publisher)

	// --- Credentials and sessions ---
	users := auth.NewUserRepository(a.DB)
	authService := auth.NewAuthService(users, a.Redis, a.Config.Auth.SessionTTL, a.Config.Auth.BcryptCost)
	sessions := auth.NewSessionStrategy(authService, a.Config.Auth.SessionTTL)

	// --- Remember-me ---
	tokens := a.tokenRepository()
	rememberMe := rememberme.NewCoordinator(tokens, authService, rememberme.Config{
		Validity:   props.Browser.RememberMeValidity(),
		Parameter:  props.Browser.RememberMeParameter,
		CookieName: props.Browser.RememberMeCookie,
	}, publisher)

	// --- Image challenge ---
	challenges := captcha.NewService(a.challengeStore(), props.Code.Image)
	challengeFilter, err := captcha.Filter(challenges, props.Code.Image)
	if err != nil {
		return fmt.Errorf("building challenge filter: %w", err)
	}

	// --- Social login ---
	providers := social.ProvidersFromConfig(props.Social)
	connections := social.NewConnectionRepository(a.DB)

	exempt, err := security.NewPathMatcher(props.ExemptPatterns()...)
	if err != nil {
		return fmt.Errorf("building exempt paths: %w", err)
	}

	a.Chain = security.NewChain(
		security.NewBrowserSuccessHandler(props.Browser),
		security.NewBrowserFailureHandler(props.Browser),
		[]security.Filter{
			security.ExemptPaths(exempt),
			security.SessionLookup(sessions),
			challengeFilter,
			social.Filter(props.Social.ProcessingURL, providers, connections, authService),
			security.FormLogin(security.FormLoginConfig{ProcessingURL: props.Browser.LoginProcessingURL}, authService),
			security.RememberMe(rememberMe, sessions),
			security.Authorization(),
		},
		security.WithSessions(sessions),
		security.WithRememberMe(rememberMe),
		security.WithEvents(publisher),
	)

	// --- Security event log and theft alerts ---
	mail := smtp.NewMailService(a.Config.SMTP)
	theftAlerts := smtp.NewTheftNotifier(users, mail)
	eventLog := securitylog.NewService(securitylog.NewRepository(a.DB))
	consumer, err := securitylog.NewConsumer(a.Bus.Subscriber, eventLog, a.Bus.Logger, theftAlerts.Notify)
	if err != nil {
		return fmt.Errorf("building security event consumer: %w", err)
	}
	a.consumer = consumer

	a.plugins = &plugins{
		auth:        auth.NewHandler(authService, props, rememberMe, publisher),
		captcha:     captcha.NewHandler(challenges, props.Code.Image),
		social:      social.NewHandler(providers, connections),
		securitylog: securitylog.NewHandler(eventLog),
		smtp:        smtp.NewHandler(mail),
	}
	return nil
}

// tokenRepository picks the remember-me store. The SQL store serializes
// rotations across replicas with MariaDB advisory locks.
func (a *App) tokenRepository() rememberme.TokenRepository {
	switch a.Config.Stores.Token {
	case config.StoreRedis:
		return rememberme.NewRedisRepository(a.Redis, a.Config.Security.Browser.RememberMeValidity())
	case config.StoreMemory:
		return rememberme.NewMemoryRepository()
	default:
		if _, ok := a.DB.Driver().(*mysql.MySQLDriver); ok {
			return rememberme.NewSQLRepository(a.DB, rememberme.WithAdvisoryLocks())
		}
		return rememberme.NewSQLRepository(a.DB)
	}
}

// challengeStore picks the image challenge store.
func (a *App) challengeStore() captcha.ChallengeStore {
	if a.Config.Stores.Challenge == config.StoreMemory {
		return captcha.NewMemoryStore()
	}
	return captcha.NewRedisStore(a.Redis)
}
