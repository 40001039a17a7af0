package social

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// Filter returns the chain stage that claims provider callbacks at
// <processingURL>/<providerID>. Requests outside that prefix, or for a
// provider that is not configured, are not claimed and continue down the
// chain.
func Filter(processingURL string, providers map[string]Provider, conns ConnectionRepository, users security.CredentialStore) security.Filter {
	prefix := strings.TrimSuffix(processingURL, "/") + "/"

	return security.FilterFunc(func(ex *security.Exchange, next security.Next) security.Outcome {
		method := ex.Request().Method
		if method != http.MethodGet && method != http.MethodPost {
			return next(ex)
		}
		providerID, ok := strings.CutPrefix(ex.RequestPath(), prefix)
		if !ok || providerID == "" || strings.Contains(providerID, "/") {
			return next(ex)
		}
		provider, ok := providers[providerID]
		if !ok {
			return next(ex)
		}
		ex.LoginAttempted = true

		identity, err := provider.Authenticate(ex.Request())
		if err != nil {
			return security.Fail(security.Wrap(security.InvalidCredentials, err))
		}

		username, err := conns.FindUsername(ex.Ctx(), identity.ProviderID, identity.ProviderUserID)
		if err != nil {
			return security.Abort(err)
		}
		if username == "" {
			slog.Info("social identity not connected to an account",
				slog.String("provider", identity.ProviderID),
				slog.String("provider_user_id", identity.ProviderUserID),
			)
			return security.Fail(security.Wrap(security.InvalidCredentials,
				fmt.Errorf("%s identity %q is not connected", identity.ProviderID, identity.ProviderUserID)))
		}

		p, err := users.LoadPrincipal(ex.Ctx(), username)
		if err != nil {
			if apperror.IsNotFound(err) {
				return security.Fail(security.Wrap(security.InvalidCredentials, err))
			}
			return security.Abort(err)
		}
		return security.Success(p)
	})
}
