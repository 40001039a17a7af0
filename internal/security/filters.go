package security

import (
	"net/http"
	"strings"
)

// ExemptPaths lets requests matching m through without authentication.
// The remaining filters do not run for them.
func ExemptPaths(m *PathMatcher) Filter {
	return FilterFunc(func(ex *Exchange, next Next) Outcome {
		if m.Match(ex.RequestPath()) {
			ex.Exempt = true
			return Pass(nil)
		}
		return next(ex)
	})
}

// SessionLookup attaches the principal of an existing session. It never
// terminates the chain on a missing or stale session.
func SessionLookup(s SessionStrategy) Filter {
	return FilterFunc(func(ex *Exchange, next Next) Outcome {
		p, err := s.Load(ex)
		if err != nil {
			return Abort(err)
		}
		if p != nil {
			ex.Principal = p
		}
		return next(ex)
	})
}

// FormLoginConfig names the login-processing endpoint and its form fields.
type FormLoginConfig struct {
	ProcessingURL     string
	UsernameParameter string
	PasswordParameter string
}

// FormLogin authenticates POSTs to the processing URL against store.
// Success and failure both terminate the chain.
func FormLogin(cfg FormLoginConfig, store CredentialStore) Filter {
	if cfg.UsernameParameter == "" {
		cfg.UsernameParameter = "username"
	}
	if cfg.PasswordParameter == "" {
		cfg.PasswordParameter = "password"
	}

	return FilterFunc(func(ex *Exchange, next Next) Outcome {
		if ex.Request().Method != http.MethodPost || ex.RequestPath() != cfg.ProcessingURL {
			return next(ex)
		}
		ex.LoginAttempted = true

		username := strings.TrimSpace(ex.FormValue(cfg.UsernameParameter))
		password := ex.FormValue(cfg.PasswordParameter)
		if username == "" || password == "" {
			return Fail(NewAuthError(InvalidCredentials))
		}

		p, err := store.Verify(ex.Ctx(), username, password)
		if err != nil {
			if ae, ok := AsAuthError(err); ok {
				return Fail(ae)
			}
			return Abort(err)
		}
		return Success(p)
	})
}

// RememberMe falls back to the remember-me artifact when nothing earlier
// established a principal. A rejected artifact terminates the chain with
// its kind; an absent one lets the chain continue.
func RememberMe(r RememberMeServices, sessions SessionStrategy) Filter {
	return FilterFunc(func(ex *Exchange, next Next) Outcome {
		if ex.Principal != nil || ex.LoginAttempted {
			return next(ex)
		}

		p, err := r.AutoLogin(ex)
		if err != nil {
			if ae, ok := AsAuthError(err); ok {
				return Fail(ae)
			}
			return Abort(err)
		}
		if p == nil {
			return next(ex)
		}

		ex.Principal = p
		ex.RememberMe = true
		if sessions != nil {
			if err := sessions.Establish(ex, p); err != nil {
				return Abort(err)
			}
		}
		return next(ex)
	})
}

// Authorization rejects requests that reach it without a principal.
func Authorization() Filter {
	return FilterFunc(func(ex *Exchange, next Next) Outcome {
		if ex.Principal == nil {
			return Fail(NewAuthError(Unauthenticated))
		}
		return next(ex)
	})
}
