package captcha

import (
	"net/http"

	"github.com/keyxmakerx/sentinel/internal/config"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// KeyHeader carries the challenge key for clients that cannot use the key
// cookie (e.g. AJAX forms on another origin).
const KeyHeader = "X-Verify-Key"

// Filter returns the chain stage that demands a valid challenge answer on
// POSTs to the protected URLs. It runs before any credential check, so a
// failed challenge never reaches the credential store.
func Filter(svc *Service, props config.ImageCodeProperties) (security.Filter, error) {
	urls, err := security.NewPathMatcher(props.URLs...)
	if err != nil {
		return nil, err
	}

	return security.FilterFunc(func(ex *security.Exchange, next security.Next) security.Outcome {
		if ex.Request().Method != http.MethodPost || !urls.Match(ex.RequestPath()) {
			return next(ex)
		}
		ex.LoginAttempted = true

		err := svc.Validate(ex.Ctx(), challengeKey(ex, props.KeyCookie), ex.FormValue(props.Parameter))
		if err != nil {
			if ae, ok := security.AsAuthError(err); ok {
				return security.Fail(ae)
			}
			return security.Abort(err)
		}
		return next(ex)
	}), nil
}

// challengeKey reads the key cookie, falling back to the header.
func challengeKey(ex *security.Exchange, cookieName string) string {
	if ck, err := ex.Cookie(cookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	return ex.Request().Header.Get(KeyHeader)
}
