package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

// newTestExchange builds an Exchange around a recorder. A non-nil form is
// sent url-encoded in the body.
func newTestExchange(method, target string, form url.Values, cookies ...*http.Cookie) (*Exchange, *httptest.ResponseRecorder) {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	return NewExchange(echo.New().NewContext(req, rec)), rec
}

// --- Function-field fakes ---

type fakeCredentials struct {
	verifyFn func(ctx context.Context, username, secret string) (*Principal, error)
	loadFn   func(ctx context.Context, username string) (*Principal, error)
	calls    int
}

func (f *fakeCredentials) Verify(ctx context.Context, username, secret string) (*Principal, error) {
	f.calls++
	if f.verifyFn != nil {
		return f.verifyFn(ctx, username, secret)
	}
	return nil, NewAuthError(InvalidCredentials)
}

func (f *fakeCredentials) LoadPrincipal(ctx context.Context, username string) (*Principal, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx, username)
	}
	return &Principal{Username: username}, nil
}

type fakeSessions struct {
	loadFn      func(ex *Exchange) (*Principal, error)
	established []*Principal
}

func (f *fakeSessions) Load(ex *Exchange) (*Principal, error) {
	if f.loadFn != nil {
		return f.loadFn(ex)
	}
	return nil, nil
}

func (f *fakeSessions) Establish(_ *Exchange, p *Principal) error {
	f.established = append(f.established, p)
	return nil
}

type fakeRememberMe struct {
	autoLoginFn   func(ex *Exchange) (*Principal, error)
	autoLogins    int
	loginSuccess  []*Principal
	loginFailures int
}

func (f *fakeRememberMe) AutoLogin(ex *Exchange) (*Principal, error) {
	f.autoLogins++
	if f.autoLoginFn != nil {
		return f.autoLoginFn(ex)
	}
	return nil, nil
}

func (f *fakeRememberMe) LoginSuccess(_ *Exchange, p *Principal) error {
	f.loginSuccess = append(f.loginSuccess, p)
	return nil
}

func (f *fakeRememberMe) LoginFail(*Exchange) {
	f.loginFailures++
}

// recordingHandlers captures which callback ran.
type recordingHandlers struct {
	successes []*Principal
	failures  []*AuthError
}

func (r *recordingHandlers) OnAuthenticationSuccess(ex *Exchange, p *Principal) error {
	r.successes = append(r.successes, p)
	return ex.NoContent(http.StatusOK)
}

func (r *recordingHandlers) OnAuthenticationFailure(ex *Exchange, failure *AuthError) error {
	r.failures = append(r.failures, failure)
	return ex.NoContent(http.StatusUnauthorized)
}
