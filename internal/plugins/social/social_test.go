package social

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/config"
	"github.com/keyxmakerx/sentinel/internal/security"
)

const testSecret = "acme-shared-secret"

var testProvider = config.SocialProviderProperties{
	ID:     "acme",
	Issuer: "https://id.acme.test",
	Secret: testSecret,
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() *providerClaims {
	return &providerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testProvider.Issuer,
			Subject:   "acme-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
		IdentityClaims: IdentityClaims{Name: "Alice A."},
	}
}

func callbackRequest(token string) *http.Request {
	form := url.Values{AssertionParameter: {token}}
	req := httptest.NewRequest(http.MethodPost, "/auth/acme", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return req
}

// --- Provider ---

func TestJWTAssertionProvider_Accepts(t *testing.T) {
	p := NewJWTAssertionProvider(testProvider)
	id, err := p.Authenticate(callbackRequest(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())))
	require.NoError(t, err)
	assert.Equal(t, &Identity{ProviderID: "acme", ProviderUserID: "acme-42", DisplayName: "Alice A."}, id)
}

func TestJWTAssertionProvider_BearerHeader(t *testing.T) {
	p := NewJWTAssertionProvider(testProvider)
	req := httptest.NewRequest(http.MethodGet, "/auth/acme", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	_, err := p.Authenticate(req)
	assert.NoError(t, err)
}

func TestJWTAssertionProvider_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"missing", func(t *testing.T) string { return "" }},
		{"garbage", func(t *testing.T) string { return "not.a.jwt" }},
		{"wrong secret", func(t *testing.T) string {
			return signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims())
		}},
		{"wrong algorithm", func(t *testing.T) string {
			return signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims())
		}},
		{"unsigned", func(t *testing.T) string {
			return signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims())
		}},
		{"expired", func(t *testing.T) string {
			c := validClaims()
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
			return signToken(t, jwt.SigningMethodHS256, []byte(testSecret), c)
		}},
		{"no expiry", func(t *testing.T) string {
			c := validClaims()
			c.ExpiresAt = nil
			return signToken(t, jwt.SigningMethodHS256, []byte(testSecret), c)
		}},
		{"wrong issuer", func(t *testing.T) string {
			c := validClaims()
			c.Issuer = "https://evil.test"
			return signToken(t, jwt.SigningMethodHS256, []byte(testSecret), c)
		}},
		{"no subject", func(t *testing.T) string {
			c := validClaims()
			c.Subject = ""
			return signToken(t, jwt.SigningMethodHS256, []byte(testSecret), c)
		}},
	}

	p := NewJWTAssertionProvider(testProvider)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Authenticate(callbackRequest(tt.token(t)))
			assert.Error(t, err)
		})
	}
}

// --- Filter ---

type stubUsers struct {
	missing map[string]bool
}

func (s stubUsers) Verify(context.Context, string, string) (*security.Principal, error) {
	return nil, security.NewAuthError(security.InvalidCredentials)
}

func (s stubUsers) LoadPrincipal(_ context.Context, username string) (*security.Principal, error) {
	if s.missing[username] {
		return nil, apperror.NewNotFound("user not found")
	}
	return &security.Principal{Username: username}, nil
}

func runFilter(t *testing.T, f security.Filter, req *http.Request) (security.Outcome, bool, *security.Exchange) {
	t.Helper()
	ex := security.NewExchange(echo.New().NewContext(req, httptest.NewRecorder()))
	passed := false
	out := f.Handle(ex, func(*security.Exchange) security.Outcome {
		passed = true
		return security.Pass(nil)
	})
	return out, passed, ex
}

func newFilter(t *testing.T, users security.CredentialStore) (security.Filter, *MemoryConnectionRepository) {
	t.Helper()
	conns := NewMemoryConnectionRepository()
	providers := ProvidersFromConfig(config.SocialProperties{Providers: []config.SocialProviderProperties{testProvider}})
	return Filter("/auth", providers, conns, users), conns
}

func TestFilter_ConnectedIdentityLogsIn(t *testing.T) {
	f, conns := newFilter(t, stubUsers{})
	require.NoError(t, conns.Create(context.Background(), Connection{Username: "alice", ProviderID: "acme", ProviderUserID: "acme-42"}))

	out, passed, ex := runFilter(t, f, callbackRequest(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())))
	assert.False(t, passed)
	assert.True(t, ex.LoginAttempted)
	require.Equal(t, security.Succeeded, out.Decision)
	assert.Equal(t, "alice", out.Principal.Username)
}

func TestFilter_UnboundIdentityFails(t *testing.T) {
	f, _ := newFilter(t, stubUsers{})
	out, _, _ := runFilter(t, f, callbackRequest(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())))
	require.Equal(t, security.Failed, out.Decision)
	assert.Equal(t, security.InvalidCredentials, out.Failure.Kind)
}

func TestFilter_BadAssertionFails(t *testing.T) {
	f, _ := newFilter(t, stubUsers{})
	out, _, _ := runFilter(t, f, callbackRequest("not.a.jwt"))
	require.Equal(t, security.Failed, out.Decision)
	assert.Equal(t, security.InvalidCredentials, out.Failure.Kind)
}

func TestFilter_DeletedAccountFails(t *testing.T) {
	f, conns := newFilter(t, stubUsers{missing: map[string]bool{"alice": true}})
	require.NoError(t, conns.Create(context.Background(), Connection{Username: "alice", ProviderID: "acme", ProviderUserID: "acme-42"}))

	out, _, _ := runFilter(t, f, callbackRequest(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())))
	require.Equal(t, security.Failed, out.Decision)
	assert.Equal(t, security.InvalidCredentials, out.Failure.Kind)
}

func TestFilter_NotClaimed(t *testing.T) {
	f, _ := newFilter(t, stubUsers{})
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/dashboard", nil),
		httptest.NewRequest(http.MethodGet, "/auth/unknown", nil),
		httptest.NewRequest(http.MethodGet, "/auth/acme/extra", nil),
		httptest.NewRequest(http.MethodDelete, "/auth/acme", nil),
		httptest.NewRequest(http.MethodGet, "/auth", nil),
	} {
		out, passed, ex := runFilter(t, f, req)
		assert.True(t, passed, "%s %s", req.Method, req.URL.Path)
		assert.Equal(t, security.Proceed, out.Decision)
		assert.False(t, ex.LoginAttempted)
	}
}

type failingConns struct{ MemoryConnectionRepository }

func (*failingConns) FindUsername(context.Context, string, string) (string, error) {
	return "", errors.New("db down")
}

func TestFilter_RepositoryErrorAborts(t *testing.T) {
	providers := ProvidersFromConfig(config.SocialProperties{Providers: []config.SocialProviderProperties{testProvider}})
	f := Filter("/auth", providers, &failingConns{}, stubUsers{})
	out, _, _ := runFilter(t, f, callbackRequest(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())))
	assert.Equal(t, security.Errored, out.Decision)
}

// --- SQL repository ---

const sqliteSchema = `
CREATE TABLE users (
	id       CHAR(36)    NOT NULL PRIMARY KEY,
	username VARCHAR(64) NOT NULL UNIQUE
);
CREATE TABLE userconnection (
	user_id          CHAR(36)     NOT NULL,
	provider_id      VARCHAR(64)  NOT NULL,
	provider_user_id VARCHAR(255) NOT NULL,
	display_name     VARCHAR(255) NULL,
	created_at       DATETIME     NOT NULL,
	PRIMARY KEY (provider_id, provider_user_id)
);
INSERT INTO users (id, username) VALUES ('u-1', 'alice'), ('u-2', 'bob');
`

func newSQLiteConnections(t *testing.T) ConnectionRepository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)
	return NewConnectionRepository(db)
}

func TestConnectionRepository_Contract(t *testing.T) {
	for name, repo := range map[string]ConnectionRepository{
		"memory": NewMemoryConnectionRepository(),
		"sql":    newSQLiteConnections(t),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			username, err := repo.FindUsername(ctx, "acme", "acme-42")
			require.NoError(t, err)
			assert.Empty(t, username)

			require.NoError(t, repo.Create(ctx, Connection{
				Username: "alice", ProviderID: "acme", ProviderUserID: "acme-42", DisplayName: "Alice", CreatedAt: now,
			}))

			username, err = repo.FindUsername(ctx, "acme", "acme-42")
			require.NoError(t, err)
			assert.Equal(t, "alice", username)

			err = repo.Create(ctx, Connection{Username: "bob", ProviderID: "acme", ProviderUserID: "acme-42", CreatedAt: now})
			assert.Equal(t, 409, apperror.SafeCode(err), "identity already bound")

			conns, err := repo.ListByUsername(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, conns, 1)
			assert.Equal(t, "Alice", conns[0].DisplayName)

			assert.True(t, apperror.IsNotFound(repo.Delete(ctx, "bob", "acme", "acme-42")), "only the owner may delete")
			require.NoError(t, repo.Delete(ctx, "alice", "acme", "acme-42"))

			username, err = repo.FindUsername(ctx, "acme", "acme-42")
			require.NoError(t, err)
			assert.Empty(t, username)
		})
	}
}

func TestConnectionRepository_UnknownUser(t *testing.T) {
	repo := newSQLiteConnections(t)
	err := repo.Create(context.Background(), Connection{Username: "ghost", ProviderID: "acme", ProviderUserID: "x", CreatedAt: time.Now()})
	assert.True(t, apperror.IsNotFound(err))
}

// --- Handler ---

func TestHandler_ConnectAndList(t *testing.T) {
	conns := NewMemoryConnectionRepository()
	providers := ProvidersFromConfig(config.SocialProperties{Providers: []config.SocialProviderProperties{testProvider}})
	h := NewHandler(providers, conns)
	e := echo.New()

	req := callbackRequest(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("provider")
	c.SetParamValues("acme")
	security.SetPrincipal(c, &security.Principal{Username: "alice"})

	require.NoError(t, h.Connect(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/social/connections", nil), rec)
	security.SetPrincipal(c, &security.Principal{Username: "alice"})
	require.NoError(t, h.List(c))
	assert.Contains(t, rec.Body.String(), `"provider_user_id":"acme-42"`)
}

func TestHandler_ConnectUnknownProvider(t *testing.T) {
	h := NewHandler(map[string]Provider{}, NewMemoryConnectionRepository())
	c := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("provider")
	c.SetParamValues("nope")
	security.SetPrincipal(c, &security.Principal{Username: "alice"})
	assert.True(t, apperror.IsNotFound(h.Connect(c)))
}
