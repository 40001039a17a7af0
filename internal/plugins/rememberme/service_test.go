package rememberme

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/events"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// --- Mock credential store ---

type mockUsers struct {
	loadFn func(ctx context.Context, username string) (*security.Principal, error)
}

func (m *mockUsers) Verify(context.Context, string, string) (*security.Principal, error) {
	return nil, security.NewAuthError(security.InvalidCredentials)
}

func (m *mockUsers) LoadPrincipal(ctx context.Context, username string) (*security.Principal, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx, username)
	}
	return &security.Principal{ID: "id-" + username, Username: username}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SecurityEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func testConfig() Config {
	return Config{Validity: 3600 * time.Second, Parameter: "remember-me", CookieName: "remember-me"}
}

// newTestCoordinator returns a coordinator with a controllable clock.
func newTestCoordinator(repo TokenRepository, users security.CredentialStore) (*Coordinator, *time.Time) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCoordinator(repo, users, testConfig(), nil)
	c.nowFunc = func() time.Time { return now }
	return c, &now
}

func assertKind(t *testing.T, err error, kind security.FailureKind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, security.KindOf(err), "error: %v", err)
}

// Scenario A: a token issued for alice validates immediately, yields alice
// and rotates the token value.
func TestValidate_FreshTokenRotates(t *testing.T) {
	repo := NewMemoryRepository()
	c, _ := newTestCoordinator(repo, &mockUsers{})
	ctx := context.Background()

	artifact, err := c.Issue(ctx, "alice")
	require.NoError(t, err)
	series, original, err := DecodeArtifact(artifact)
	require.NoError(t, err)

	p, renewed, err := c.Validate(ctx, artifact)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	renewedSeries, renewedValue, err := DecodeArtifact(renewed)
	require.NoError(t, err)
	assert.Equal(t, series, renewedSeries, "series is stable across rotation")
	assert.NotEqual(t, original, renewedValue, "token value must rotate")

	stored, err := repo.GetTokenForSeries(ctx, series)
	require.NoError(t, err)
	assert.Equal(t, renewedValue, stored.TokenValue)
}

// Scenario C: replaying the pre-rotation value is theft; the series and
// every other series of the user are gone afterwards.
func TestValidate_ReuseRevokesUserSeries(t *testing.T) {
	repo := NewMemoryRepository()
	pub := &recordingPublisher{}
	c, _ := newTestCoordinator(repo, &mockUsers{})
	c.publisher = pub
	ctx := context.Background()

	stolen, err := c.Issue(ctx, "alice")
	require.NoError(t, err)
	_, err = c.Issue(ctx, "alice") // second device
	require.NoError(t, err)
	_, err = c.Issue(ctx, "bob")
	require.NoError(t, err)

	_, renewed, err := c.Validate(ctx, stolen)
	require.NoError(t, err)

	_, _, err = c.Validate(ctx, stolen)
	assertKind(t, err, security.TokenReuseDetected)

	series, _, _ := DecodeArtifact(stolen)
	tok, err := repo.GetTokenForSeries(ctx, series)
	require.NoError(t, err)
	assert.Nil(t, tok, "series must be invalidated")
	assert.Equal(t, 1, repo.Len(), "only bob's series survives")

	// The legitimate holder's fresh value is now unknown too.
	_, _, err = c.Validate(ctx, renewed)
	assertKind(t, err, security.UnknownSeries)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.RememberMeTheft, pub.events[0].Type)
	assert.Equal(t, "alice", pub.events[0].Username)
}

func TestValidate_UnknownSeries(t *testing.T) {
	c, _ := newTestCoordinator(NewMemoryRepository(), &mockUsers{})
	_, _, err := c.Validate(context.Background(), EncodeArtifact(uuid.NewString(), "value"))
	assertKind(t, err, security.UnknownSeries)
}

func TestValidate_MalformedArtifact(t *testing.T) {
	c, _ := newTestCoordinator(NewMemoryRepository(), &mockUsers{})
	_, _, err := c.Validate(context.Background(), "%%%")
	assertKind(t, err, security.InvalidArtifact)

	// Oversized or non-UUID series never reach the repository or its locks.
	_, _, err = c.Validate(context.Background(), EncodeArtifact(strings.Repeat("s", 1024), "value"))
	assertKind(t, err, security.InvalidArtifact)
	_, _, err = c.Validate(context.Background(), EncodeArtifact("../../lock", "value"))
	assertKind(t, err, security.InvalidArtifact)
}

func TestValidate_Expiry(t *testing.T) {
	repo := NewMemoryRepository()
	c, now := newTestCoordinator(repo, &mockUsers{})
	ctx := context.Background()

	artifact, err := c.Issue(ctx, "alice")
	require.NoError(t, err)

	// Exactly at the boundary the token is still valid.
	*now = now.Add(3600 * time.Second)
	_, artifact, err = c.Validate(ctx, artifact)
	require.NoError(t, err)

	// Rotation refreshed last_used; one second past the new window expires.
	*now = now.Add(3601 * time.Second)
	_, _, err = c.Validate(ctx, artifact)
	assertKind(t, err, security.Expired)
	assert.Zero(t, repo.Len(), "expired series is removed")
}

func TestValidate_DeletedUser(t *testing.T) {
	repo := NewMemoryRepository()
	users := &mockUsers{loadFn: func(context.Context, string) (*security.Principal, error) {
		return nil, apperror.NewNotFound("user not found")
	}}
	c, _ := newTestCoordinator(repo, users)
	ctx := context.Background()

	artifact, err := c.Issue(ctx, "ghost")
	require.NoError(t, err)

	_, _, err = c.Validate(ctx, artifact)
	assertKind(t, err, security.Unauthenticated)
	assert.Zero(t, repo.Len())
}

// Concurrent presentations of one artifact: exactly one wins the rotation.
func TestValidate_ConcurrentRotationHasOneWinner(t *testing.T) {
	for name, repo := range map[string]TokenRepository{
		"memory": NewMemoryRepository(),
		"sql":    newSQLiteRepository(t),
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestCoordinator(repo, &mockUsers{})
			artifact, err := c.Issue(context.Background(), "alice")
			require.NoError(t, err)

			const workers = 16
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _, err := c.Validate(context.Background(), artifact)
					if err == nil {
						mu.Lock()
						successes++
						mu.Unlock()
						return
					}
					kind := security.KindOf(err)
					assert.Contains(t, []security.FailureKind{
						security.TokenReuseDetected, security.UnknownSeries,
					}, kind)
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, successes)
		})
	}
}

func TestValidate_RedisLockedRotation(t *testing.T) {
	repo, _ := newRedisRepository(t)
	c, _ := newTestCoordinator(repo, &mockUsers{})
	ctx := context.Background()

	artifact, err := c.Issue(ctx, "alice")
	require.NoError(t, err)
	p, renewed, err := c.Validate(ctx, artifact)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	_, _, err = c.Validate(ctx, artifact)
	assertKind(t, err, security.TokenReuseDetected)
	_, _, err = c.Validate(ctx, renewed)
	assertKind(t, err, security.UnknownSeries)
}

// --- HTTP integration ---

func newExchange(method string, form url.Values, cookies ...*http.Cookie) (*security.Exchange, *httptest.ResponseRecorder) {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, "/authentication/form", strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	} else {
		req = httptest.NewRequest(method, "/dashboard", nil)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	return security.NewExchange(echo.New().NewContext(req, rec)), rec
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

func TestLoginSuccess_IssuesOnlyWhenRequested(t *testing.T) {
	repo := NewMemoryRepository()
	c, _ := newTestCoordinator(repo, &mockUsers{})
	alice := &security.Principal{Username: "alice"}

	ex, rec := newExchange(http.MethodPost, url.Values{"username": {"alice"}})
	require.NoError(t, c.LoginSuccess(ex, alice))
	assert.Nil(t, findCookie(rec, "remember-me"))
	assert.Zero(t, repo.Len())

	ex, rec = newExchange(http.MethodPost, url.Values{"remember-me": {"on"}})
	require.NoError(t, c.LoginSuccess(ex, alice))
	ck := findCookie(rec, "remember-me")
	require.NotNil(t, ck)
	assert.Equal(t, 3600, ck.MaxAge)
	assert.True(t, ck.HttpOnly)
	assert.Equal(t, 1, repo.Len())
}

func TestAutoLogin_RotatesCookie(t *testing.T) {
	c, _ := newTestCoordinator(NewMemoryRepository(), &mockUsers{})
	artifact, err := c.Issue(context.Background(), "alice")
	require.NoError(t, err)

	ex, rec := newExchange(http.MethodGet, nil, &http.Cookie{Name: "remember-me", Value: artifact})
	p, err := c.AutoLogin(ex)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	ck := findCookie(rec, "remember-me")
	require.NotNil(t, ck)
	assert.NotEqual(t, artifact, ck.Value)
}

func TestAutoLogin_NoCookie(t *testing.T) {
	c, _ := newTestCoordinator(NewMemoryRepository(), &mockUsers{})
	ex, _ := newExchange(http.MethodGet, nil)
	p, err := c.AutoLogin(ex)
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestAutoLogin_RejectionClearsCookie(t *testing.T) {
	c, _ := newTestCoordinator(NewMemoryRepository(), &mockUsers{})
	ex, rec := newExchange(http.MethodGet, nil,
		&http.Cookie{Name: "remember-me", Value: EncodeArtifact(uuid.NewString(), "x")})

	_, err := c.AutoLogin(ex)
	assertKind(t, err, security.UnknownSeries)

	ck := findCookie(rec, "remember-me")
	require.NotNil(t, ck)
	assert.Equal(t, -1, ck.MaxAge)
}

func TestLogoutRequest_RevokesTokens(t *testing.T) {
	repo := NewMemoryRepository()
	c, _ := newTestCoordinator(repo, &mockUsers{})
	_, err := c.Issue(context.Background(), "alice")
	require.NoError(t, err)

	ex, rec := newExchange(http.MethodPost, url.Values{})
	require.NoError(t, c.LogoutRequest(ex.Context, "alice"))
	assert.Zero(t, repo.Len())
	assert.NotNil(t, findCookie(rec, "remember-me"))
}
