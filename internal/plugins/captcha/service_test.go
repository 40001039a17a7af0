package captcha

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/sentinel/internal/config"
	"github.com/keyxmakerx/sentinel/internal/security"
)

func testProps() config.ImageCodeProperties {
	return config.DefaultSecurityProperties().Code.Image
}

// newTestService returns a service with a controllable clock.
func newTestService(store ChallengeStore) (*Service, *time.Time) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, testProps())
	svc.nowFunc = func() time.Time { return now }
	return svc, &now
}

func assertKind(t *testing.T, err error, kind security.FailureKind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, security.KindOf(err), "error: %v", err)
}

func TestGenerator_CodeAndImage(t *testing.T) {
	g := NewGenerator(6, 90, 23)
	code, err := g.Code()
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9', "digit expected, got %q", r)
	}

	var buf bytes.Buffer
	require.NoError(t, g.WritePNG(&buf, code))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 90, img.Bounds().Dx())
	assert.Equal(t, 23, img.Bounds().Dy())
}

func TestValidate_Results(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		advance time.Duration
		want    security.FailureKind
	}{
		{"correct", "4821", 0, ""},
		{"surrounding whitespace", " 4821 ", 0, ""},
		{"wrong", "1111", 0, security.ChallengeMismatch},
		{"blank", "  ", 0, security.ChallengeMismatch},
		{"at expiry", "4821", time.Minute, ""},
		{"past expiry", "4821", time.Minute + time.Second, security.ChallengeExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, now := newTestService(NewMemoryStore())
			ctx := context.Background()
			ch, err := svc.issueCode(ctx, "4821")
			require.NoError(t, err)

			*now = now.Add(tt.advance)
			err = svc.Validate(ctx, ch.Key, tt.answer)
			if tt.want == "" {
				assert.NoError(t, err)
			} else {
				assertKind(t, err, tt.want)
			}
		})
	}
}

func TestValidate_LettersCompareCaseInsensitively(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	ch, err := svc.issueCode(context.Background(), "aB3x")
	require.NoError(t, err)
	assert.NoError(t, svc.Validate(context.Background(), ch.Key, "AB3X"))
}

func TestValidate_ConsumedOnFirstAttempt(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	ctx := context.Background()
	ch, err := svc.issueCode(ctx, "4821")
	require.NoError(t, err)

	assertKind(t, svc.Validate(ctx, ch.Key, "0000"), security.ChallengeMismatch)
	// The right answer is too late: the wrong guess used the challenge up.
	assertKind(t, svc.Validate(ctx, ch.Key, "4821"), security.ChallengeMissing)
}

func TestValidate_MissingKey(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	assertKind(t, svc.Validate(context.Background(), "", "4821"), security.ChallengeMissing)
	assertKind(t, svc.Validate(context.Background(), "unknown", "4821"), security.ChallengeMissing)
}

func TestValidate_RedisExpiredStillReported(t *testing.T) {
	store, mr := newRedisStore(t)
	svc := NewService(store, testProps())
	ctx := context.Background()
	ch, err := svc.issueCode(ctx, "4821")
	require.NoError(t, err)

	// The Redis key survives the challenge, so a late answer is Expired.
	mr.FastForward(2 * time.Minute)
	svc.nowFunc = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	assertKind(t, svc.Validate(ctx, ch.Key, "4821"), security.ChallengeExpired)
}

// failingStore reports infrastructure errors.
type failingStore struct{}

func (failingStore) Save(context.Context, string, ChallengeRecord) error { return errors.New("down") }
func (failingStore) Take(context.Context, string) (*ChallengeRecord, error) {
	return nil, errors.New("down")
}

func TestValidate_StoreErrorIsNotAFailureKind(t *testing.T) {
	svc, _ := newTestService(failingStore{})
	err := svc.Validate(context.Background(), "k", "1")
	require.Error(t, err)
	_, isAuth := security.AsAuthError(err)
	assert.False(t, isAuth)
}

// --- Chain integration ---

// countingCredentials records whether the credential check ran.
type countingCredentials struct {
	calls int
}

func (c *countingCredentials) Verify(_ context.Context, username, _ string) (*security.Principal, error) {
	c.calls++
	return &security.Principal{Username: username}, nil
}

func (c *countingCredentials) LoadPrincipal(_ context.Context, username string) (*security.Principal, error) {
	return &security.Principal{Username: username}, nil
}

func newLoginChain(t *testing.T, svc *Service, creds security.CredentialStore) (*security.Chain, *[]security.FailureKind, *int) {
	t.Helper()
	props := config.DefaultSecurityProperties()
	filter, err := Filter(svc, props.Code.Image)
	require.NoError(t, err)

	var failures []security.FailureKind
	successes := 0
	chain := security.NewChain(
		security.SuccessHandlerFunc(func(ex *security.Exchange, _ *security.Principal) error {
			successes++
			return ex.NoContent(http.StatusOK)
		}),
		security.FailureHandlerFunc(func(ex *security.Exchange, f *security.AuthError) error {
			failures = append(failures, f.Kind)
			return ex.NoContent(http.StatusUnauthorized)
		}),
		[]security.Filter{
			security.ExemptPaths(security.MustPathMatcher(props.ExemptPatterns()...)),
			filter,
			security.FormLogin(security.FormLoginConfig{ProcessingURL: props.Browser.LoginProcessingURL}, creds),
			security.Authorization(),
		},
	)
	return chain, &failures, &successes
}

func postLogin(t *testing.T, chain *security.Chain, key, answer string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"username": {"alice"}, "password": {"secret"}, "imageCode": {answer}}
	req := httptest.NewRequest(http.MethodPost, "/authentication/form", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if key != "" {
		req.AddCookie(&http.Cookie{Name: "verify_key", Value: key})
	}
	rec := httptest.NewRecorder()
	e := echo.New()
	handler := chain.Middleware()(func(c echo.Context) error { return c.NoContent(http.StatusTeapot) })
	require.NoError(t, handler(e.NewContext(req, rec)))
	return rec
}

// A wrong answer on the login path fails with ChallengeMismatch and the
// credential store is never consulted.
func TestFilter_WrongAnswerSkipsCredentialCheck(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	ch, err := svc.issueCode(context.Background(), "4821")
	require.NoError(t, err)

	creds := &countingCredentials{}
	chain, failures, successes := newLoginChain(t, svc, creds)

	rec := postLogin(t, chain, ch.Key, "9999")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, []security.FailureKind{security.ChallengeMismatch}, *failures)
	assert.Zero(t, creds.calls)
	assert.Zero(t, *successes)
}

func TestFilter_CorrectAnswerReachesCredentials(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	ch, err := svc.issueCode(context.Background(), "4821")
	require.NoError(t, err)

	creds := &countingCredentials{}
	chain, failures, successes := newLoginChain(t, svc, creds)

	rec := postLogin(t, chain, ch.Key, "4821")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, *failures)
	assert.Equal(t, 1, creds.calls)
	assert.Equal(t, 1, *successes)
}

func TestFilter_NoKeyIsMissing(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	creds := &countingCredentials{}
	chain, failures, _ := newLoginChain(t, svc, creds)

	postLogin(t, chain, "", "4821")
	assert.Equal(t, []security.FailureKind{security.ChallengeMissing}, *failures)
	assert.Zero(t, creds.calls)
}

func TestFilter_KeyHeaderFallback(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	ch, err := svc.issueCode(context.Background(), "4821")
	require.NoError(t, err)
	filter, err := Filter(svc, testProps())
	require.NoError(t, err)

	form := url.Values{"imageCode": {"4821"}}
	req := httptest.NewRequest(http.MethodPost, "/authentication/form", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.Header.Set(KeyHeader, ch.Key)
	ex := security.NewExchange(echo.New().NewContext(req, httptest.NewRecorder()))

	reached := false
	out := filter.Handle(ex, func(ex *security.Exchange) security.Outcome {
		reached = true
		return security.Pass(nil)
	})
	assert.Equal(t, security.Proceed, out.Decision)
	assert.True(t, reached)
	assert.True(t, ex.LoginAttempted)
}

func TestFilter_IgnoresOtherRequests(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	filter, err := Filter(svc, testProps())
	require.NoError(t, err)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/authentication/form"},
		{http.MethodPost, "/api/notes"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		ex := security.NewExchange(echo.New().NewContext(req, httptest.NewRecorder()))
		out := filter.Handle(ex, func(*security.Exchange) security.Outcome { return security.Pass(nil) })
		assert.Equal(t, security.Proceed, out.Decision, "%s %s", tc.method, tc.path)
		assert.False(t, ex.LoginAttempted)
	}
}

func TestHandler_ImageSetsKey(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, testProps())
	h := NewHandler(svc, testProps())

	req := httptest.NewRequest(http.MethodGet, "/verifycode/image", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Image(echo.New().NewContext(req, rec)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	var key string
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "verify_key" {
			key = ck.Value
			assert.True(t, ck.HttpOnly)
		}
	}
	require.NotEmpty(t, key)
	assert.Equal(t, key, rec.Header().Get(KeyHeader))

	_, err := png.Decode(rec.Body)
	require.NoError(t, err)

	stored, err := store.Take(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Code, 4)
}
