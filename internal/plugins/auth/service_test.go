package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// --- Mock Repository ---

// mockUserRepo implements UserRepository for testing.
type mockUserRepo struct {
	createFn          func(ctx context.Context, user *User) error
	findByIDFn        func(ctx context.Context, id string) (*User, error)
	findByUsernameFn  func(ctx context.Context, username string) (*User, error)
	usernameExistsFn  func(ctx context.Context, username string) (bool, error)
	emailExistsFn     func(ctx context.Context, email string) (bool, error)
	updateLastLoginFn func(ctx context.Context, id string, at time.Time) error
}

func (m *mockUserRepo) Create(ctx context.Context, user *User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	if m.usernameExistsFn != nil {
		return m.usernameExistsFn(ctx, username)
	}
	return false, nil
}

func (m *mockUserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	if m.emailExistsFn != nil {
		return m.emailExistsFn(ctx, email)
	}
	return false, nil
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if m.updateLastLoginFn != nil {
		return m.updateLastLoginFn(ctx, id, at)
	}
	return nil
}

// --- Test Helpers ---

// newTestAuthService creates an authService backed by miniredis and the
// cheapest bcrypt cost.
func newTestAuthService(t *testing.T, repo UserRepository) (*authService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &authService{
		repo:       repo,
		redis:      rdb,
		sessionTTL: time.Hour,
		bcryptCost: bcrypt.MinCost,
	}, mr
}

// assertAppError checks that err is an AppError with the expected code.
func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

// assertKind checks that err carries the expected failure kind.
func assertKind(t *testing.T, err error, kind security.FailureKind) {
	t.Helper()
	if got := security.KindOf(err); got != kind {
		t.Fatalf("expected failure kind %s, got %q (err: %v)", kind, got, err)
	}
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := hashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	return hash
}

// legacyArgon2Hash builds a hash in the argon2id PHC format older accounts
// were stored with.
func legacyArgon2Hash(password string) string {
	salt := []byte("0123456789abcdef")
	key := argon2.IDKey([]byte(password), salt, 1, 8*1024, 1, 32)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, 8*1024, 1, 1,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
}

// --- Register Tests ---

func TestRegister_Success(t *testing.T) {
	repo := &mockUserRepo{
		createFn: func(ctx context.Context, user *User) error {
			if user.Username != "alice" {
				t.Errorf("expected username alice, got %s", user.Username)
			}
			if user.Email != "alice@example.com" {
				t.Errorf("expected email alice@example.com, got %s", user.Email)
			}
			if len(user.Roles) != 1 || user.Roles[0] != DefaultRole {
				t.Errorf("expected roles [%s], got %v", DefaultRole, user.Roles)
			}
			if !user.Enabled {
				t.Error("expected new user to be enabled")
			}
			if user.PasswordHash == "" {
				t.Error("expected password hash to be set")
			}
			return nil
		},
	}

	svc, _ := newTestAuthService(t, repo)
	user, err := svc.Register(context.Background(), RegisterInput{
		Username:    " alice ",
		Email:       "  Alice@EXAMPLE.com  ",
		DisplayName: "Alice",
		Password:    "secure-password-123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID == "" {
		t.Error("expected user ID to be generated")
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	repo := &mockUserRepo{
		usernameExistsFn: func(ctx context.Context, username string) (bool, error) {
			return true, nil
		},
	}

	svc, _ := newTestAuthService(t, repo)
	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "a@example.com", Password: "secure-password-123",
	})
	assertAppError(t, err, 409)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	repo := &mockUserRepo{
		emailExistsFn: func(ctx context.Context, email string) (bool, error) {
			return true, nil
		},
	}

	svc, _ := newTestAuthService(t, repo)
	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "taken@example.com", Password: "secure-password-123",
	})
	assertAppError(t, err, 409)
}

func TestRegister_CreateError(t *testing.T) {
	repo := &mockUserRepo{
		createFn: func(ctx context.Context, user *User) error {
			return errors.New("db write error")
		},
	}

	svc, _ := newTestAuthService(t, repo)
	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "a@example.com", Password: "secure-password-123",
	})
	assertAppError(t, err, 500)
}

// --- Verify Tests ---

func TestVerify_Success(t *testing.T) {
	var stamped bool
	repo := &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) {
			return &User{
				ID: "u1", Username: username, DisplayName: "Alice",
				PasswordHash: mustHash(t, "correct-horse"),
				Roles:        []string{"ROLE_USER", "ROLE_ADMIN"}, Enabled: true,
			}, nil
		},
		updateLastLoginFn: func(ctx context.Context, id string, at time.Time) error {
			stamped = id == "u1"
			return nil
		},
	}

	svc, _ := newTestAuthService(t, repo)
	p, err := svc.Verify(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Username != "alice" || !p.HasRole("ROLE_ADMIN") {
		t.Errorf("unexpected principal: %+v", p)
	}
	if !stamped {
		t.Error("expected last login to be updated")
	}
}

func TestVerify_Failures(t *testing.T) {
	tests := []struct {
		name string
		user *User
	}{
		{"unknown user", nil},
		{"wrong password", &User{Username: "alice", PasswordHash: mustHash(t, "other"), Enabled: true}},
		{"disabled", &User{Username: "alice", PasswordHash: mustHash(t, "correct-horse"), Enabled: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockUserRepo{
				findByUsernameFn: func(ctx context.Context, username string) (*User, error) {
					if tt.user == nil {
						return nil, apperror.NewNotFound("user not found")
					}
					return tt.user, nil
				},
			}
			svc, _ := newTestAuthService(t, repo)
			_, err := svc.Verify(context.Background(), "alice", "correct-horse")
			assertKind(t, err, security.InvalidCredentials)
		})
	}
}

func TestVerify_RepositoryErrorIsNotAFailure(t *testing.T) {
	repo := &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) {
			return nil, errors.New("db connection lost")
		},
	}
	svc, _ := newTestAuthService(t, repo)
	_, err := svc.Verify(context.Background(), "alice", "pw")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := security.AsAuthError(err); ok {
		t.Error("infrastructure errors must not become failure kinds")
	}
}

func TestLoadPrincipal_DisabledIsNotFound(t *testing.T) {
	repo := &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) {
			return &User{Username: username, Enabled: false}, nil
		},
	}
	svc, _ := newTestAuthService(t, repo)
	_, err := svc.LoadPrincipal(context.Background(), "alice")
	if !apperror.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

// --- Session Tests ---

func TestSession_Lifecycle(t *testing.T) {
	svc, mr := newTestAuthService(t, &mockUserRepo{})
	ctx := context.Background()

	token, err := svc.CreateSession(ctx, &security.Principal{ID: "u1", Username: "alice", Roles: []string{"ROLE_USER"}})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if len(token) != 2*sessionTokenBytes {
		t.Errorf("expected %d-char token, got %d", 2*sessionTokenBytes, len(token))
	}
	if ttl := mr.TTL(sessionKeyPrefix + token); ttl != time.Hour {
		t.Errorf("expected session TTL 1h, got %s", ttl)
	}

	session, err := svc.ValidateSession(ctx, token)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if session.Username != "alice" || session.Principal().ID != "u1" {
		t.Errorf("unexpected session: %+v", session)
	}

	if err := svc.DestroySession(ctx, token); err != nil {
		t.Fatalf("DestroySession failed: %v", err)
	}
	_, err = svc.ValidateSession(ctx, token)
	assertAppError(t, err, 401)
}

func TestSession_Expires(t *testing.T) {
	svc, mr := newTestAuthService(t, &mockUserRepo{})
	ctx := context.Background()

	token, err := svc.CreateSession(ctx, &security.Principal{Username: "alice"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	mr.FastForward(time.Hour + time.Second)

	_, err = svc.ValidateSession(ctx, token)
	assertAppError(t, err, 401)
}

// --- Password Hashing Tests ---

func TestHashAndVerifyPassword(t *testing.T) {
	password := "my-secret-password-123"
	hash := mustHash(t, password)

	if !verifyPassword(password, hash) {
		t.Error("expected correct password to verify")
	}
	if verifyPassword("wrong-password", hash) {
		t.Error("expected wrong password to fail verification")
	}
}

func TestVerifyPassword_LegacyArgon2(t *testing.T) {
	hash := legacyArgon2Hash("old-password")
	if !verifyPassword("old-password", hash) {
		t.Error("expected legacy argon2id hash to verify")
	}
	if verifyPassword("nope", hash) {
		t.Error("expected wrong password to fail against argon2id hash")
	}
}

func TestVerifyPassword_InvalidHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"empty string", ""},
		{"random text", "not-a-hash"},
		{"too few parts", "$argon2id$v=19$m=65536"},
		{"corrupted salt", "$argon2id$v=19$m=65536,t=3,p=4$!!!invalid$aGFzaA"},
		{"corrupted hash", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$!!!invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if verifyPassword("password", tt.hash) {
				t.Error("expected invalid hash to fail verification")
			}
		})
	}
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	if mustHash(t, "same-password") == mustHash(t, "same-password") {
		t.Error("expected different salts to produce different hashes")
	}
}
