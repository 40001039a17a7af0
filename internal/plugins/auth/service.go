package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// sessionKeyPrefix is the Redis key prefix for session data.
const sessionKeyPrefix = "session:"

// sessionTokenBytes is the number of random bytes in a session token.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const sessionTokenBytes = 32

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repository directly.
// It is also the chain's security.CredentialStore.
type AuthService interface {
	security.CredentialStore

	Register(ctx context.Context, input RegisterInput) (*User, error)
	CreateSession(ctx context.Context, p *security.Principal) (token string, err error)
	ValidateSession(ctx context.Context, token string) (*Session, error)
	DestroySession(ctx context.Context, token string) error
}

// authService implements AuthService with bcrypt hashing and Redis sessions.
type authService struct {
	repo       UserRepository
	redis      *redis.Client
	sessionTTL time.Duration
	bcryptCost int
}

// NewAuthService creates a new auth service with the given dependencies.
func NewAuthService(repo UserRepository, rdb *redis.Client, sessionTTL time.Duration, bcryptCost int) AuthService {
	return &authService{
		repo:       repo,
		redis:      rdb,
		sessionTTL: sessionTTL,
		bcryptCost: bcryptCost,
	}
}

// Register creates a new user account. It validates uniqueness, hashes the
// password, generates a UUID, and persists the user.
func (s *authService) Register(ctx context.Context, input RegisterInput) (*User, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))

	// Check uniqueness before doing expensive hashing.
	taken, err := s.repo.UsernameExists(ctx, username)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking username: %w", err))
	}
	if taken {
		return nil, apperror.NewConflict("this username is already taken")
	}
	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return nil, apperror.NewConflict("an account with this email already exists")
	}

	hash, err := hashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		DisplayName:  strings.TrimSpace(input.DisplayName),
		PasswordHash: hash,
		Roles:        []string{DefaultRole},
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return user, nil
}

// Verify implements security.CredentialStore. Unknown, disabled and
// wrong-password cases all fail the same way; only the log tells them apart.
func (s *authService) Verify(ctx context.Context, username, secret string) (*security.Principal, error) {
	user, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if apperror.IsNotFound(err) {
			// Burn the same bcrypt time as a real comparison.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
			return nil, security.Wrap(security.InvalidCredentials, fmt.Errorf("user %q not found", username))
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}

	if !verifyPassword(secret, user.PasswordHash) {
		return nil, security.Wrap(security.InvalidCredentials, fmt.Errorf("wrong password for %q", username))
	}
	if !user.Enabled {
		return nil, security.Wrap(security.InvalidCredentials, fmt.Errorf("user %q is disabled", username))
	}

	// Update the user's last login timestamp (fire-and-forget, non-critical).
	if err := s.repo.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	return user.Principal(), nil
}

// LoadPrincipal implements security.CredentialStore. Disabled accounts are
// reported as not found so their remember-me series are dropped.
func (s *authService) LoadPrincipal(ctx context.Context, username string) (*security.Principal, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !user.Enabled {
		return nil, apperror.NewNotFound("user not found")
	}
	return user.Principal(), nil
}

// CreateSession generates a random session token, stores the principal in
// Redis with the configured TTL, and returns the token.
func (s *authService) CreateSession(ctx context.Context, p *security.Principal) (string, error) {
	token, err := generateSessionToken()
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}

	session := Session{
		UserID:      p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Roles:       p.Roles,
		CreatedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}

	if err := s.redis.Set(ctx, sessionKeyPrefix+token, data, s.sessionTTL).Err(); err != nil {
		return "", fmt.Errorf("storing session in Redis: %w", err)
	}

	return token, nil
}

// ValidateSession looks up a session token in Redis and returns the session
// data if it exists and hasn't expired.
func (s *authService) ValidateSession(ctx context.Context, token string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	if err != nil {
		return nil, fmt.Errorf("reading session from Redis: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}

	return &session, nil
}

// DestroySession removes a session from Redis, effectively logging the user out.
func (s *authService) DestroySession(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("deleting session from Redis: %w", err)
	}
	return nil
}

// generateSessionToken creates a cryptographically random hex-encoded token.
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
