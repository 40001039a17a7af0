package security

import (
	"errors"
	"fmt"

	"github.com/keyxmakerx/sentinel/internal/apperror"
)

// FailureKind names why authentication failed. Kinds are stable strings:
// they appear in JSON responses, redirects, logs, metrics and events.
type FailureKind string

const (
	// ChallengeMissing: no challenge was issued for this browser, or it was
	// already consumed by an earlier attempt.
	ChallengeMissing FailureKind = "ChallengeMissing"

	// ChallengeExpired: the challenge existed but its lifetime had elapsed.
	ChallengeExpired FailureKind = "ChallengeExpired"

	// ChallengeMismatch: the submitted answer was blank or wrong.
	ChallengeMismatch FailureKind = "ChallengeMismatch"

	// InvalidCredentials: unknown user or wrong password. The two cases are
	// deliberately indistinguishable to the client.
	InvalidCredentials FailureKind = "InvalidCredentials"

	// InvalidArtifact: the remember-me cookie could not be decoded.
	InvalidArtifact FailureKind = "InvalidArtifact"

	// UnknownSeries: the remember-me series is not (or no longer) stored.
	UnknownSeries FailureKind = "UnknownSeries"

	// TokenReuseDetected: a stale token value was presented for a live
	// series. The series has been invalidated.
	TokenReuseDetected FailureKind = "TokenReuseDetected"

	// Expired: the remember-me token outlived its validity window.
	Expired FailureKind = "Expired"

	// Unauthenticated: the request reached authorization with no principal.
	Unauthenticated FailureKind = "Unauthenticated"
)

// defaultMessages are the client-facing texts for each kind.
var defaultMessages = map[FailureKind]string{
	ChallengeMissing:   "The verification code is missing or was already used. Please request a new one.",
	ChallengeExpired:   "The verification code has expired. Please request a new one.",
	ChallengeMismatch:  "The verification code does not match.",
	InvalidCredentials: "Invalid username or password.",
	InvalidArtifact:    "Your saved login could not be read. Please sign in again.",
	UnknownSeries:      "Your saved login is no longer valid. Please sign in again.",
	TokenReuseDetected: "Your saved login is no longer valid. Please sign in again.",
	Expired:            "Your saved login has expired. Please sign in again.",
	Unauthenticated:    "Authentication is required to access this resource.",
}

// Message returns the default client-facing message for k.
func (k FailureKind) Message() string {
	if m, ok := defaultMessages[k]; ok {
		return m
	}
	return "Authentication failed."
}

// IsChallenge reports whether k came from the pre-auth challenge filter.
func (k FailureKind) IsChallenge() bool {
	return k == ChallengeMissing || k == ChallengeExpired || k == ChallengeMismatch
}

// IsRememberMe reports whether k came from remember-me validation.
func (k FailureKind) IsRememberMe() bool {
	switch k {
	case InvalidArtifact, UnknownSeries, TokenReuseDetected, Expired:
		return true
	}
	return false
}

// IsLoginAttempt reports whether k ends an interactive login attempt.
func (k FailureKind) IsLoginAttempt() bool {
	return k.IsChallenge() || k == InvalidCredentials
}

// AuthError is an authentication failure with its kind preserved end to end.
type AuthError struct {
	Kind    FailureKind
	Message string

	// Internal carries log-only detail (e.g. "user not found").
	Internal error
}

// NewAuthError creates an AuthError with the kind's default message.
func NewAuthError(kind FailureKind) *AuthError {
	return &AuthError{Kind: kind, Message: kind.Message()}
}

// Wrap creates an AuthError that remembers a log-only cause.
func Wrap(kind FailureKind, internal error) *AuthError {
	return &AuthError{Kind: kind, Message: kind.Message(), Internal: internal}
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Kind, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the log-only cause.
func (e *AuthError) Unwrap() error {
	return e.Internal
}

// AppError converts e into the 401 AppError the HTTP error handler renders.
func (e *AuthError) AppError() *apperror.AppError {
	_, message := e.Public()
	ae := apperror.NewUnauthorized(message)
	ae.Internal = e
	return ae
}

// Public returns the kind and message a client may see. Every remember-me
// rejection reads as UnknownSeries so a replayed cookie cannot learn that
// reuse was noticed; logs, metrics and events keep the real kind.
func (e *AuthError) Public() (FailureKind, string) {
	if e.Kind.IsRememberMe() {
		return UnknownSeries, UnknownSeries.Message()
	}
	return e.Kind, e.Message
}

// AsAuthError extracts an AuthError from err's chain.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the FailureKind in err's chain, or "" if there is none.
func KindOf(err error) FailureKind {
	if ae, ok := AsAuthError(err); ok {
		return ae.Kind
	}
	return ""
}
