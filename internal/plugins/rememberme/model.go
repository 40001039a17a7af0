// Package rememberme keeps browsers logged in across sessions with rotating
// persistent tokens. Each remember-me login is a series; the browser holds
// the series id and the current token value, and every successful use
// replaces the value. Presenting an old value for a live series means the
// cookie was copied, so every token of that user is revoked.
package rememberme

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tokenValueBytes is the entropy of a token value (128 bits).
const tokenValueBytes = 16

// maxTokenValueLen matches the persistent_logins.token column.
const maxTokenValueLen = 64

// PersistentToken is one stored remember-me series.
type PersistentToken struct {
	Series     string    `json:"series"`
	Username   string    `json:"username"`
	TokenValue string    `json:"token"`
	LastUsed   time.Time `json:"last_used"`
}

// ErrMalformedArtifact is returned for cookies that do not decode to
// "series:token".
var ErrMalformedArtifact = errors.New("malformed remember-me artifact")

// EncodeArtifact returns the cookie value for a series and token value.
func EncodeArtifact(series, tokenValue string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(series + ":" + tokenValue))
}

// DecodeArtifact splits a cookie value into series and token value. Both
// padded and unpadded, standard and URL-safe encodings are accepted. The
// series must be a canonical UUID since it names repository rows and lock
// keys before any lookup happens.
func DecodeArtifact(artifact string) (series, tokenValue string, err error) {
	raw := strings.TrimRight(strings.TrimSpace(artifact), "=")
	if raw == "" {
		return "", "", ErrMalformedArtifact
	}

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
		}
	}

	series, tokenValue, ok := strings.Cut(string(decoded), ":")
	if !ok || tokenValue == "" || strings.Contains(tokenValue, ":") || len(tokenValue) > maxTokenValueLen {
		return "", "", ErrMalformedArtifact
	}
	if !validSeries(series) {
		return "", "", ErrMalformedArtifact
	}
	return series, tokenValue, nil
}

func validSeries(series string) bool {
	if len(series) != 36 {
		return false
	}
	_, err := uuid.Parse(series)
	return err == nil
}

// newSeries returns a fresh series identifier.
func newSeries() string {
	return uuid.NewString()
}

// newTokenValue returns a fresh random token value.
func newTokenValue() (string, error) {
	b := make([]byte, tokenValueBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
