package rememberme

import (
	"context"
	"sync"
	"time"
)

// TokenRepository persists remember-me series. Implementations must be
// safe for concurrent use.
type TokenRepository interface {
	// CreateNewToken stores a new series.
	CreateNewToken(ctx context.Context, token PersistentToken) error

	// GetTokenForSeries returns the series, or nil if it does not exist.
	GetTokenForSeries(ctx context.Context, series string) (*PersistentToken, error)

	// UpdateToken replaces the token value and last-used time of a series.
	UpdateToken(ctx context.Context, series, tokenValue string, lastUsed time.Time) error

	// RemoveSeries deletes one series. Deleting a missing series is not an error.
	RemoveSeries(ctx context.Context, series string) error

	// RemoveUserTokens deletes every series of username.
	RemoveUserTokens(ctx context.Context, username string) error
}

// SeriesLocker is implemented by repositories shared between processes.
// The coordinator holds the lock across read-validate-rotate so two
// replicas cannot both accept the same token value.
type SeriesLocker interface {
	LockSeries(ctx context.Context, series string) (unlock func(), err error)
}

// MemoryRepository keeps tokens in process memory. Suitable for tests and
// single-instance development.
type MemoryRepository struct {
	mu     sync.RWMutex
	tokens map[string]PersistentToken
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]PersistentToken)}
}

// CreateNewToken implements TokenRepository.
func (r *MemoryRepository) CreateNewToken(_ context.Context, token PersistentToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.Series] = token
	return nil
}

// GetTokenForSeries implements TokenRepository.
func (r *MemoryRepository) GetTokenForSeries(_ context.Context, series string) (*PersistentToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[series]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

// UpdateToken implements TokenRepository.
func (r *MemoryRepository) UpdateToken(_ context.Context, series, tokenValue string, lastUsed time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[series]
	if !ok {
		return nil
	}
	tok.TokenValue = tokenValue
	tok.LastUsed = lastUsed
	r.tokens[series] = tok
	return nil
}

// RemoveSeries implements TokenRepository.
func (r *MemoryRepository) RemoveSeries(_ context.Context, series string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, series)
	return nil
}

// RemoveUserTokens implements TokenRepository.
func (r *MemoryRepository) RemoveUserTokens(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for series, tok := range r.tokens {
		if tok.Username == username {
			delete(r.tokens, series)
		}
	}
	return nil
}

// Len returns the number of stored series.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
