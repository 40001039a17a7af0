package rememberme

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// lockTimeoutSeconds bounds how long GET_LOCK waits for a busy series.
const lockTimeoutSeconds = 5

// SQLRepository stores tokens in the persistent_logins table. The queries
// are portable between MariaDB and SQLite; only advisory locking is
// MariaDB specific and must be enabled with WithAdvisoryLocks.
type SQLRepository struct {
	db            *sql.DB
	advisoryLocks bool
}

// SQLOption customizes a SQLRepository.
type SQLOption func(*SQLRepository)

// WithAdvisoryLocks makes LockSeries take a MariaDB GET_LOCK per series.
func WithAdvisoryLocks() SQLOption {
	return func(r *SQLRepository) { r.advisoryLocks = true }
}

// NewSQLRepository creates a repository backed by db.
func NewSQLRepository(db *sql.DB, opts ...SQLOption) *SQLRepository {
	r := &SQLRepository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateNewToken implements TokenRepository.
func (r *SQLRepository) CreateNewToken(ctx context.Context, token PersistentToken) error {
	query := `INSERT INTO persistent_logins (username, series, token, last_used)
	          VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		token.Username,
		token.Series,
		token.TokenValue,
		token.LastUsed.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting persistent login: %w", err)
	}
	return nil
}

// GetTokenForSeries implements TokenRepository.
func (r *SQLRepository) GetTokenForSeries(ctx context.Context, series string) (*PersistentToken, error) {
	query := `SELECT username, series, token, last_used
	          FROM persistent_logins WHERE series = ?`

	tok := &PersistentToken{}
	err := r.db.QueryRowContext(ctx, query, series).Scan(
		&tok.Username,
		&tok.Series,
		&tok.TokenValue,
		&tok.LastUsed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying persistent login: %w", err)
	}
	tok.LastUsed = tok.LastUsed.UTC()
	return tok, nil
}

// UpdateToken implements TokenRepository.
func (r *SQLRepository) UpdateToken(ctx context.Context, series, tokenValue string, lastUsed time.Time) error {
	query := `UPDATE persistent_logins SET token = ?, last_used = ? WHERE series = ?`

	if _, err := r.db.ExecContext(ctx, query, tokenValue, lastUsed.UTC(), series); err != nil {
		return fmt.Errorf("updating persistent login: %w", err)
	}
	return nil
}

// RemoveSeries implements TokenRepository.
func (r *SQLRepository) RemoveSeries(ctx context.Context, series string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM persistent_logins WHERE series = ?`, series); err != nil {
		return fmt.Errorf("deleting persistent login: %w", err)
	}
	return nil
}

// RemoveUserTokens implements TokenRepository.
func (r *SQLRepository) RemoveUserTokens(ctx context.Context, username string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM persistent_logins WHERE username = ?`, username); err != nil {
		return fmt.Errorf("deleting persistent logins for user: %w", err)
	}
	return nil
}

// LockSeries implements SeriesLocker. Without advisory locks it returns a
// no-op unlock and relies on the coordinator's in-process lock.
func (r *SQLRepository) LockSeries(ctx context.Context, series string) (func(), error) {
	if !r.advisoryLocks {
		return func() {}, nil
	}

	// GET_LOCK is owned by the connection, so pin one for the lock's lifetime.
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for series lock: %w", err)
	}

	name := "rememberme:" + series
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, name, lockTimeoutSeconds).Scan(&got); err != nil {
		conn.Close()
		return nil, fmt.Errorf("taking series lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		conn.Close()
		return nil, fmt.Errorf("timed out waiting for series lock")
	}

	return func() {
		// Release with a fresh context: the request may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(ctx, `SELECT RELEASE_LOCK(?)`, name)
		conn.Close()
	}, nil
}
