package social

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/keyxmakerx/sentinel/internal/apperror"
)

// ConnectionRepository stores identity-to-account bindings.
type ConnectionRepository interface {
	// FindUsername returns the local username bound to the identity, or ""
	// when the identity is not connected.
	FindUsername(ctx context.Context, providerID, providerUserID string) (string, error)

	// Create binds an identity. An identity can be bound to one account.
	Create(ctx context.Context, conn Connection) error

	// ListByUsername returns the identities bound to username.
	ListByUsername(ctx context.Context, username string) ([]Connection, error)

	// Delete removes a binding owned by username.
	Delete(ctx context.Context, username, providerID, providerUserID string) error
}

// connectionRepository implements ConnectionRepository over the
// userconnection table.
type connectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository creates a repository backed by the given DB pool.
func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

// FindUsername implements ConnectionRepository.
func (r *connectionRepository) FindUsername(ctx context.Context, providerID, providerUserID string) (string, error) {
	query := `SELECT u.username FROM userconnection c
	          JOIN users u ON u.id = c.user_id
	          WHERE c.provider_id = ? AND c.provider_user_id = ?`

	var username string
	err := r.db.QueryRowContext(ctx, query, providerID, providerUserID).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying connection: %w", err)
	}
	return username, nil
}

// Create implements ConnectionRepository. The owning user is resolved by
// username inside the insert.
func (r *connectionRepository) Create(ctx context.Context, conn Connection) error {
	existing, err := r.FindUsername(ctx, conn.ProviderID, conn.ProviderUserID)
	if err != nil {
		return err
	}
	if existing != "" {
		return apperror.NewConflict("this identity is already connected to an account")
	}

	query := `INSERT INTO userconnection (user_id, provider_id, provider_user_id, display_name, created_at)
	          SELECT id, ?, ?, ?, ? FROM users WHERE username = ?`

	res, err := r.db.ExecContext(ctx, query,
		conn.ProviderID, conn.ProviderUserID, conn.DisplayName, conn.CreatedAt, conn.Username)
	if err != nil {
		return fmt.Errorf("inserting connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// ListByUsername implements ConnectionRepository.
func (r *connectionRepository) ListByUsername(ctx context.Context, username string) ([]Connection, error) {
	query := `SELECT c.provider_id, c.provider_user_id, COALESCE(c.display_name, ''), c.created_at
	          FROM userconnection c JOIN users u ON u.id = c.user_id
	          WHERE u.username = ? ORDER BY c.provider_id, c.created_at`

	rows, err := r.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		c := Connection{Username: username}
		if err := rows.Scan(&c.ProviderID, &c.ProviderUserID, &c.DisplayName, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning connection row: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// Delete implements ConnectionRepository.
func (r *connectionRepository) Delete(ctx context.Context, username, providerID, providerUserID string) error {
	query := `DELETE FROM userconnection
	          WHERE provider_id = ? AND provider_user_id = ?
	            AND user_id = (SELECT id FROM users WHERE username = ?)`

	res, err := r.db.ExecContext(ctx, query, providerID, providerUserID, username)
	if err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("connection not found")
	}
	return nil
}

// MemoryConnectionRepository is an in-process ConnectionRepository.
type MemoryConnectionRepository struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// NewMemoryConnectionRepository creates an empty repository.
func NewMemoryConnectionRepository() *MemoryConnectionRepository {
	return &MemoryConnectionRepository{conns: make(map[string]Connection)}
}

func connectionKey(providerID, providerUserID string) string {
	return providerID + "\x00" + providerUserID
}

// FindUsername implements ConnectionRepository.
func (r *MemoryConnectionRepository) FindUsername(_ context.Context, providerID, providerUserID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[connectionKey(providerID, providerUserID)].Username, nil
}

// Create implements ConnectionRepository.
func (r *MemoryConnectionRepository) Create(_ context.Context, conn Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := connectionKey(conn.ProviderID, conn.ProviderUserID)
	if _, ok := r.conns[key]; ok {
		return apperror.NewConflict("this identity is already connected to an account")
	}
	r.conns[key] = conn
	return nil
}

// ListByUsername implements ConnectionRepository.
func (r *MemoryConnectionRepository) ListByUsername(_ context.Context, username string) ([]Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []Connection
	for _, c := range r.conns {
		if c.Username == username {
			conns = append(conns, c)
		}
	}
	return conns, nil
}

// Delete implements ConnectionRepository.
func (r *MemoryConnectionRepository) Delete(_ context.Context, username, providerID, providerUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := connectionKey(providerID, providerUserID)
	if c, ok := r.conns[key]; !ok || c.Username != username {
		return apperror.NewNotFound("connection not found")
	}
	delete(r.conns, key)
	return nil
}
