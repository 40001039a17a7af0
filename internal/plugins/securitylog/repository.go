package securitylog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keyxmakerx/sentinel/internal/events"
)

// Repository defines the data access contract for security events.
type Repository interface {
	// Log inserts a security event. Events are idempotent on EventID so a
	// redelivered message is stored once.
	Log(ctx context.Context, event *Event) error

	// List returns paginated security events, most recent first. Optional
	// eventType filter narrows results to a specific event type.
	List(ctx context.Context, eventType string, limit, offset int) ([]Event, int, error)

	// GetStats returns aggregate counts for events at or after since.
	GetStats(ctx context.Context, since time.Time) (*Stats, error)

	// CountRecentByIP returns the number of events of eventType from ip at
	// or after since. Useful for detecting brute-force attacks.
	CountRecentByIP(ctx context.Context, ip, eventType string, since time.Time) (int, error)
}

// repository implements Repository with portable SQL (MariaDB in
// production, SQLite in tests).
type repository struct {
	db *sql.DB
}

// NewRepository creates a new repository backed by the given DB.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Log implements Repository. Details are serialized to JSON.
func (r *repository) Log(ctx context.Context, event *Event) error {
	query := `INSERT INTO security_events (event_id, event_type, username, failure, ip_address, user_agent, details, created_at)
	          SELECT ?, ?, ?, ?, ?, ?, ?, ?
	          WHERE NOT EXISTS (SELECT 1 FROM security_events WHERE event_id = ?)`

	var details any
	if len(event.Details) > 0 {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling security event details: %w", err)
		}
		details = string(data)
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		event.EventID, event.EventType,
		nullable(event.Username), nullable(event.Failure),
		nullable(event.IPAddress), nullable(event.UserAgent),
		details, event.CreatedAt,
		event.EventID,
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		id, _ := result.LastInsertId()
		event.ID = id
	}
	return nil
}

// List implements Repository.
func (r *repository) List(ctx context.Context, eventType string, limit, offset int) ([]Event, int, error) {
	where := ""
	args := []any{}
	if eventType != "" {
		where = ` WHERE event_type = ?`
		args = append(args, eventType)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting security events: %w", err)
	}

	query := `SELECT id, event_id, event_type, COALESCE(username, ''), COALESCE(failure, ''),
	                 COALESCE(ip_address, ''), COALESCE(user_agent, ''), details, created_at
	          FROM security_events` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing security events: %w", err)
	}
	defer rows.Close()

	var list []Event
	for rows.Next() {
		var e Event
		var details sql.NullString
		if err := rows.Scan(
			&e.ID, &e.EventID, &e.EventType, &e.Username, &e.Failure,
			&e.IPAddress, &e.UserAgent, &details, &e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning security event: %w", err)
		}

		if details.Valid && details.String != "" {
			if jsonErr := json.Unmarshal([]byte(details.String), &e.Details); jsonErr != nil {
				e.Details = map[string]string{"_parse_error": "invalid JSON"}
			}
		}
		list = append(list, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating security events: %w", err)
	}
	return list, total, nil
}

// GetStats implements Repository.
func (r *repository) GetStats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events`).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("counting security events: %w", err)
	}

	countType := `SELECT COUNT(*) FROM security_events WHERE event_type = ? AND created_at >= ?`
	for _, c := range []struct {
		eventType events.Type
		dest      *int
	}{
		{events.LoginFailed, &stats.FailedLogins24h},
		{events.LoginSucceeded, &stats.SuccessfulLogins24h},
		{events.RememberMeTheft, &stats.TokenTheft24h},
	} {
		if err := r.db.QueryRowContext(ctx, countType, string(c.eventType), since).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting %s events: %w", c.eventType, err)
		}
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT ip_address) FROM security_events WHERE created_at >= ? AND ip_address IS NOT NULL AND ip_address != ''`,
		since,
	).Scan(&stats.UniqueIPs24h); err != nil {
		return nil, fmt.Errorf("counting unique IPs: %w", err)
	}

	return stats, nil
}

// CountRecentByIP implements Repository.
func (r *repository) CountRecentByIP(ctx context.Context, ip, eventType string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM security_events
	          WHERE ip_address = ? AND event_type = ? AND created_at >= ?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, ip, eventType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting recent events by IP: %w", err)
	}
	return count, nil
}

// nullable maps empty strings to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
