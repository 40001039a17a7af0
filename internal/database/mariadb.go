// Package database opens the MariaDB pool and the Redis client shared by the
// user, remember-me, social and security-event repositories, and applies the
// schema migrations in db/migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/sentinel/internal/config"
)

const (
	connectAttempts = 10
	pingTimeout     = 5 * time.Second
	maxBackoff      = 30 * time.Second
)

// NewMariaDB opens the pool with the configured limits and waits until the
// server answers a ping. The wait is abandoned when ctx is cancelled.
func NewMariaDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := waitReady(ctx, "mariadb", db.PingContext); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// waitReady pings with exponential backoff. Containers started together
// routinely accept connections a few seconds after sentinel boots.
func waitReady(ctx context.Context, name string, ping func(context.Context) error) error {
	backoff := time.Second
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}

		slog.Warn(name+" not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", name, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return fmt.Errorf("pinging %s after %d attempts: %w", name, connectAttempts, err)
}
