package securitylog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/events"
)

// perPage is the number of security events returned per page.
const perPage = 50

// statsWindow is the period the "recent" statistics cover.
const statsWindow = 24 * time.Hour

// Service records and queries security events.
type Service interface {
	// Record persists an event received from the bus.
	Record(ctx context.Context, ev events.SecurityEvent) error

	// ListEvents returns paginated events, optionally filtered by type.
	ListEvents(ctx context.Context, eventType string, page int) ([]Event, int, error)

	// GetStats returns counts for the last day.
	GetStats(ctx context.Context) (*Stats, error)

	// RecentFailures counts failed logins from ip in the last window.
	RecentFailures(ctx context.Context, ip string, window time.Duration) (int, error)
}

// service implements Service.
type service struct {
	repo Repository

	// nowFunc is swapped in tests to move the clock.
	nowFunc func() time.Time
}

// NewService creates a security log service.
func NewService(repo Repository) Service {
	return &service{repo: repo, nowFunc: func() time.Time { return time.Now().UTC() }}
}

// Record validates and persists a security event.
func (s *service) Record(ctx context.Context, ev events.SecurityEvent) error {
	if ev.Type == "" || ev.ID == "" {
		return apperror.NewBadRequest("event id and type are required")
	}

	if err := s.repo.Log(ctx, FromSecurityEvent(ev)); err != nil {
		slog.Error("failed to log security event",
			slog.String("event_type", string(ev.Type)),
			slog.String("ip", ev.IPAddress),
			slog.Any("error", err),
		)
		return apperror.NewInternal(fmt.Errorf("logging security event: %w", err))
	}
	return nil
}

// ListEvents returns paginated security events.
func (s *service) ListEvents(ctx context.Context, eventType string, page int) ([]Event, int, error) {
	if page < 1 {
		page = 1
	}

	list, total, err := s.repo.List(ctx, eventType, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing security events: %w", err))
	}
	return list, total, nil
}

// GetStats returns aggregate security statistics.
func (s *service) GetStats(ctx context.Context) (*Stats, error) {
	stats, err := s.repo.GetStats(ctx, s.nowFunc().Add(-statsWindow))
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("getting security stats: %w", err))
	}
	return stats, nil
}

// RecentFailures counts failed logins from ip within window.
func (s *service) RecentFailures(ctx context.Context, ip string, window time.Duration) (int, error) {
	n, err := s.repo.CountRecentByIP(ctx, ip, string(events.LoginFailed), s.nowFunc().Add(-window))
	if err != nil {
		return 0, apperror.NewInternal(err)
	}
	return n, nil
}
