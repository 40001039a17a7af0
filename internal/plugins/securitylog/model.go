// Package securitylog keeps a durable record of security events. It
// consumes the event bus, stores every event in the security_events table
// and exposes the log to administrators.
package securitylog

import (
	"time"

	"github.com/keyxmakerx/sentinel/internal/events"
	"github.com/keyxmakerx/sentinel/internal/sanitize"
)

// Event is one stored security event.
type Event struct {
	ID        int64             `json:"id"`
	EventID   string            `json:"eventId"`
	EventType string            `json:"eventType"`
	Username  string            `json:"username,omitempty"`
	Failure   string            `json:"failure,omitempty"`
	IPAddress string            `json:"ipAddress,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// FromSecurityEvent converts a bus payload into its stored form.
func FromSecurityEvent(ev events.SecurityEvent) *Event {
	return &Event{
		EventID:   ev.ID,
		EventType: string(ev.Type),
		Username:  ev.Username,
		Failure:   ev.Failure,
		IPAddress: ev.IPAddress,
		UserAgent: sanitize.Limit(sanitize.Text(ev.UserAgent), 512),
		Details:   ev.Details,
		CreatedAt: ev.OccurredAt,
	}
}

// Stats holds aggregate counts for the last day.
type Stats struct {
	TotalEvents         int `json:"totalEvents"`
	FailedLogins24h     int `json:"failedLogins24h"`
	SuccessfulLogins24h int `json:"successfulLogins24h"`
	TokenTheft24h       int `json:"tokenTheft24h"`
	UniqueIPs24h        int `json:"uniqueIps24h"`
}

// EventTypeLabel returns a human-readable label for a security event type.
func EventTypeLabel(eventType string) string {
	labels := map[string]string{
		string(events.LoginSucceeded):  "Login Success",
		string(events.LoginFailed):     "Login Failed",
		string(events.RememberMeLogin): "Remember-me Login",
		string(events.RememberMeTheft): "Remember-me Token Theft",
		string(events.Logout):          "Logout",
	}
	if label, ok := labels[eventType]; ok {
		return label
	}
	return eventType
}
