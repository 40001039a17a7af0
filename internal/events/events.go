// Package events publishes security events (logins, failures, remember-me
// theft, logouts) onto a watermill bus. The security log plugin consumes
// them; other services may subscribe to the same topic.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/keyxmakerx/sentinel/internal/metrics"
)

// TopicSecurity is the topic every security event is published on.
const TopicSecurity = "sentinel.security"

// Type classifies a security event.
type Type string

// Security event types.
const (
	LoginSucceeded  Type = "login.success"
	LoginFailed     Type = "login.failed"
	RememberMeLogin Type = "rememberme.login"
	RememberMeTheft Type = "rememberme.theft"
	Logout          Type = "logout"
)

// SecurityEvent is the JSON payload carried by each message.
type SecurityEvent struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	Username   string            `json:"username,omitempty"`
	Failure    string            `json:"failure,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher sends security events somewhere.
type Publisher interface {
	Publish(ctx context.Context, event SecurityEvent) error
}

// WatermillPublisher implements Publisher on top of a watermill publisher.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a publisher writing to TopicSecurity.
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher, topic: TopicSecurity}
}

// Publish marshals the event and publishes it. Missing IDs and timestamps
// are filled in.
func (p *WatermillPublisher) Publish(ctx context.Context, event SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("type", string(event.Type))

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Decode parses a message payload back into a SecurityEvent.
func Decode(msg *message.Message) (SecurityEvent, error) {
	var ev SecurityEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, fmt.Errorf("decoding security event %s: %w", msg.UUID, err)
	}
	return ev, nil
}

// Emit publishes without failing the caller. Authentication decisions must
// not depend on the event bus, so publish errors are only logged.
func Emit(ctx context.Context, p Publisher, event SecurityEvent) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		metrics.EventsPublished.WithLabelValues(string(event.Type), "error").Inc()
		slog.Warn("failed to publish security event",
			slog.String("type", string(event.Type)),
			slog.Any("error", err),
		)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(event.Type), "ok").Inc()
}
