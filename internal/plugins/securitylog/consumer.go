package securitylog

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/events"
)

// handlerName identifies the consumer in watermill logs.
const handlerName = "securitylog.record"

// Listener is told about every event after it has been recorded. Listener
// errors are logged and never cause redelivery.
type Listener func(ctx context.Context, ev events.SecurityEvent) error

// Consumer stores every event published on events.TopicSecurity.
type Consumer struct {
	router *message.Router
}

// NewConsumer wires a watermill router that feeds sub into svc. Storage
// errors are retried with backoff; undecodable messages are dropped.
func NewConsumer(sub message.Subscriber, svc Service, logger watermill.LoggerAdapter, listeners ...Listener) (*Consumer, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			Multiplier:      2,
			Logger:          logger,
		}.Middleware,
	)

	router.AddNoPublisherHandler(handlerName, events.TopicSecurity, sub, recordHandler(svc, listeners))
	return &Consumer{router: router}, nil
}

// recordHandler decodes one message and records it.
func recordHandler(svc Service, listeners []Listener) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ev, err := events.Decode(msg)
		if err != nil {
			slog.Warn("dropping undecodable security event",
				slog.String("message_uuid", msg.UUID),
				slog.Any("error", err),
			)
			return nil
		}

		err = svc.Record(msg.Context(), ev)
		if err != nil {
			if apperror.SafeCode(err) < 500 {
				slog.Warn("dropping invalid security event",
					slog.String("message_uuid", msg.UUID),
					slog.Any("error", err),
				)
				return nil
			}
			return err
		}

		for _, l := range listeners {
			if err := l(msg.Context(), ev); err != nil {
				slog.Warn("security event listener failed",
					slog.String("event_type", string(ev.Type)),
					slog.Any("error", err),
				)
			}
		}
		return nil
	}
}

// Run blocks consuming until ctx is cancelled or Close is called.
func (c *Consumer) Run(ctx context.Context) error {
	return c.router.Run(ctx)
}

// Running is closed once the consumer is subscribed.
func (c *Consumer) Running() chan struct{} {
	return c.router.Running()
}

// Close stops the consumer.
func (c *Consumer) Close() error {
	return c.router.Close()
}
