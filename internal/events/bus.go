package events

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/sentinel/internal/config"
)

// Bus bundles the publisher and subscriber of one backend.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Logger     watermill.LoggerAdapter

	// shared is set when one value serves as both publisher and subscriber.
	shared bool
}

// NewBus builds the configured backend: an in-process gochannel pub/sub, or
// Redis Streams sharing the application's Redis client.
func NewBus(cfg config.EventsConfig, rdb *redis.Client) (*Bus, error) {
	logger := watermill.NewSlogLogger(slog.Default())

	switch cfg.Backend {
	case config.EventsRedis:
		pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: rdb}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating redis stream publisher: %w", err)
		}
		sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        rdb,
			ConsumerGroup: cfg.ConsumerGroup,
		}, logger)
		if err != nil {
			pub.Close()
			return nil, fmt.Errorf("creating redis stream subscriber: %w", err)
		}
		return &Bus{Publisher: pub, Subscriber: sub, Logger: logger}, nil

	default:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		return &Bus{Publisher: ch, Subscriber: ch, Logger: logger, shared: true}, nil
	}
}

// Close shuts both halves down.
func (b *Bus) Close() error {
	perr := b.Publisher.Close()
	if b.shared {
		return perr
	}
	if err := b.Subscriber.Close(); err != nil {
		return err
	}
	return perr
}
