// ABOUTME: Redis Streams destination for relayed events via a Watermill publisher
// ABOUTME: Each envelope becomes one stream entry with kind and event type in metadata

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

// RedisSink appends envelopes to a Redis stream.
type RedisSink struct {
	pub    message.Publisher
	stream string
	client *redis.Client
}

// NewRedisSink connects a Watermill Redis Streams publisher to addr.
func NewRedisSink(addr, stream string, logger *slog.Logger) (*RedisSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, watermill.NewSlogLogger(logger.With("component", "relay-redis")))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("creating redis stream publisher: %w", err)
	}

	sink := newRedisSink(pub, stream)
	sink.client = client
	return sink, nil
}

func newRedisSink(pub message.Publisher, stream string) *RedisSink {
	return &RedisSink{pub: pub, stream: stream}
}

func (s *RedisSink) Name() string { return "redis:" + s.stream }

func (s *RedisSink) Deliver(ctx context.Context, d Delivery) error {
	msg := message.NewMessage(d.ID, d.Body)
	msg.Metadata.Set("type", string(d.Kind))
	msg.Metadata.Set("event_type", d.EventType)
	msg.SetContext(ctx)

	if err := s.pub.Publish(s.stream, msg); err != nil {
		return fmt.Errorf("publishing to stream %s: %w", s.stream, err)
	}
	return nil
}

// Close releases the publisher and its connection.
func (s *RedisSink) Close() error {
	var errs []error
	if err := s.pub.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
