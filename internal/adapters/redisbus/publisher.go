package redisbus

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen is the approximate maximum length of the event stream.
const streamMaxLen int64 = 100_000

// Publisher implements ports.EventSink. Every event goes to a Pub/Sub channel
// per kind for live consumers and to one stream that keeps the ordered history.
type Publisher struct {
	rdb    *redis.Client
	prefix string
}

// NewPublisher creates a Publisher whose keys start with prefix.
func NewPublisher(c *Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "polypredict"
	}
	return &Publisher{rdb: c.rdb, prefix: prefix}
}

// Channel returns the Pub/Sub channel for events of kind.
func (p *Publisher) Channel(kind string) string {
	return p.prefix + ":events:" + kind
}

// Stream returns the stream that receives every event.
func (p *Publisher) Stream() string {
	return p.prefix + ":events"
}

// Publish sends events in a single pipeline.
func (p *Publisher) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	pipe := p.rdb.Pipeline()
	for _, ev := range events {
		payload, err := domain.MarshalEvent(ev)
		if err != nil {
			return fmt.Errorf("redisbus.Publish: marshal %s: %w", ev.Kind(), err)
		}
		pipe.Publish(ctx, p.Channel(ev.Kind()), payload)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.Stream(),
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"kind":    ev.Kind(),
				"epoch":   ev.Metadata().Epoch,
				"payload": payload,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisbus.Publish: %d events: %w", len(events), err)
	}
	return nil
}
