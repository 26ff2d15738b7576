package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Redis implements Fabric over redis pub/sub. Each subscription runs one
// goroutine pumping the channel until closed.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing redis client. The caller owns the client's
// lifecycle; the same client may back the revocation store.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Publish sends the envelope on the named channel.
func (r *Redis) Publish(ctx context.Context, channel, event string, body []byte) error {
	msg := Message{Event: event, Body: body}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("fabric: marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("fabric: publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe starts delivering messages on the channel to handler. The
// subscription lives until Close is called or ctx is cancelled.
func (r *Redis) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel)

	// Force the subscription onto the wire before returning so callers can
	// publish immediately after.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("fabric: subscribe to %s: %w", channel, err)
	}

	sub := &redisSubscription{pubsub: pubsub}
	go sub.pump(ctx, channel, handler)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
}

func (s *redisSubscription) pump(ctx context.Context, channel string, handler Handler) {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var envelope Message
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				slog.Warn("fabric: dropping malformed message", "channel", channel, "error", err)
				continue
			}
			handler(envelope.Event, envelope.Body)
		}
	}
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
