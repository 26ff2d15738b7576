// Package fabric abstracts the pub/sub transport between the dashboard and
// player devices. Channels are per-topic; delivery is at-least-once, so
// consumers must tolerate duplicates.
package fabric

import (
	"context"
	"encoding/json"
)

// Message is the wire envelope carried on every channel.
type Message struct {
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body"`
}

// Handler receives messages delivered on a subscribed channel.
type Handler func(event string, body []byte)

// Subscription is a handle on an active channel subscription.
type Subscription interface {
	// Close stops delivery and releases the channel.
	Close() error
}

// Fabric is the two-operation messaging adapter. Implementations must be safe
// for concurrent use.
type Fabric interface {
	Publish(ctx context.Context, channel, event string, body []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
}

// PlayerChannel names the per-player command channel.
func PlayerChannel(playerID string) string {
	return "player:" + playerID
}

// AckChannel is the dedicated acknowledgment channel players publish to.
const AckChannel = "command-acknowledgments"
