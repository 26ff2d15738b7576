// Package dispatch routes operator commands to player devices over the
// messaging fabric and tracks them until acknowledgment or timeout.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marquee-labs/marquee/pkg/command"
	"github.com/marquee-labs/marquee/pkg/fabric"
	"github.com/marquee-labs/marquee/pkg/observability"
	"github.com/marquee-labs/marquee/pkg/resiliency"
)

// DefaultAckTimeout is how long a command waits for an acknowledgment.
const DefaultAckTimeout = 30 * time.Second

// TimeoutError is the error recorded on commands that expire unacknowledged.
const TimeoutError = "Command acknowledgment timeout"

// CommandEvent is the event name carrying command envelopes on player channels.
const CommandEvent = "command"

// FailureNotifier is told about publish failures so the envelope can be
// queued for later operator notification. Implemented by push.RetryQueue.
type FailureNotifier interface {
	NotifyPublishFailure(ctx context.Context, cmd command.Command, cause error)
}

// Config tunes a Dispatcher.
type Config struct {
	// AckTimeout overrides DefaultAckTimeout.
	AckTimeout time.Duration
	// Notifier, if set, receives publish failures.
	Notifier FailureNotifier
	// Metrics, if set, records dispatch instrumentation.
	Metrics *observability.Metrics
}

// Dispatcher issues commands on per-player channels, guarded by the
// "messaging" circuit breaker, and owns the per-command timeout timers.
type Dispatcher struct {
	fab        fabric.Fabric
	breaker    *resiliency.Breaker
	registry   *command.Registry
	notifier   FailureNotifier
	metrics    *observability.Metrics
	ackTimeout time.Duration

	mu         sync.Mutex
	playerSubs map[string]fabric.Subscription
}

// wireCommand is the JSON envelope published to players.
type wireCommand struct {
	ID        string         `json:"id"`
	Type      command.Type   `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp string         `json:"timestamp"`
	Status    command.Status `json:"status"`
}

// New creates a Dispatcher. breaker should guard the "messaging" service.
func New(fab fabric.Fabric, breaker *resiliency.Breaker, registry *command.Registry, cfg Config) *Dispatcher {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	return &Dispatcher{
		fab:        fab,
		breaker:    breaker,
		registry:   registry,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		ackTimeout: cfg.AckTimeout,
		playerSubs: make(map[string]fabric.Subscription),
	}
}

// Send validates and publishes a command to the player, returning its id.
// The command starts pending; on publish failure it is marked failed
// synchronously and the id is still returned so callers can inspect it.
func (d *Dispatcher) Send(ctx context.Context, playerID string, typ command.Type, payload map[string]any) (string, error) {
	if playerID == "" {
		return "", fmt.Errorf("player id required")
	}
	if err := command.ValidatePayload(typ, payload); err != nil {
		return "", err
	}
	if payload == nil {
		payload = map[string]any{}
	}

	cmd := command.Command{
		ID:       command.NewID(),
		PlayerID: playerID,
		Type:     typ,
		Payload:  payload,
		IssuedAt: time.Now().UTC(),
		Status:   command.StatusPending,
	}
	if err := d.registry.Create(cmd); err != nil {
		return "", fmt.Errorf("register command: %w", err)
	}

	envelope := wireCommand{
		ID:        cmd.ID,
		Type:      cmd.Type,
		Payload:   cmd.Payload,
		Timestamp: cmd.IssuedAt.Format(time.RFC3339Nano),
		Status:    command.StatusPending,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		_, _ = d.registry.Resolve(cmd.ID, command.StatusFailed, err.Error())
		return cmd.ID, fmt.Errorf("encode command: %w", err)
	}

	channel := fabric.PlayerChannel(playerID)
	publishErr := d.breaker.Execute(ctx, func(ctx context.Context) error {
		return d.fab.Publish(ctx, channel, CommandEvent, raw)
	})
	d.metrics.CommandDispatched(ctx, playerID, string(typ))

	if publishErr != nil {
		slog.Warn("command publish failed", "commandId", cmd.ID, "playerId", playerID, "error", publishErr)
		_, _ = d.registry.Resolve(cmd.ID, command.StatusFailed, publishErr.Error())
		d.metrics.CommandResolved(ctx, string(command.StatusFailed))
		if d.notifier != nil {
			d.notifier.NotifyPublishFailure(ctx, cmd, publishErr)
		}
		return cmd.ID, nil
	}

	timer := time.AfterFunc(d.ackTimeout, func() {
		if won, err := d.registry.Resolve(cmd.ID, command.StatusTimeout, TimeoutError); err == nil && won {
			slog.Debug("command timed out", "commandId", cmd.ID, "playerId", playerID)
			d.metrics.CommandResolved(context.Background(), string(command.StatusTimeout))
		}
	})
	d.registry.SetTimeout(cmd.ID, timer)

	slog.Debug("command dispatched", "commandId", cmd.ID, "playerId", playerID, "type", typ)
	return cmd.ID, nil
}

// Status returns a snapshot of the command, if the registry still tracks it.
func (d *Dispatcher) Status(id string) (command.Command, bool) {
	return d.registry.Get(id)
}

// Subscribe attaches a one-shot callback fired when the command resolves.
func (d *Dispatcher) Subscribe(id string, fn command.Subscriber) error {
	return d.registry.Subscribe(id, fn)
}

// UpdateURL pushes a new display URL to the player.
func (d *Dispatcher) UpdateURL(ctx context.Context, playerID, url string) (string, error) {
	return d.Send(ctx, playerID, command.TypeUpdateURL, map[string]any{"url": url})
}

// Reboot restarts the player device.
func (d *Dispatcher) Reboot(ctx context.Context, playerID string) (string, error) {
	return d.Send(ctx, playerID, command.TypeReboot, map[string]any{})
}

// Screenshot asks the player to capture and upload its screen.
func (d *Dispatcher) Screenshot(ctx context.Context, playerID string) (string, error) {
	return d.Send(ctx, playerID, command.TypeScreenshot, map[string]any{})
}

// UpdateApp triggers a player application update. version may be empty for
// latest.
func (d *Dispatcher) UpdateApp(ctx context.Context, playerID, version string) (string, error) {
	payload := map[string]any{}
	if version != "" {
		payload["version"] = version
	}
	return d.Send(ctx, playerID, command.TypeUpdate, payload)
}

// UpdateSystem triggers a player OS update.
func (d *Dispatcher) UpdateSystem(ctx context.Context, playerID, version string) (string, error) {
	payload := map[string]any{}
	if version != "" {
		payload["version"] = version
	}
	return d.Send(ctx, playerID, command.TypeSystemUpdate, payload)
}

// SubscribePlayer observes a player's event stream (registration, heartbeat,
// commandAck, screenshotStatus). One subscription per player.
func (d *Dispatcher) SubscribePlayer(ctx context.Context, playerID string, handler fabric.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.playerSubs[playerID]; exists {
		return fmt.Errorf("already subscribed to player %s", playerID)
	}
	sub, err := d.fab.Subscribe(ctx, fabric.PlayerChannel(playerID), handler)
	if err != nil {
		return fmt.Errorf("subscribe player %s: %w", playerID, err)
	}
	d.playerSubs[playerID] = sub
	return nil
}

// UnsubscribePlayer closes the player's event stream and forgets the handle.
func (d *Dispatcher) UnsubscribePlayer(playerID string) error {
	d.mu.Lock()
	sub, exists := d.playerSubs[playerID]
	delete(d.playerSubs, playerID)
	d.mu.Unlock()
	if !exists {
		return nil
	}
	return sub.Close()
}

// Close drops every player subscription.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	subs := d.playerSubs
	d.playerSubs = make(map[string]fabric.Subscription)
	d.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
}
