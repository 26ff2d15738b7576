package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/marquee-labs/marquee/pkg/command"
	"github.com/marquee-labs/marquee/pkg/fabric"
	"github.com/marquee-labs/marquee/pkg/observability"
)

// Ack is the acknowledgment envelope players publish.
type Ack struct {
	CommandID string         `json:"commandId"`
	Status    command.Status `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// AckEvent is handed to the registered acknowledgment callback.
type AckEvent struct {
	CommandID string
	Status    command.Status
	Error     string
	Timestamp time.Time
}

// AckCallback observes every acknowledgment that advanced the registry.
type AckCallback func(AckEvent)

// AckListener consumes the dedicated acknowledgment channel and resolves
// registry entries. Late and duplicate acks are discarded silently: the
// fabric may re-deliver after a timeout already fired.
type AckListener struct {
	fab      fabric.Fabric
	registry *command.Registry
	metrics  *observability.Metrics
	callback AckCallback
}

// NewAckListener creates a listener. callback may be nil.
func NewAckListener(fab fabric.Fabric, registry *command.Registry, metrics *observability.Metrics, callback AckCallback) *AckListener {
	return &AckListener{fab: fab, registry: registry, metrics: metrics, callback: callback}
}

// Start subscribes to the acknowledgment channel. The returned subscription
// stops the listener when closed.
func (l *AckListener) Start(ctx context.Context) (fabric.Subscription, error) {
	return l.fab.Subscribe(ctx, fabric.AckChannel, l.handle)
}

func (l *AckListener) handle(event string, body []byte) {
	var ack Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		slog.Warn("dropping malformed ack", "event", event, "error", err)
		return
	}
	// Players may only report acked or failed; timeout is owned by the
	// dispatcher's timer.
	if ack.CommandID == "" || (ack.Status != command.StatusAcked && ack.Status != command.StatusFailed) {
		slog.Warn("dropping invalid ack", "commandId", ack.CommandID, "status", ack.Status)
		return
	}

	ctx := context.Background()
	if _, tracked := l.registry.Get(ack.CommandID); !tracked {
		slog.Debug("dropping ack for unknown command", "commandId", ack.CommandID)
		l.metrics.AckDropped(ctx)
		return
	}

	won, err := l.registry.Resolve(ack.CommandID, ack.Status, ack.Error)
	if err != nil {
		if errors.Is(err, command.ErrAlreadyResolved) || errors.Is(err, command.ErrUnknownCommand) {
			// Late or duplicate: the timeout (or an earlier ack) won the race.
			slog.Debug("dropping late ack", "commandId", ack.CommandID, "status", ack.Status)
			l.metrics.AckDropped(ctx)
			return
		}
		slog.Error("ack resolution failed", "commandId", ack.CommandID, "error", err)
		return
	}
	if !won {
		// Duplicate delivery of an ack that already resolved the command.
		l.metrics.AckDropped(ctx)
		return
	}
	l.metrics.CommandResolved(ctx, string(ack.Status))

	if l.callback != nil {
		l.callback(AckEvent{
			CommandID: ack.CommandID,
			Status:    ack.Status,
			Error:     ack.Error,
			Timestamp: time.Now().UTC(),
		})
	}
}
