// Package observability provides dispatch-specific instrumentation helpers.
// The library records against the global meter provider; installing an
// exporter is the binary's concern.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Semantic attributes for command dispatch.
var (
	AttrPlayerID    = attribute.Key("marquee.player.id")
	AttrCommandType = attribute.Key("marquee.command.type")
	AttrStatus      = attribute.Key("marquee.command.status")
	AttrService     = attribute.Key("marquee.breaker.service")
)

// Metrics holds the dispatch subsystem's instruments.
type Metrics struct {
	commandsDispatched metric.Int64Counter
	commandsResolved   metric.Int64Counter
	acksDropped        metric.Int64Counter
	retryQueueDepth    metric.Int64UpDownCounter
}

// NewMetrics registers the dispatch instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("marquee.dispatch")
	m := &Metrics{}

	var err error
	m.commandsDispatched, err = meter.Int64Counter("marquee.commands.dispatched",
		metric.WithDescription("Commands published to the messaging fabric"),
		metric.WithUnit("{command}"))
	if err != nil {
		return nil, fmt.Errorf("metrics init: %w", err)
	}
	m.commandsResolved, err = meter.Int64Counter("marquee.commands.resolved",
		metric.WithDescription("Commands reaching a terminal status"),
		metric.WithUnit("{command}"))
	if err != nil {
		return nil, fmt.Errorf("metrics init: %w", err)
	}
	m.acksDropped, err = meter.Int64Counter("marquee.acks.dropped",
		metric.WithDescription("Late or duplicate acknowledgments discarded"),
		metric.WithUnit("{ack}"))
	if err != nil {
		return nil, fmt.Errorf("metrics init: %w", err)
	}
	m.retryQueueDepth, err = meter.Int64UpDownCounter("marquee.retry_queue.depth",
		metric.WithDescription("Items waiting in the notification retry queue"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, fmt.Errorf("metrics init: %w", err)
	}
	return m, nil
}

// CommandDispatched records a publish attempt for a command.
func (m *Metrics) CommandDispatched(ctx context.Context, playerID, commandType string) {
	if m == nil {
		return
	}
	m.commandsDispatched.Add(ctx, 1, metric.WithAttributes(
		AttrPlayerID.String(playerID),
		AttrCommandType.String(commandType),
	))
}

// CommandResolved records a terminal transition.
func (m *Metrics) CommandResolved(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.commandsResolved.Add(ctx, 1, metric.WithAttributes(AttrStatus.String(status)))
}

// AckDropped records a late or duplicate acknowledgment.
func (m *Metrics) AckDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.acksDropped.Add(ctx, 1)
}

// RetryQueueDelta adjusts the retry queue depth gauge.
func (m *Metrics) RetryQueueDelta(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.retryQueueDepth.Add(ctx, delta)
}
