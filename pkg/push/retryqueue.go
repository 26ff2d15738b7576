package push

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/marquee-labs/marquee/pkg/command"
	"github.com/marquee-labs/marquee/pkg/observability"
	"github.com/marquee-labs/marquee/pkg/resiliency"
)

// Item is one failed notification awaiting redelivery. The ID is derived
// from (recipients, title, body), which makes enqueueing idempotent.
type Item struct {
	ID              string       `json:"id"`
	Recipients      []string     `json:"recipients"`
	Notification    Notification `json:"notification"`
	FirstEnqueuedAt time.Time    `json:"firstEnqueuedAt"`
	LastAttemptAt   time.Time    `json:"lastAttemptAt"`
}

// Store persists retry items in FIFO insertion order. Durability is
// best-effort: the in-memory store loses items on restart and the SQL store
// survives, but neither promises exactly-once redelivery.
type Store interface {
	Append(ctx context.Context, item Item) error
	List(ctx context.Context) ([]Item, error)
	Remove(ctx context.Context, id string) error
	Touch(ctx context.Context, id string, attemptAt time.Time) error
	Count(ctx context.Context) (int, error)
}

// QueueOptions tune a RetryQueue. Zero values use the defaults.
type QueueOptions struct {
	// MaxAge drops items older than this at drain time. Default 24h.
	MaxAge time.Duration
	// Grace skips items younger than this so a transient failure gets a
	// moment to clear. Default 1m.
	Grace time.Duration
	// Cap bounds the queue; the oldest item is dropped on overflow.
	// Default 10000.
	Cap int
	// DrainInterval is the Run loop period. Default 5m.
	DrainInterval time.Duration
	// OpsTokens receive dispatch-failure notifications.
	OpsTokens []string
	// Rate paces deliveries within a drain. Nil disables pacing.
	Rate *rate.Limiter
	// Metrics, if set, tracks queue depth.
	Metrics *observability.Metrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// RetryQueue buffers notifications that failed to deliver and retries them
// on a schedule, gated by the push service's circuit breaker.
type RetryQueue struct {
	store   Store
	sender  Sender
	breaker *resiliency.Breaker
	opts    QueueOptions
}

// NewRetryQueue creates a queue. sender must be the raw (non-breaker-wrapped)
// sender; the drain gates on breaker state instead of going through it.
func NewRetryQueue(store Store, sender Sender, breaker *resiliency.Breaker, opts QueueOptions) *RetryQueue {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.Grace <= 0 {
		opts.Grace = time.Minute
	}
	if opts.Cap <= 0 {
		opts.Cap = 10000
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RetryQueue{store: store, sender: sender, breaker: breaker, opts: opts}
}

// itemID derives the idempotency key for (recipients, notification).
func itemID(recipients []string, n Notification) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(recipients, ",")))
	h.Write([]byte{0})
	h.Write([]byte(n.Title))
	h.Write([]byte{0})
	h.Write([]byte(n.Body))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Enqueue adds a failed notification. Re-enqueueing the same (recipients,
// notification) while an item is still queued is a no-op. On overflow the
// oldest item is dropped.
func (q *RetryQueue) Enqueue(ctx context.Context, recipients []string, n Notification) error {
	id := itemID(recipients, n)

	existing, err := q.store.List(ctx)
	if err != nil {
		return fmt.Errorf("retry queue list: %w", err)
	}
	for _, item := range existing {
		if item.ID == id {
			return nil
		}
	}

	if len(existing) >= q.opts.Cap {
		oldest := existing[0]
		slog.Warn("retry queue full, dropping oldest item", "id", oldest.ID, "age", q.opts.Now().Sub(oldest.FirstEnqueuedAt))
		if err := q.store.Remove(ctx, oldest.ID); err != nil {
			return fmt.Errorf("retry queue overflow eviction: %w", err)
		}
		q.opts.Metrics.RetryQueueDelta(ctx, -1)
	}

	item := Item{
		ID:              id,
		Recipients:      recipients,
		Notification:    n,
		FirstEnqueuedAt: q.opts.Now(),
	}
	if err := q.store.Append(ctx, item); err != nil {
		return fmt.Errorf("retry queue append: %w", err)
	}
	q.opts.Metrics.RetryQueueDelta(ctx, 1)
	return nil
}

// NotifyPublishFailure implements dispatch.FailureNotifier: a command that
// could not reach the fabric becomes an operator notification.
func (q *RetryQueue) NotifyPublishFailure(ctx context.Context, cmd command.Command, cause error) {
	if len(q.opts.OpsTokens) == 0 {
		return
	}
	n := Notification{
		Title: "Command delivery failed",
		Body:  fmt.Sprintf("%s command to player %s could not be published", cmd.Type, cmd.PlayerID),
		Data: map[string]string{
			"commandId": cmd.ID,
			"playerId":  cmd.PlayerID,
			"type":      string(cmd.Type),
			"error":     cause.Error(),
		},
	}
	if err := q.Enqueue(ctx, q.opts.OpsTokens, n); err != nil {
		slog.Error("failed to enqueue dispatch-failure notification", "commandId", cmd.ID, "error", err)
	}
}

// Drain attempts redelivery of every eligible item. It skips entirely while
// the push circuit is open, skips items inside the grace period, and drops
// items past max age with a warning.
func (q *RetryQueue) Drain(ctx context.Context) error {
	if q.breaker != nil && q.breaker.State() == resiliency.StateOpen {
		slog.Debug("skipping retry drain, circuit open", "service", q.breaker.Name())
		return nil
	}

	items, err := q.store.List(ctx)
	if err != nil {
		return fmt.Errorf("retry queue drain list: %w", err)
	}

	now := q.opts.Now()
	for _, item := range items {
		age := now.Sub(item.FirstEnqueuedAt)
		if age > q.opts.MaxAge {
			slog.Warn("dropping expired retry item", "id", item.ID, "age", age)
			if err := q.store.Remove(ctx, item.ID); err == nil {
				q.opts.Metrics.RetryQueueDelta(ctx, -1)
			}
			continue
		}
		if age < q.opts.Grace {
			continue
		}

		if q.opts.Rate != nil {
			if err := q.opts.Rate.Wait(ctx); err != nil {
				return err
			}
		}

		if err := q.sender.Send(ctx, item.Recipients, item.Notification); err != nil {
			slog.Debug("retry delivery failed, requeueing", "id", item.ID, "error", err)
			_ = q.store.Touch(ctx, item.ID, now)
			continue
		}
		if err := q.store.Remove(ctx, item.ID); err == nil {
			q.opts.Metrics.RetryQueueDelta(ctx, -1)
		}
	}
	return nil
}

// Run drains the queue on the configured interval until ctx is cancelled.
func (q *RetryQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.opts.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Drain(ctx); err != nil {
				slog.Error("retry queue drain failed", "error", err)
			}
		}
	}
}

// Len reports the number of queued items.
func (q *RetryQueue) Len(ctx context.Context) (int, error) {
	return q.store.Count(ctx)
}
