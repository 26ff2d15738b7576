// Package resiliency provides a per-service circuit breaker used to gate
// outbound calls to the messaging fabric and the push-notification service.
package resiliency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the breaker's current position in its lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned (or handed to the fallback as cause) when a call
// is rejected without invoking the wrapped function.
var ErrCircuitOpen = errors.New("circuit open")

// Fallback is invoked with the original cause when the wrapped call fails or
// is rejected. Its return value becomes the result of Execute.
type Fallback func(ctx context.Context, cause error) error

// Options configure a Breaker. Zero values fall back to the defaults.
type Options struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker. Default 3.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before allowing a
	// probe. Default 60s.
	ResetTimeout time.Duration
	// Fallback, if set, handles rejected and failed calls.
	Fallback Fallback
	// HealthCheck, if set, is consulted before the half-open probe. A failing
	// health check re-opens the breaker without calling the wrapped function.
	HealthCheck func(ctx context.Context) error
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Breaker implements a closed/open/half-open state machine for a single
// named downstream service.
type Breaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	fallback     Fallback
	health       func(ctx context.Context) error
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New creates a breaker for the named service.
func New(name string, opts Options) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Breaker{
		name:         name,
		threshold:    opts.FailureThreshold,
		resetTimeout: opts.ResetTimeout,
		fallback:     opts.Fallback,
		health:       opts.HealthCheck,
		now:          opts.Now,
		state:        StateClosed,
	}
}

// Name returns the service name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state. Open breakers that have passed their reset
// deadline still report open until the next Execute promotes them.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn under the breaker. While open and before the reset deadline
// the fallback is invoked (or ErrCircuitOpen returned) and fn is never called.
// The first call after the reset deadline is a half-open probe: success closes
// the breaker, failure re-opens it. The original error is never swallowed when
// no fallback is configured.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		cause := fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		if b.fallback != nil {
			return b.fallback(ctx, cause)
		}
		return cause
	}

	if b.probing() && b.health != nil {
		if err := b.health(ctx); err != nil {
			b.failure()
			cause := fmt.Errorf("health check failed for %s: %w", b.name, err)
			if b.fallback != nil {
				return b.fallback(ctx, cause)
			}
			return cause
		}
	}

	if err := fn(ctx); err != nil {
		b.failure()
		if b.fallback != nil {
			return b.fallback(ctx, err)
		}
		return err
	}

	b.success()
	return nil
}

// allow reports whether a call may proceed, promoting open to half-open once
// the reset timeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.resetTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

func (b *Breaker) probing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateHalfOpen
}

func (b *Breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
	}
}

func (b *Breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}
