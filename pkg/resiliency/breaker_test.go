package resiliency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func failing(ctx context.Context) error    { return errBoom }
func succeeding(ctx context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := New("messaging", Options{FailureThreshold: 3, ResetTimeout: time.Minute, Now: clock.Now})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Execute(ctx, failing), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	// While open, the wrapped function must not be called.
	called := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_FallbackInvokedWhenOpen(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	var fallbackCause error
	b := New("messaging", Options{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		Now:              clock.Now,
		Fallback: func(ctx context.Context, cause error) error {
			fallbackCause = cause
			return nil
		},
	})

	ctx := context.Background()
	require.NoError(t, b.Execute(ctx, failing)) // fallback absorbs the failure
	require.ErrorIs(t, fallbackCause, errBoom)

	require.NoError(t, b.Execute(ctx, failing))
	require.ErrorIs(t, fallbackCause, ErrCircuitOpen)
}

func TestBreaker_NoFallbackRethrowsOriginalError(t *testing.T) {
	b := New("push", Options{FailureThreshold: 5})
	err := b.Execute(context.Background(), failing)
	require.ErrorIs(t, err, errBoom)
}

func TestBreaker_HalfOpenProbeRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := New("messaging", Options{FailureThreshold: 3, ResetTimeout: time.Minute, Now: clock.Now})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(time.Minute)

	// Next call is the probe; success closes the breaker.
	require.NoError(t, b.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := New("messaging", Options{FailureThreshold: 2, ResetTimeout: time.Minute, Now: clock.Now})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, failing)
	}
	clock.Advance(time.Minute)

	require.ErrorIs(t, b.Execute(ctx, failing), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// The failed probe resets the open deadline: still rejecting.
	clock.Advance(30 * time.Second)
	require.ErrorIs(t, b.Execute(ctx, succeeding), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("messaging", Options{FailureThreshold: 3})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	require.NoError(t, b.Execute(ctx, succeeding))

	// Two more failures must not trip a threshold of three.
	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HealthCheckGatesProbe(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	healthErr := errors.New("still down")
	b := New("push", Options{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		Now:              clock.Now,
		HealthCheck: func(ctx context.Context) error {
			return healthErr
		},
	})

	ctx := context.Background()
	_ = b.Execute(ctx, failing)
	clock.Advance(time.Minute)

	called := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, healthErr)
	assert.False(t, called, "wrapped function must not run when the health probe fails")
	assert.Equal(t, StateOpen, b.State())
}
