package auth

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(clock *fakeClockAuth) *Signer {
	return NewSigner([]byte("signing-secret"), SignerOptions{Now: clock.Now})
}

func TestSigner_SignVerifyRoundTrip(t *testing.T) {
	clock := &fakeClockAuth{now: time.Now()}
	s := newTestSigner(clock)

	payload := map[string]any{"playerId": "P1", "type": "reboot"}
	mac, ts, err := s.Sign(payload, "user-1")
	require.NoError(t, err)

	assert.True(t, s.Verify(payload, mac, ts, "user-1"))
}

func TestSigner_DeterministicMAC(t *testing.T) {
	clock := &fakeClockAuth{now: time.Now()}
	s := newTestSigner(clock)

	payload := map[string]any{"b": 2, "a": 1}
	mac1, ts1, err := s.Sign(payload, "user-1")
	require.NoError(t, err)
	mac2, ts2, err := s.Sign(map[string]any{"a": 1, "b": 2}, "user-1")
	require.NoError(t, err)

	assert.Equal(t, ts1, ts2)
	assert.Equal(t, mac1, mac2, "same (payload, subject, timestamp) must yield identical mac")
}

func TestSigner_RejectsReplay(t *testing.T) {
	clock := &fakeClockAuth{now: time.Now()}
	s := newTestSigner(clock)

	payload := map[string]any{"x": 1}
	mac, ts, err := s.Sign(payload, "user-1")
	require.NoError(t, err)

	require.True(t, s.Verify(payload, mac, ts, "user-1"))
	assert.False(t, s.Verify(payload, mac, ts, "user-1"), "identical envelope must be rejected as replay")
}

func TestSigner_ConcurrentReplayAcceptedOnce(t *testing.T) {
	clock := &fakeClockAuth{now: time.Now()}
	s := newTestSigner(clock)

	payload := map[string]any{"playerId": "P1", "type": "reboot"}

	// Race many verifiers on the same envelope: exactly one may win.
	for round := 0; round < 50; round++ {
		mac, ts, err := s.Sign(payload, "user-1")
		require.NoError(t, err)

		const workers = 8
		var accepted atomic.Int32
		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				<-start
				if s.Verify(payload, mac, ts, "user-1") {
					accepted.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), accepted.Load(), "round %d: envelope must be accepted exactly once", round)
		clock.Advance(time.Millisecond)
	}
}

func TestSigner_ReplayEntryExpiresWithWindow(t *testing.T) {
	clock := &fakeClockAuth{now: time.Now()}
	s := newTestSigner(clock)

	payload := map[string]any{"x": 1}
	mac, ts, err := s.Sign(payload, "user-1")
	require.NoError(t, err)
	require.True(t, s.Verify(payload, mac, ts, "user-1"))

	// Once the window ends the seen-cache entry is gone, but so is the
	// timestamp's validity: the replay still fails, now on staleness.
	clock.Advance(DefaultReplayWindow + time.Second)
	assert.False(t, s.Verify(payload, mac, ts, "user-1"))
}

func TestSigner_WindowBoundaries(t *testing.T) {
	clock := &fakeClockAuth{now: time.Now()}
	s := newTestSigner(clock)

	payload := map[string]any{"x": 1}
	mac, ts, err := s.Sign(payload, "user-1")
	require.NoError(t, err)

	// now - 5min + 1s: inside the window.
	clock.Advance(DefaultReplayWindow - time.Second)
	assert.True(t, s.Verify(payload, mac, ts, "user-1"))

	// Fresh envelope, then advance past the window: rejected.
	mac2, ts2, err := s.Sign(payload, "user-2")
	require.NoError(t, err)
	clock.Advance(DefaultReplayWindow + time.Second)
	assert.False(t, s.Verify(payload, mac2, ts2, "user-2"))
}

func TestSigner_RejectsFutureTimestamps(t *testing.T) {
	clock := &fakeClockAuth{now: time.Now()}
	s := newTestSigner(clock)

	payload := map[string]any{"x": 1}
	future := clock.Now().Add(DefaultReplayWindow + time.Minute).UnixMilli()
	mac, _, err := s.Sign(payload, "user-1")
	require.NoError(t, err)

	assert.False(t, s.Verify(payload, mac, future, "user-1"))
}

func TestSigner_RejectsTamperedPayload(t *testing.T) {
	clock := &fakeClockAuth{now: time.Now()}
	s := newTestSigner(clock)

	payload := map[string]any{"amount": 10}
	mac, ts, err := s.Sign(payload, "user-1")
	require.NoError(t, err)

	tampered := map[string]any{"amount": 10000}
	assert.False(t, s.Verify(tampered, mac, ts, "user-1"))
}

func TestSigner_RejectsWrongSubject(t *testing.T) {
	clock := &fakeClockAuth{now: time.Now()}
	s := newTestSigner(clock)

	payload := map[string]any{"x": 1}
	mac, ts, err := s.Sign(payload, "user-1")
	require.NoError(t, err)

	assert.False(t, s.Verify(payload, mac, ts, "user-2"))
}
