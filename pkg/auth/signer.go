package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/marquee-labs/marquee/pkg/canonical"
)

// DefaultReplayWindow is the acceptance window for signed envelopes.
const DefaultReplayWindow = 5 * time.Minute

// SignerOptions tune a Signer. Zero values use the defaults.
type SignerOptions struct {
	// Window bounds |now - timestamp| for accepted envelopes. Default 5m.
	Window time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Signer computes and verifies HMAC-SHA256 request envelopes. Envelopes are
// single-use within the window: a (mac, subject) pair that verified once is
// rejected on replay until its window expires.
type Signer struct {
	secret []byte
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // (mac|subject) -> window expiry
}

// NewSigner creates a signer keyed with secret.
func NewSigner(secret []byte, opts SignerOptions) *Signer {
	if opts.Window <= 0 {
		opts.Window = DefaultReplayWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Signer{
		secret: secret,
		window: opts.Window,
		now:    opts.Now,
		seen:   make(map[string]time.Time),
	}
}

// Sign computes the MAC for payload on behalf of subject. The returned
// timestamp is milliseconds since epoch and is bound into the MAC.
func (s *Signer) Sign(payload map[string]any, subject string) (mac string, timestamp int64, err error) {
	timestamp = s.now().UnixMilli()
	mac, err = s.computeMAC(payload, subject, timestamp)
	return mac, timestamp, err
}

// Verify checks a signed envelope. It returns false for a stale timestamp, a
// replayed (mac, subject) pair, or a MAC mismatch; callers surface all three
// as a single unauthorized signal to avoid oracle behavior.
func (s *Signer) Verify(payload map[string]any, mac string, timestamp int64, subject string) bool {
	now := s.now()

	skew := now.UnixMilli() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > s.window.Milliseconds() {
		return false
	}

	expected, err := s.computeMAC(payload, subject, timestamp)
	if err != nil {
		return false
	}

	// Replay check and acceptance record share one critical section so two
	// concurrent copies of the same envelope cannot both pass.
	seenKey := mac + "|" + subject

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeSeenLocked(now)
	if _, replayed := s.seen[seenKey]; replayed {
		return false
	}
	if !hmac.Equal([]byte(mac), []byte(expected)) {
		return false
	}
	s.seen[seenKey] = now.Add(s.window)
	return true
}

func (s *Signer) computeMAC(payload map[string]any, subject string, timestamp int64) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	envelope := map[string]any{
		"payload":   payload,
		"subject":   subject,
		"timestamp": timestamp,
	}
	data, err := canonical.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("envelope canonicalization failed: %w", err)
	}
	h := hmac.New(sha256.New, s.secret)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// purgeSeenLocked drops seen-cache entries whose window has ended. Callers
// hold s.mu.
func (s *Signer) purgeSeenLocked(now time.Time) {
	for key, expiry := range s.seen {
		if now.After(expiry) {
			delete(s.seen, key)
		}
	}
}
