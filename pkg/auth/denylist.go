package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrKeyNotFound is returned by KVStore.Get for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// KVStore is the revocation store backend: a key/value service with per-key
// TTL. The production implementation is RedisKV.
type KVStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	// TTL returns the remaining lifetime of key. Negative values mean the key
	// is missing or carries no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, key string) error
}

const denylistPrefix = "denylist:"

// Denylist is the short-TTL set of revoked token identifiers. Entries expire
// at the token's own expiry, so a revocation never outlives its token.
type Denylist struct {
	kv  KVStore
	now func() time.Time
}

// NewDenylist wraps a KV backend. now overrides the clock for tests; pass nil
// for the wall clock.
func NewDenylist(kv KVStore, now func() time.Time) *Denylist {
	if now == nil {
		now = time.Now
	}
	return &Denylist{kv: kv, now: now}
}

// Revoke marks tid revoked until expiry. Idempotent; a no-op when the expiry
// is already past.
func (d *Denylist) Revoke(ctx context.Context, tid string, expiry time.Time) error {
	ttl := expiry.Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	if err := d.kv.Set(ctx, denylistPrefix+tid, "revoked", ttl); err != nil {
		return fmt.Errorf("denylist revoke failed: %w", err)
	}
	return nil
}

// IsRevoked reports whether tid has been revoked. On backend unavailability
// it returns false: a store outage must not lock every user out. Callers that
// need fail-closed semantics must layer their own check.
func (d *Denylist) IsRevoked(ctx context.Context, tid string) bool {
	_, err := d.kv.Get(ctx, denylistPrefix+tid)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrKeyNotFound) {
		slog.Warn("revocation store unavailable, treating token as valid", "tid", tid, "error", err)
	}
	return false
}

// PurgeExpired sweeps entries the backend should already have evicted but
// still reports. Returns the number of entries removed.
func (d *Denylist) PurgeExpired(ctx context.Context) (int, error) {
	keys, err := d.kv.Keys(ctx, denylistPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("denylist purge failed: %w", err)
	}
	purged := 0
	for _, key := range keys {
		ttl, err := d.kv.TTL(ctx, key)
		if err != nil {
			continue
		}
		if ttl < 0 {
			if err := d.kv.Del(ctx, key); err == nil {
				purged++
			}
		}
	}
	return purged, nil
}
