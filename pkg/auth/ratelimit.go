package auth

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter holds a per-actor token bucket.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows rps requests per second with the given burst per
// actor.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (l *RateLimiter) allow(actor string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[actor]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[actor] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// RateLimit enforces per-actor rate limiting at the HTTP layer. The actor is
// the authenticated principal, falling back to the remote address. A nil
// limiter disables the middleware (dev mode, fail open).
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			actor := r.RemoteAddr
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actor = principal.CompanyID + "/" + principal.ID
			}

			if !limiter.allow(actor) {
				writeTooManyRequests(w, 1)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
