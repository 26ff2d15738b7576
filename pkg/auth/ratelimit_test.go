package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedRequest(p *Principal) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/commands/x", nil)
	if p != nil {
		req = req.WithContext(WithPrincipal(req.Context(), p))
	}
	return req
}

func TestRateLimit_PerPrincipalBuckets(t *testing.T) {
	next, _ := okHandler()
	handler := RateLimit(NewRateLimiter(0.001, 1))(next)

	alice := &Principal{ID: "alice", CompanyID: "co-1", Role: RoleUser}
	bob := &Principal{ID: "bob", CompanyID: "co-1", Role: RoleUser}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(alice))
	require.Equal(t, http.StatusOK, rec.Code)

	// Same principal, bucket exhausted.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(alice))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// A different principal has its own bucket.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(bob))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_BehindBearerUsesPrincipal(t *testing.T) {
	raw1, _, err := IssueToken(testSecret, "user-1", "co-1", RoleUser, time.Hour)
	require.NoError(t, err)
	raw2, _, err := IssueToken(testSecret, "user-2", "co-1", RoleUser, time.Hour)
	require.NoError(t, err)

	next, _ := okHandler()
	handler := Bearer(testSecret, nil)(RateLimit(NewRateLimiter(0.001, 1))(next))

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/commands/x", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.RemoteAddr = "10.0.0.1:1234" // shared address must not be the actor
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send(raw1))
	require.Equal(t, http.StatusTooManyRequests, send(raw1))
	assert.Equal(t, http.StatusOK, send(raw2), "distinct principals behind one address get distinct buckets")
}

func TestRateLimit_UnauthenticatedFallsBackToAddress(t *testing.T) {
	next, _ := okHandler()
	handler := RateLimit(NewRateLimiter(0.001, 1))(next)

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send("10.0.0.1:1000"))
	require.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000"))
}

func TestRateLimit_NilLimiterFailsOpen(t *testing.T) {
	next, called := okHandler()
	handler := RateLimit(nil)(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *called)
}
