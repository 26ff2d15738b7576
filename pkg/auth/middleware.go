package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// Header names for the signed-request envelope.
const (
	HeaderSignature = "signature"
	HeaderTimestamp = "timestamp"
)

// Bearer authenticates requests with a JWT bearer token, rejects revoked
// tids through the denylist, and injects the Principal into the context.
func Bearer(secret []byte, denylist *Denylist) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeUnauthorized(w)
				return
			}

			claims, err := ParseToken(secret, parts[1])
			if err != nil {
				slog.Debug("bearer rejected", "error", err)
				writeUnauthorized(w)
				return
			}

			if denylist != nil && denylist.IsRevoked(r.Context(), claims.ID) {
				slog.Debug("bearer rejected: token revoked", "tid", claims.ID)
				writeUnauthorized(w)
				return
			}

			principal := &Principal{
				ID:        claims.Subject,
				CompanyID: claims.CompanyID,
				Role:      claims.Role,
				TokenID:   claims.ID,
			}
			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SignedRequest verifies the anti-replay HMAC envelope on sensitive
// mutations. The request body is the signed payload; the signature and
// timestamp arrive in headers. Every failure mode produces the same 401.
//
// When skip is true (development only) verification is bypassed entirely.
func SignedRequest(signer *Signer, skip bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := GetPrincipal(r.Context())
			if err != nil {
				writeUnauthorized(w)
				return
			}

			mac := r.Header.Get(HeaderSignature)
			tsHeader := r.Header.Get(HeaderTimestamp)
			if mac == "" || tsHeader == "" {
				slog.Debug("signed request rejected: missing headers")
				writeUnauthorized(w)
				return
			}
			timestamp, err := strconv.ParseInt(tsHeader, 10, 64)
			if err != nil {
				slog.Debug("signed request rejected: bad timestamp", "error", err)
				writeUnauthorized(w)
				return
			}

			payload, body, err := readPayload(r)
			if err != nil {
				slog.Debug("signed request rejected: unreadable payload", "error", err)
				writeUnauthorized(w)
				return
			}
			// The handler still needs the body.
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !signer.Verify(payload, mac, timestamp, principal.ID) {
				slog.Debug("signed request rejected: verification failed", "subject", principal.ID)
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// readPayload consumes the request body and decodes it as the signed payload.
// An empty body signs as an empty object.
func readPayload(r *http.Request) (map[string]any, []byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}
	payload := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, nil, err
		}
	}
	return payload, body, nil
}

// RequireRole gates a handler on a minimum role.
func RequireRole(min Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := GetPrincipal(r.Context())
			if err != nil {
				writeUnauthorized(w)
				return
			}
			if !principal.Role.AtLeast(min) {
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
