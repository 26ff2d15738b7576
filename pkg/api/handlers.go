package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/marquee-labs/marquee/pkg/auth"
	"github.com/marquee-labs/marquee/pkg/command"
	"github.com/marquee-labs/marquee/pkg/dispatch"
)

// Server exposes the dashboard HTTP surface: command dispatch, command
// status, and token revocation.
type Server struct {
	dispatcher *dispatch.Dispatcher
	denylist   *auth.Denylist
	jwtSecret  []byte
}

// NewServer creates the handler set.
func NewServer(dispatcher *dispatch.Dispatcher, denylist *auth.Denylist, jwtSecret []byte) *Server {
	return &Server{dispatcher: dispatcher, denylist: denylist, jwtSecret: jwtSecret}
}

// Middleware wraps a handler.
type Middleware = func(http.Handler) http.Handler

// Routes builds the route table. authn protects every /api route; signed
// additionally guards mutations with the anti-replay envelope.
func (s *Server) Routes(authn, signed Middleware) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	protect := func(h http.Handler) http.Handler { return authn(h) }
	mutate := func(h http.Handler) http.Handler { return authn(signed(h)) }

	mux.Handle("POST /api/players/{id}/commands", mutate(http.HandlerFunc(s.handleDispatch)))
	mux.Handle("GET /api/commands/{id}", protect(http.HandlerFunc(s.handleCommandStatus)))
	mux.Handle("POST /api/auth/revoke",
		mutate(auth.RequireRole(auth.RoleCompanyAdmin)(http.HandlerFunc(s.handleRevoke))))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// dispatchRequest is the command submission body.
type dispatchRequest struct {
	Type    command.Type   `json:"type"`
	Payload map[string]any `json:"payload"`
}

// dispatchResponse returns the allocated command id. A publish failure still
// yields the id; callers poll status to learn the outcome.
type dispatchResponse struct {
	ID     string         `json:"id"`
	Status command.Status `json:"status"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	playerID := r.PathValue("id")

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if !req.Type.Valid() {
		WriteBadRequest(w, "unknown command type")
		return
	}

	id, err := s.dispatcher.Send(r.Context(), playerID, req.Type, req.Payload)
	if err != nil {
		if id == "" {
			WriteBadRequest(w, err.Error())
			return
		}
		WriteInternal(w, err)
		return
	}

	cmd, _ := s.dispatcher.Status(id)
	WriteJSON(w, http.StatusAccepted, dispatchResponse{ID: id, Status: cmd.Status})
}

func (s *Server) handleCommandStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cmd, ok := s.dispatcher.Status(id)
	if !ok {
		WriteNotFound(w, "command not found")
		return
	}
	WriteJSON(w, http.StatusOK, cmd)
}

// revokeRequest revokes a credential. Either the raw token or an explicit
// (tid, expiresAt) pair is accepted.
type revokeRequest struct {
	Token     string    `json:"token,omitempty"`
	TokenID   string    `json:"tokenId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	tid := req.TokenID
	expiresAt := req.ExpiresAt
	if req.Token != "" {
		claims, err := auth.ParseToken(s.jwtSecret, req.Token)
		if err != nil {
			WriteBadRequest(w, "invalid token")
			return
		}
		tid = claims.ID
		if claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}
	}
	if tid == "" {
		WriteBadRequest(w, "token or tokenId required")
		return
	}
	if expiresAt.IsZero() {
		WriteBadRequest(w, "expiresAt required")
		return
	}

	if err := s.denylist.Revoke(r.Context(), tid, expiresAt); err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked", "tid": tid})
}
