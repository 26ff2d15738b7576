// Package push delivers operator notifications through an FCM-style HTTP
// endpoint and owns the durable retry queue for failed deliveries.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notification is the displayable payload sent to operator devices.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Sender delivers a notification to a set of device tokens.
type Sender interface {
	Send(ctx context.Context, tokens []string, n Notification) error
}

// HTTPSenderConfig configures the push endpoint credentials.
type HTTPSenderConfig struct {
	Endpoint  string
	APIKey    string
	VAPIDKey  string
	ProjectID string
}

// HTTPSender posts notifications to an FCM-compatible endpoint.
type HTTPSender struct {
	cfg    HTTPSenderConfig
	client *http.Client
}

// NewHTTPSender creates a sender. client may be nil for a default with a 30s
// timeout.
func NewHTTPSender(cfg HTTPSenderConfig, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSender{cfg: cfg, client: client}
}

type pushRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    Notification     `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
	ProjectID       string            `json:"project_id,omitempty"`
}

type pushResponse struct {
	Success int    `json:"success"`
	Failure int    `json:"failure"`
	Error   string `json:"error,omitempty"`
}

// Send posts the notification. A non-2xx status or a response reporting zero
// successes is an error.
func (s *HTTPSender) Send(ctx context.Context, tokens []string, n Notification) error {
	if len(tokens) == 0 {
		return fmt.Errorf("push: no recipient tokens")
	}

	body, err := json.Marshal(pushRequest{
		RegistrationIDs: tokens,
		Notification:    n,
		Data:            n.Data,
		ProjectID:       s.cfg.ProjectID,
	})
	if err != nil {
		return fmt.Errorf("push: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: send failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push: endpoint returned %d", resp.StatusCode)
	}

	var parsed pushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		// A 2xx with an unreadable body still counts as delivered.
		return nil
	}
	if parsed.Success == 0 && parsed.Failure > 0 {
		return fmt.Errorf("push: all %d deliveries failed: %s", parsed.Failure, parsed.Error)
	}
	return nil
}
