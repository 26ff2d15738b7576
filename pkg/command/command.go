// Package command defines the command model for player devices and the
// in-memory registry tracking in-flight commands until acknowledgment.
package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies the operation a player is asked to perform.
type Type string

const (
	TypeUpdateURL    Type = "updateUrl"
	TypeReboot       Type = "reboot"
	TypeScreenshot   Type = "screenshot"
	TypeUpdate       Type = "update"
	TypeSystemUpdate Type = "systemUpdate"
)

// Types lists every recognized command type.
var Types = []Type{TypeUpdateURL, TypeReboot, TypeScreenshot, TypeUpdate, TypeSystemUpdate}

// Valid reports whether t is a recognized command type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a command.
type Status string

const (
	StatusPending Status = "pending"
	StatusAcked   Status = "acked"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Terminal reports whether s is a final state. A command leaves pending
// exactly once and never re-enters it.
func (s Status) Terminal() bool {
	return s == StatusAcked || s == StatusFailed || s == StatusTimeout
}

// Command is a single operator-initiated instruction addressed to one player.
type Command struct {
	ID       string         `json:"id"`
	PlayerID string         `json:"playerId"`
	Type     Type           `json:"type"`
	Payload  map[string]any `json:"payload"`
	IssuedAt time.Time      `json:"issuedAt"`
	Status   Status         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Retries  int            `json:"retries"`
}

// NewID allocates a command identifier: millisecond timestamp plus a random
// suffix. Uniqueness within the registry is enforced at insert.
func NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}
