package models

import (
	"encoding/json"
	"time"
)

// QueuedAction is a user-initiated backend operation deferred because the
// network was unreachable. The payload is opaque to the engine.
type QueuedAction struct {
	ID         string          `json:"id" db:"id"`
	ActionType string          `json:"action_type" db:"action_type"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at" db:"enqueued_at"`
	Attempts   int             `json:"attempts" db:"attempts"`
}

// CapabilityState is the process-wide platform notification permission.
type CapabilityState string

const (
	CapabilityGranted      CapabilityState = "granted"
	CapabilityDenied       CapabilityState = "denied"
	CapabilityUndetermined CapabilityState = "undetermined"
)

// Determined reports whether the user has answered the permission prompt.
func (s CapabilityState) Determined() bool {
	return s == CapabilityGranted || s == CapabilityDenied
}
