package models

import (
	"encoding/json"
	"time"
)

// Request is the inbound message envelope. Every client request carries a
// correlation id echoed back in the response; the token, when present, is
// verified on every request rather than once per connection.
type Request struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Token   string          `json:"token,omitempty"`
}

// Response is the reply to a single Request, correlated by ID.
type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Broadcast is a server-initiated message fanned out to a resolved set of
// connections. It has no correlation id.
type Broadcast struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// PresenceSnapshot is one membership as surfaced to clients: annotated with
// the active classification and the display profile.
type PresenceSnapshot struct {
	UserID       string         `json:"user_id"`
	Context      string         `json:"context"`
	ContextID    *string        `json:"context_id"`
	LastSeen     time.Time      `json:"last_seen"`
	LastActivity time.Time      `json:"last_activity"`
	IsActive     bool           `json:"is_active"`
	EventData    map[string]any `json:"event_data"`
	Profile      Profile        `json:"profile"`
}
