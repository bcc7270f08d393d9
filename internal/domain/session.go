// Package domain contains core domain types for the PriceFinder application.
package domain

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks a message typed by the shopper.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the assistant.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatMessage is a single transcript entry. It is never modified after it
// has been appended to a session.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SessionRecord is the persisted form of a chat session, keyed by the
// anonymous client that owns it.
type SessionRecord struct {
	ClientID        string        `json:"client_id"`
	SessionID       string        `json:"session_id"`
	Messages        []ChatMessage `json:"messages"`
	SearchHistory   []string      `json:"search_history"`
	CurrentProducts []Product     `json:"current_products"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IdleFor returns how long the session has gone without an update.
func (r *SessionRecord) IdleFor(now time.Time) time.Duration {
	if r.UpdatedAt.IsZero() {
		return 0
	}
	idle := now.Sub(r.UpdatedAt)
	if idle < 0 {
		return 0
	}
	return idle
}
