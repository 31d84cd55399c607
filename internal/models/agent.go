package models

import (
	"time"
)

// APIKey is the stored record behind an issued API key.
// The raw key itself is never persisted, only its hash.
type APIKey struct {
	AgentID     string    `json:"agent_id"`
	Description string    `json:"description,omitempty"`
	Prefix      string    `json:"prefix"` // first chars of the key, for display and logs
	IssuedAt    time.Time `json:"issued_at"`
}

// AgentSummary aggregates the keys issued to one agent.
type AgentSummary struct {
	AgentID      string    `json:"ai_id"`
	Description  string    `json:"description,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	KeyCount     int       `json:"key_count"`
}
