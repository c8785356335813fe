// Package models defines state management structures for ReEngage flows.
package models

import "time"

// FlowState is the persisted form of one conversant's in-progress session.
type FlowState struct {
	ConversantID string    `json:"conversant_id"`
	SessionID    string    `json:"session_id"`
	FlowType     FlowType  `json:"flow_type"`
	CurrentState StateType `json:"current_state"`
	Payload      string    `json:"payload,omitempty"` // JSON encoding of collected fields and cached options
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
