// Package session holds in-progress conversation state for each conversant.
//
// A Session exists from flow entry until completion, cancellation or idle eviction. The
// Store contract has an in-memory implementation and one backed by the store package's
// flow_states table; both copy sessions on read and write so callers never alias state.
package session

import (
	"context"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/google/uuid"
)

// Session is one conversant's progress through one flow.
type Session struct {
	ID           string           `json:"id"`
	ConversantID string           `json:"conversant_id"`
	Flow         models.FlowType  `json:"flow"`
	State        models.StateType `json:"state"`
	Fields       *Fields          `json:"fields"`
	Options      []models.Option  `json:"options,omitempty"` // cached option list for the current state
	Page         int              `json:"page,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// New starts a session for conversant in flow at the given initial state.
func New(conversantID string, flow models.FlowType, initial models.StateType, now time.Time) *Session {
	return &Session{
		ID:           uuid.NewString(),
		ConversantID: conversantID,
		Flow:         flow,
		State:        initial,
		Fields:       NewFields(),
		Page:         1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Fields = s.Fields.Clone()
	if s.Options != nil {
		c.Options = append([]models.Option(nil), s.Options...)
	}
	return &c
}

// Expired reports whether the session has been idle for at least timeout. A non-positive timeout never expires.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(s.UpdatedAt) >= timeout
}

// Store keeps at most one session per conversant.
type Store interface {
	// Get returns nil, nil when the conversant has no session.
	Get(ctx context.Context, conversantID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, conversantID string) error
	// EvictIdle removes sessions last updated at or before cutoff, matching Expired, and returns their conversant ids.
	EvictIdle(ctx context.Context, cutoff time.Time) ([]string, error)
}
