package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/store"
)

// Compile-time check that SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// SQLStore persists sessions through a store.FlowStateRepo so they survive restarts.
type SQLStore struct {
	repo store.FlowStateRepo
}

// NewSQLStore wraps repo as a session Store.
func NewSQLStore(repo store.FlowStateRepo) *SQLStore {
	return &SQLStore{repo: repo}
}

// payload is the JSON body of the flow_states.payload column.
type payload struct {
	Fields  *Fields         `json:"fields"`
	Options []models.Option `json:"options,omitempty"`
	Page    int             `json:"page,omitempty"`
}

func (s *SQLStore) Get(ctx context.Context, conversantID string) (*Session, error) {
	st, err := s.repo.GetFlowState(ctx, conversantID)
	if err != nil {
		return nil, fmt.Errorf("load session for %s: %w", conversantID, err)
	}
	if st == nil {
		return nil, nil
	}
	sess := &Session{
		ID:           st.SessionID,
		ConversantID: st.ConversantID,
		Flow:         st.FlowType,
		State:        st.CurrentState,
		Fields:       NewFields(),
		Page:         1,
		CreatedAt:    st.CreatedAt,
		UpdatedAt:    st.UpdatedAt,
	}
	if st.Payload != "" {
		var p payload
		if err := json.Unmarshal([]byte(st.Payload), &p); err != nil {
			// A corrupt payload cannot be resumed; treat it as no session.
			slog.Warn("SQLStore.Get: discarding unreadable session payload", "conversantID", conversantID, "error", err)
			return nil, nil
		}
		if p.Fields != nil {
			sess.Fields = p.Fields
		}
		sess.Options = p.Options
		if p.Page > 0 {
			sess.Page = p.Page
		}
	}
	return sess, nil
}

func (s *SQLStore) Put(ctx context.Context, sess *Session) error {
	body, err := json.Marshal(payload{Fields: sess.Fields, Options: sess.Options, Page: sess.Page})
	if err != nil {
		return fmt.Errorf("encode session for %s: %w", sess.ConversantID, err)
	}
	return s.repo.SaveFlowState(ctx, models.FlowState{
		ConversantID: sess.ConversantID,
		SessionID:    sess.ID,
		FlowType:     sess.Flow,
		CurrentState: sess.State,
		Payload:      string(body),
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
	})
}

func (s *SQLStore) Delete(ctx context.Context, conversantID string) error {
	return s.repo.DeleteFlowState(ctx, conversantID)
}

func (s *SQLStore) EvictIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.repo.DeleteFlowStatesBefore(ctx, cutoff)
}
