// Package lifecycle owns the agent lifecycle state machine.
//
// Controller is the only writer of an agent's lifecycle_state. A completed contact moves a
// dormant agent to contacted, stamps last_contact_date and nudges the engagement score.
// Executor applies the domain commands emitted by completed conversation flows.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/store"
)

// ContactKind selects the engagement nudge applied by a contact.
type ContactKind string

const (
	ContactFeedback    ContactKind = "feedback"
	ContactInteraction ContactKind = "interaction"
)

// Score deltas per contact kind.
const (
	FeedbackScoreDelta    = 5.0
	InteractionScoreDelta = 3.0
)

// ScoreDelta returns the engagement increment for a contact kind. Unknown kinds add nothing.
func (k ContactKind) ScoreDelta() float64 {
	switch k {
	case ContactFeedback:
		return FeedbackScoreDelta
	case ContactInteraction:
		return InteractionScoreDelta
	default:
		return 0
	}
}

// Contact describes one completed contact with an agent.
type Contact struct {
	AgentID  int64
	Kind     ContactKind
	Outcome  models.Outcome
	Category models.FeedbackCategory // optional
	At       time.Time
}

// Opts configures a Controller.
type Opts struct {
	Location *time.Location
}

// Option configures lifecycle components.
type Option func(*Opts)

// WithLocation sets the time zone that defines the contact date.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.Location = loc
	}
}

func buildOpts(opts []Option) Opts {
	o := Opts{Location: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Controller applies contact events to agents.
type Controller struct {
	gw  store.Gateway
	loc *time.Location
}

// NewController creates a Controller writing through gw.
func NewController(gw store.Gateway, opts ...Option) *Controller {
	o := buildOpts(opts)
	return &Controller{gw: gw, loc: o.Location}
}

// Location returns the time zone used for contact dates.
func (c *Controller) Location() *time.Location {
	return c.loc
}

// Delta computes the change a contact makes to agent without writing anything.
func Delta(agent models.Agent, contact Contact, loc *time.Location) models.AgentDelta {
	return agent.ApplyContact(contact.update(loc))
}

func (c Contact) update(loc *time.Location) models.ContactUpdate {
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	return models.ContactUpdate{
		AgentID:     c.AgentID,
		ScoreDelta:  c.Kind.ScoreDelta(),
		ContactDate: models.StartOfDay(at, loc),
	}
}

// ApplyContact records a completed contact. An unknown agent yields store.ErrNotFound and
// nothing is written; otherwise the store applies the whole delta against the current row.
func (c *Controller) ApplyContact(ctx context.Context, contact Contact) (models.AgentDelta, error) {
	delta, err := c.gw.UpdateAgentAfterContact(ctx, contact.update(c.loc))
	if err != nil {
		return models.AgentDelta{}, fmt.Errorf("apply contact to agent %d: %w", contact.AgentID, err)
	}
	logDelta(delta, contact.Outcome)
	return delta, nil
}

// RecordContact writes a contact together with the interaction and optional feedback that
// describe it, as one unit. A failure writes nothing, so the caller may retry.
func (c *Controller) RecordContact(ctx context.Context, contact Contact, ix models.NewInteraction, fb *models.NewFeedback) (models.ContactReceipt, error) {
	u := contact.update(c.loc)
	ix.AgentID = contact.AgentID
	r, err := c.gw.RecordContact(ctx, models.ContactRecord{
		Interaction: ix,
		Feedback:    fb,
		ScoreDelta:  u.ScoreDelta,
		ContactDate: u.ContactDate,
	})
	if err != nil {
		return models.ContactReceipt{}, fmt.Errorf("record contact with agent %d: %w", contact.AgentID, err)
	}
	logDelta(r.Delta, contact.Outcome)
	return r, nil
}

func logDelta(delta models.AgentDelta, outcome models.Outcome) {
	if delta.StateChanged() {
		slog.Info("Controller.ApplyContact: lifecycle transition", "agentID", delta.AgentID,
			"from", delta.FromState, "to", delta.ToState, "score", delta.EngagementScore)
		return
	}
	slog.Debug("Controller.ApplyContact: contact recorded", "agentID", delta.AgentID,
		"state", delta.ToState, "score", delta.EngagementScore, "outcome", outcome)
}
