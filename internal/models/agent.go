package models

import (
	"fmt"
	"strings"
	"time"
)

// LifecycleState is an agent's engagement stage.
type LifecycleState string

const (
	LifecycleDormant   LifecycleState = "dormant"
	LifecycleAtRisk    LifecycleState = "at_risk"
	LifecycleContacted LifecycleState = "contacted"
	LifecycleEngaged   LifecycleState = "engaged"
	LifecycleTrained   LifecycleState = "trained"
	LifecycleActive    LifecycleState = "active"
)

// IsValidLifecycleState checks if the given lifecycle state is supported.
func IsValidLifecycleState(s LifecycleState) bool {
	switch s {
	case LifecycleDormant, LifecycleAtRisk, LifecycleContacted, LifecycleEngaged, LifecycleTrained, LifecycleActive:
		return true
	default:
		return false
	}
}

// AgentStatus is the coarse three-way bucket shown to coordinators.
type AgentStatus string

const (
	AgentStatusInactive AgentStatus = "inactive"
	AgentStatusAtRisk   AgentStatus = "at_risk"
	AgentStatusActive   AgentStatus = "active"
)

// Rank orders statuses for triage: inactive first, then at risk, then active.
func (s AgentStatus) Rank() int {
	switch s {
	case AgentStatusInactive:
		return 0
	case AgentStatusAtRisk:
		return 1
	case AgentStatusActive:
		return 2
	default:
		return 3
	}
}

// Status maps a lifecycle state onto its coarse bucket.
func (s LifecycleState) Status() AgentStatus {
	switch s {
	case LifecycleDormant:
		return AgentStatusInactive
	case LifecycleAtRisk:
		return AgentStatusAtRisk
	case LifecycleContacted, LifecycleEngaged, LifecycleTrained, LifecycleActive:
		return AgentStatusActive
	default:
		return AgentStatusInactive
	}
}

// Engagement score bounds.
const (
	MinEngagementScore = 0.0
	MaxEngagementScore = 100.0
)

// ClampScore limits an engagement score to [MinEngagementScore, MaxEngagementScore].
func ClampScore(score float64) float64 {
	if score < MinEngagementScore {
		return MinEngagementScore
	}
	if score > MaxEngagementScore {
		return MaxEngagementScore
	}
	return score
}

// DormancyReason is a "category:subcategory" pair drawn from the feedback taxonomy.
type DormancyReason string

// NewDormancyReason builds a reason after checking both halves against the taxonomy.
func NewDormancyReason(category FeedbackCategory, subcategory string) (DormancyReason, error) {
	sub, ok := LookupSubcategory(category, subcategory)
	if !ok {
		return "", fmt.Errorf("unknown dormancy reason %s:%s", category, subcategory)
	}
	return DormancyReason(string(category) + ":" + sub.Key), nil
}

// Category returns the taxonomy category half of the reason.
func (r DormancyReason) Category() FeedbackCategory {
	cat, _, _ := strings.Cut(string(r), ":")
	return FeedbackCategory(strings.TrimSpace(cat))
}

// Subcategory returns the subcategory half of the reason, or the whole value when unstructured.
func (r DormancyReason) Subcategory() string {
	_, sub, found := strings.Cut(string(r), ":")
	if !found {
		return strings.TrimSpace(string(r))
	}
	return strings.TrimSpace(sub)
}

// Agent is a field salesperson being re-engaged.
type Agent struct {
	ID                   int64          `json:"id"`
	Name                 string         `json:"name"`
	Phone                string         `json:"phone"`
	Channel              string         `json:"channel,omitempty"` // preferred contact channel
	Location             string         `json:"location,omitempty"`
	LifecycleState       LifecycleState `json:"lifecycle_state"`
	EngagementScore      float64        `json:"engagement_score"`
	DormancyReason       DormancyReason `json:"dormancy_reason,omitempty"`
	DormancyDurationDays int            `json:"dormancy_duration_days"`
	LastContactDate      *time.Time     `json:"last_contact_date,omitempty"`
	CoordinatorID        *int64         `json:"coordinator_id,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Code returns the short display code, e.g. AGT007.
func (a Agent) Code() string {
	return fmt.Sprintf("AGT%03d", a.ID)
}

// NeverContacted reports whether the agent has no recorded contact.
func (a Agent) NeverContacted() bool {
	return a.LastContactDate == nil
}

// Coordinator is a field manager owning a portfolio of agents.
type Coordinator struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	EmployeeID       string    `json:"employee_id"`
	Region           string    `json:"region"`
	ConversantID     string    `json:"conversant_id"` // chat identity used by the delivery adapter
	MaxCapacity      int       `json:"max_capacity"`
	ActiveAgentCount int       `json:"active_agent_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// DefaultMaxCapacity is assigned to coordinators registered without an explicit capacity.
const DefaultMaxCapacity = 50

// AgentDelta is the change set the lifecycle controller writes after a contact.
type AgentDelta struct {
	AgentID         int64          `json:"agent_id"`
	FromState       LifecycleState `json:"from_state"`
	ToState         LifecycleState `json:"to_state"`
	PreviousScore   float64        `json:"previous_score"`
	EngagementScore float64        `json:"engagement_score"`
	LastContactDate time.Time      `json:"last_contact_date"`
}

// StateChanged reports whether the delta moves the agent to a new lifecycle state.
func (d AgentDelta) StateChanged() bool {
	return d.FromState != d.ToState
}

// ContactUpdate is the change a completed contact requests for one agent. The store applies
// it against the agent's current row, so concurrent contacts never lose an increment.
type ContactUpdate struct {
	AgentID     int64     `json:"agent_id"`
	ScoreDelta  float64   `json:"score_delta"`
	ContactDate time.Time `json:"contact_date"`
}

// ApplyContact computes the delta a contact makes to a. A dormant agent becomes contacted;
// other states are kept. The score moves by u.ScoreDelta within the clamp and never drops
// below the clamped current score.
func (a Agent) ApplyContact(u ContactUpdate) AgentDelta {
	next := a.LifecycleState
	if next == LifecycleDormant {
		next = LifecycleContacted
	}
	prev := ClampScore(a.EngagementScore)
	score := ClampScore(prev + u.ScoreDelta)
	if score < prev {
		score = prev
	}
	return AgentDelta{
		AgentID:         a.ID,
		FromState:       a.LifecycleState,
		ToState:         next,
		PreviousScore:   a.EngagementScore,
		EngagementScore: score,
		LastContactDate: u.ContactDate,
	}
}

// ContactRecord is one completed contact written as a unit: the interaction, the feedback
// captured during it and the agent update. The store links Feedback to the new interaction.
type ContactRecord struct {
	Interaction NewInteraction `json:"interaction"`
	Feedback    *NewFeedback   `json:"feedback,omitempty"`
	ScoreDelta  float64        `json:"score_delta"`
	ContactDate time.Time      `json:"contact_date"`
}

// Update returns the agent update part of the record.
func (r ContactRecord) Update() ContactUpdate {
	return ContactUpdate{AgentID: r.Interaction.AgentID, ScoreDelta: r.ScoreDelta, ContactDate: r.ContactDate}
}

// ContactReceipt is what RecordContact wrote.
type ContactReceipt struct {
	Interaction Interaction `json:"interaction"`
	Feedback    *Feedback   `json:"feedback,omitempty"`
	Delta       AgentDelta  `json:"delta"`
}

// AgentPage is one page of a coordinator's agent list.
type AgentPage struct {
	Agents     []Agent `json:"agents"`
	Page       int     `json:"page"`
	TotalPages int     `json:"total_pages"`
	Total      int     `json:"total"`
}

// AgentsPerPage is the page size for agent pickers.
const AgentsPerPage = 8
