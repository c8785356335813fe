// Package triage computes who needs attention today.
//
// Everything here except Loader is a pure function of a Snapshot, a fixed "now" and a
// time zone: no I/O, no randomness and no mutation of the inputs.
package triage

import (
	"sort"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
)

// Snapshot is one coordinator's portfolio at a point in time.
type Snapshot struct {
	CoordinatorID int64                   `json:"coordinator_id"`
	Agents        []models.Agent          `json:"agents"`
	Interactions  []models.Interaction    `json:"interactions"`
	Feedback      []models.Feedback       `json:"feedback"`
	Training      []models.TrainingRecord `json:"training"`
	Diary         []models.DiaryEntry     `json:"diary"`
}

// Tier is the precedence class of a priority entry. Lower tiers are more urgent.
type Tier int

const (
	TierOverdueFollowUp Tier = iota + 1
	TierNeverContacted
	TierAtRisk
)

func (t Tier) String() string {
	switch t {
	case TierOverdueFollowUp:
		return "overdue_follow_up"
	case TierNeverContacted:
		return "never_contacted"
	case TierAtRisk:
		return "at_risk"
	default:
		return "unknown"
	}
}

// Default and maximum sizes for a priority list.
const (
	DefaultPriorityLimit = 5
	MaxPriorityLimit     = 10
)

// PriorityItem is one agent in a priority list.
type PriorityItem struct {
	Agent         models.Agent       `json:"agent"`
	Tier          Tier               `json:"tier"`
	Status        models.AgentStatus `json:"status"`
	InteractionID int64              `json:"interaction_id,omitempty"`
	FollowUpDate  *time.Time         `json:"follow_up_date,omitempty"`
	DaysOverdue   int                `json:"days_overdue,omitempty"`
}

// NormalizeLimit maps a requested limit into [1, MaxPriorityLimit]; non-positive selects the default.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPriorityLimit
	case limit > MaxPriorityLimit:
		return MaxPriorityLimit
	default:
		return limit
	}
}

func agentIndex(agents []models.Agent) map[int64]models.Agent {
	idx := make(map[int64]models.Agent, len(agents))
	for _, a := range agents {
		idx[a.ID] = a
	}
	return idx
}

func sortedByID(agents []models.Agent) []models.Agent {
	out := append([]models.Agent(nil), agents...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// overdueInteractions returns the snapshot's overdue follow-ups, oldest follow-up first.
func overdueInteractions(s Snapshot, asOf time.Time, loc *time.Location) []models.Interaction {
	var out []models.Interaction
	for _, ix := range s.Interactions {
		if ix.IsOverdue(asOf, loc) {
			out = append(out, ix)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := *out[i].FollowUpDate, *out[j].FollowUpDate
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PriorityRanking returns up to limit agents in strict tier order: overdue follow-ups
// (most overdue first), dormant agents never contacted, then at-risk agents. An agent
// appears at most once, in its most urgent tier.
func PriorityRanking(s Snapshot, asOf time.Time, loc *time.Location, limit int) []PriorityItem {
	limit = NormalizeLimit(limit)
	agents := agentIndex(s.Agents)
	seen := make(map[int64]bool)
	out := make([]PriorityItem, 0, limit)

	add := func(item PriorityItem) bool {
		if seen[item.Agent.ID] {
			return len(out) < limit
		}
		seen[item.Agent.ID] = true
		item.Status = item.Agent.LifecycleState.Status()
		out = append(out, item)
		return len(out) < limit
	}

	for _, ix := range overdueInteractions(s, asOf, loc) {
		a, ok := agents[ix.AgentID]
		if !ok {
			continue
		}
		if !add(PriorityItem{
			Agent:         a,
			Tier:          TierOverdueFollowUp,
			InteractionID: ix.ID,
			FollowUpDate:  ix.FollowUpDate,
			DaysOverdue:   ix.DaysOverdue(asOf, loc),
		}) {
			return out
		}
	}
	for _, a := range sortedByID(s.Agents) {
		if a.LifecycleState == models.LifecycleDormant && a.NeverContacted() {
			if !add(PriorityItem{Agent: a, Tier: TierNeverContacted}) {
				return out
			}
		}
	}
	for _, a := range sortedByID(s.Agents) {
		if a.LifecycleState == models.LifecycleAtRisk {
			if !add(PriorityItem{Agent: a, Tier: TierAtRisk}) {
				return out
			}
		}
	}
	return out
}
