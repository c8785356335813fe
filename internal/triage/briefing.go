package triage

import (
	"sort"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
)

// Briefing sizes.
const (
	BriefingPriorityLimit = 5
	NewAssignmentLimit    = 5
)

// OverdueFollowUp is a pending follow-up whose date has passed.
type OverdueFollowUp struct {
	InteractionID int64     `json:"interaction_id"`
	AgentID       int64     `json:"agent_id"`
	AgentName     string    `json:"agent_name"`
	FollowUpDate  time.Time `json:"follow_up_date"`
	DaysOverdue   int       `json:"days_overdue"`
	Notes         string    `json:"notes,omitempty"`
}

// DayCounts counts activity within one day.
type DayCounts struct {
	Contacts int `json:"contacts"`
	Feedback int `json:"feedback"`
}

// Briefing is the coordinator's morning summary.
type Briefing struct {
	Date           time.Time         `json:"date"`
	Priority       []PriorityItem    `json:"priority"`
	Overdue        []OverdueFollowUp `json:"overdue"`
	NewAssignments []models.Agent    `json:"new_assignments"`
	Yesterday      DayCounts         `json:"yesterday"`
	Tip            string            `json:"tip"`
}

// DailyTip picks the tip for asOf's calendar date in loc.
func DailyTip(tips []string, asOf time.Time, loc *time.Location) string {
	if len(tips) == 0 {
		return ""
	}
	day := models.StartOfDay(asOf, loc).YearDay()
	return tips[day%len(tips)]
}

// OverdueFollowUps lists overdue follow-ups, oldest first.
func OverdueFollowUps(s Snapshot, asOf time.Time, loc *time.Location) []OverdueFollowUp {
	agents := agentIndex(s.Agents)
	var out []OverdueFollowUp
	for _, ix := range overdueInteractions(s, asOf, loc) {
		name := "Unknown"
		if a, ok := agents[ix.AgentID]; ok {
			name = a.Name
		}
		out = append(out, OverdueFollowUp{
			InteractionID: ix.ID,
			AgentID:       ix.AgentID,
			AgentName:     name,
			FollowUpDate:  *ix.FollowUpDate,
			DaysOverdue:   ix.DaysOverdue(asOf, loc),
			Notes:         ix.Notes,
		})
	}
	return out
}

// NewAssignments lists dormant agents that have never been contacted, lowest id first.
func NewAssignments(s Snapshot, limit int) []models.Agent {
	var out []models.Agent
	for _, a := range sortedByID(s.Agents) {
		if a.LifecycleState == models.LifecycleDormant && a.NeverContacted() {
			out = append(out, a)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// CountDay counts interactions and feedback created on day's calendar date in loc.
func CountDay(s Snapshot, day time.Time, loc *time.Location) DayCounts {
	start := models.StartOfDay(day, loc)
	end := start.AddDate(0, 0, 1)
	in := func(t time.Time) bool { return !t.Before(start) && t.Before(end) }

	var c DayCounts
	for _, ix := range s.Interactions {
		if in(ix.CreatedAt) {
			c.Contacts++
		}
	}
	for _, f := range s.Feedback {
		if in(f.CreatedAt) {
			c.Feedback++
		}
	}
	return c
}

// BuildBriefing assembles the briefing for asOf.
func BuildBriefing(s Snapshot, tips []string, asOf time.Time, loc *time.Location) Briefing {
	if loc == nil {
		loc = time.UTC
	}
	priority := PriorityRanking(s, asOf, loc, BriefingPriorityLimit)
	sort.SliceStable(priority, func(i, j int) bool {
		if priority[i].Tier != priority[j].Tier {
			return priority[i].Tier < priority[j].Tier
		}
		return priority[i].Status.Rank() < priority[j].Status.Rank()
	})

	today := models.StartOfDay(asOf, loc)
	return Briefing{
		Date:           today,
		Priority:       priority,
		Overdue:        OverdueFollowUps(s, asOf, loc),
		NewAssignments: NewAssignments(s, NewAssignmentLimit),
		Yesterday:      CountDay(s, today.AddDate(0, 0, -1), loc),
		Tip:            DailyTip(tips, asOf, loc),
	}
}
