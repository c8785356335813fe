package triage

import (
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
)

// PeriodCounts counts activity since the start of a period.
type PeriodCounts struct {
	Interactions int `json:"interactions"`
	Feedback     int `json:"feedback"`
}

// Stats is the portfolio summary for one coordinator.
type Stats struct {
	TotalAgents            int                           `json:"total_agents"`
	ActiveAgents           int                           `json:"active_agents"`
	AtRiskAgents           int                           `json:"at_risk_agents"`
	InactiveAgents         int                           `json:"inactive_agents"`
	ByLifecycle            map[models.LifecycleState]int `json:"by_lifecycle"`
	MonthToDate            PeriodCounts                  `json:"month_to_date"`
	WeekToDate             PeriodCounts                  `json:"week_to_date"`
	ActivationRate         float64                       `json:"activation_rate"`
	TrainingCompletionRate float64                       `json:"training_completion_rate"`
	AverageQuizScore       float64                       `json:"average_quiz_score"`
	PendingFollowUps       int                           `json:"pending_follow_ups"`
	OverdueFollowUps       int                           `json:"overdue_follow_ups"`
}

// WeekStart returns Monday 00:00 of asOf's week in loc.
func WeekStart(asOf time.Time, loc *time.Location) time.Time {
	day := models.StartOfDay(asOf, loc)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// MonthStart returns 00:00 on the first of asOf's month in loc.
func MonthStart(asOf time.Time, loc *time.Location) time.Time {
	day := models.StartOfDay(asOf, loc)
	return day.AddDate(0, 0, 1-day.Day())
}

func countSince(s Snapshot, since time.Time) PeriodCounts {
	var c PeriodCounts
	for _, ix := range s.Interactions {
		if !ix.CreatedAt.Before(since) {
			c.Interactions++
		}
	}
	for _, f := range s.Feedback {
		if !f.CreatedAt.Before(since) {
			c.Feedback++
		}
	}
	return c
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return models.Round1(float64(part) / float64(whole) * 100)
}

// ComputeStats summarises the snapshot as of asOf.
func ComputeStats(s Snapshot, asOf time.Time, loc *time.Location) Stats {
	if loc == nil {
		loc = time.UTC
	}
	st := Stats{
		TotalAgents: len(s.Agents),
		ByLifecycle: make(map[models.LifecycleState]int),
	}
	for _, a := range s.Agents {
		st.ByLifecycle[a.LifecycleState]++
		switch a.LifecycleState.Status() {
		case models.AgentStatusActive:
			st.ActiveAgents++
		case models.AgentStatusAtRisk:
			st.AtRiskAgents++
		default:
			st.InactiveAgents++
		}
	}
	st.ActivationRate = percent(st.ActiveAgents, st.TotalAgents)

	st.MonthToDate = countSince(s, MonthStart(asOf, loc))
	st.WeekToDate = countSince(s, WeekStart(asOf, loc))

	for _, ix := range s.Interactions {
		if ix.FollowUpStatus != models.FollowUpPending || ix.FollowUpDate == nil {
			continue
		}
		st.PendingFollowUps++
		if ix.IsOverdue(asOf, loc) {
			st.OverdueFollowUps++
		}
	}

	if n := len(s.Training); n > 0 {
		completed := 0
		total := 0.0
		for _, r := range s.Training {
			if r.Completed {
				completed++
			}
			total += r.QuizScore
		}
		st.TrainingCompletionRate = percent(completed, n)
		st.AverageQuizScore = models.Round1(total / float64(n))
	}
	return st
}
