package triage

import (
	"sort"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
)

// UpcomingDays is how far ahead the diary view looks.
const UpcomingDays = 7

// DiaryView splits a coordinator's diary around today.
type DiaryView struct {
	Overdue  []models.DiaryEntry `json:"overdue"`
	Today    []models.DiaryEntry `json:"today"`
	Upcoming []models.DiaryEntry `json:"upcoming"`
}

func sortEntries(entries []models.DiaryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.ScheduledDate.Equal(b.ScheduledDate) {
			return a.ScheduledDate.Before(b.ScheduledDate)
		}
		if a.ScheduledTime != b.ScheduledTime {
			return a.ScheduledTime < b.ScheduledTime
		}
		return a.ID < b.ID
	})
}

// BuildDiaryView groups entries into overdue (oldest first), today (by time) and the
// scheduled entries of the next UpcomingDays days.
func BuildDiaryView(entries []models.DiaryEntry, asOf time.Time, loc *time.Location) DiaryView {
	if loc == nil {
		loc = time.UTC
	}
	today := models.StartOfDay(asOf, loc)
	horizon := today.AddDate(0, 0, UpcomingDays+1)

	v := DiaryView{
		Overdue:  []models.DiaryEntry{},
		Today:    []models.DiaryEntry{},
		Upcoming: []models.DiaryEntry{},
	}
	for _, e := range entries {
		day := models.StartOfDay(e.ScheduledDate, loc)
		switch {
		case e.IsOverdue(asOf, loc):
			v.Overdue = append(v.Overdue, e)
		case day.Equal(today):
			v.Today = append(v.Today, e)
		case day.After(today) && day.Before(horizon) && e.Status == models.DiaryScheduled:
			v.Upcoming = append(v.Upcoming, e)
		}
	}
	sortEntries(v.Overdue)
	sortEntries(v.Today)
	sortEntries(v.Upcoming)
	return v
}
