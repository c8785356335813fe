package models

import "time"

// DiaryStatus is the state of a scheduled coordinator task.
type DiaryStatus string

const (
	DiaryScheduled   DiaryStatus = "scheduled"
	DiaryCompleted   DiaryStatus = "completed"
	DiaryMissed      DiaryStatus = "missed"
	DiaryRescheduled DiaryStatus = "rescheduled"
)

var diaryTransitions = transitionTable[DiaryStatus]{
	DiaryScheduled:   {DiaryCompleted, DiaryMissed, DiaryRescheduled},
	DiaryMissed:      {DiaryCompleted, DiaryRescheduled},
	DiaryRescheduled: {DiaryCompleted, DiaryMissed, DiaryRescheduled},
	DiaryCompleted:   {},
}

// CheckDiaryTransition returns ErrIllegalTransition when from may not move to to.
func CheckDiaryTransition(from, to DiaryStatus) error {
	return diaryTransitions.check("diary", from, to)
}

// DiaryEntry is a scheduled task for a coordinator, optionally about one agent.
type DiaryEntry struct {
	ID            int64       `json:"id"`
	CoordinatorID int64       `json:"coordinator_id"`
	AgentID       *int64      `json:"agent_id,omitempty"`
	Title         string      `json:"title"`
	ScheduledDate time.Time   `json:"scheduled_date"`
	ScheduledTime string      `json:"scheduled_time,omitempty"` // HH:MM, empty when all-day
	Status        DiaryStatus `json:"status"`
	Notes         string      `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// IsOverdue reports whether the entry is still open and dated before asOf's day in loc.
func (d DiaryEntry) IsOverdue(asOf time.Time, loc *time.Location) bool {
	if d.Status != DiaryScheduled && d.Status != DiaryMissed {
		return false
	}
	return StartOfDay(d.ScheduledDate, loc).Before(StartOfDay(asOf, loc))
}
