package store

import (
	"database/sql"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func intPtr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func scanAgent(row rowScanner) (models.Agent, error) {
	var a models.Agent
	var state, reason string
	var lastContact sql.NullTime
	var coordinatorID sql.NullInt64
	err := row.Scan(
		&a.ID, &a.Name, &a.Phone, &a.Channel, &a.Location, &state, &a.EngagementScore, &reason,
		&a.DormancyDurationDays, &lastContact, &coordinatorID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, err
	}
	a.LifecycleState = models.LifecycleState(state)
	a.DormancyReason = models.DormancyReason(reason)
	a.LastContactDate = timePtr(lastContact)
	a.CoordinatorID = intPtr(coordinatorID)
	return a, nil
}

func scanInteraction(row rowScanner) (models.Interaction, error) {
	var i models.Interaction
	var kind, outcome, status string
	var followUp sql.NullTime
	err := row.Scan(
		&i.ID, &i.AgentID, &i.CoordinatorID, &kind, &outcome, &i.Notes, &i.VoiceFileID,
		&followUp, &status, &i.CreatedAt,
	)
	if err != nil {
		return i, err
	}
	i.Type = models.Channel(kind)
	i.Outcome = models.Outcome(outcome)
	i.FollowUpStatus = models.FollowUpStatus(status)
	i.FollowUpDate = timePtr(followUp)
	return i, nil
}

func scanFeedback(row rowScanner) (models.Feedback, error) {
	var f models.Feedback
	var category, sentiment, priority, status string
	var interactionID sql.NullInt64
	err := row.Scan(
		&f.ID, &f.AgentID, &f.CoordinatorID, &interactionID, &category, &f.Subcategory, &f.RawText, &f.VoiceFileID,
		&sentiment, &priority, &status, &f.CreatedAt,
	)
	if err != nil {
		return f, err
	}
	f.InteractionID = intPtr(interactionID)
	f.Category = models.FeedbackCategory(category)
	f.Sentiment = models.Sentiment(sentiment)
	f.Priority = models.Priority(priority)
	f.Status = models.FeedbackStatus(status)
	return f, nil
}

func scanDiaryEntry(row rowScanner) (models.DiaryEntry, error) {
	var e models.DiaryEntry
	var status string
	var agentID sql.NullInt64
	err := row.Scan(
		&e.ID, &e.CoordinatorID, &agentID, &e.Title, &e.ScheduledDate, &e.ScheduledTime, &status, &e.Notes, &e.CreatedAt,
	)
	if err != nil {
		return e, err
	}
	e.AgentID = intPtr(agentID)
	e.Status = models.DiaryStatus(status)
	return e, nil
}

func scanTrainingRecord(row rowScanner) (models.TrainingRecord, error) {
	var r models.TrainingRecord
	var completedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.CoordinatorID, &r.ProductID, &r.ProductName, &r.QuizScore, &r.Completed, &completedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}
	r.CompletedAt = timePtr(completedAt)
	return r, nil
}
