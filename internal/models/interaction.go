package models

import "time"

// Channel is the medium used for a contact.
type Channel string

const (
	ChannelCall     Channel = "call"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelVisit    Channel = "visit"
	ChannelTelegram Channel = "telegram"
)

// Outcome is the result of a contact attempt.
type Outcome string

const (
	OutcomeConnected         Outcome = "connected"
	OutcomeNotAnswered       Outcome = "not_answered"
	OutcomeBusy              Outcome = "busy"
	OutcomeCallbackRequested Outcome = "callback_requested"
	OutcomeFollowUpScheduled Outcome = "follow_up_scheduled"
	OutcomeDeclined          Outcome = "declined"
)

// IsValidOutcome checks if the given outcome is supported.
func IsValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeConnected, OutcomeNotAnswered, OutcomeBusy, OutcomeCallbackRequested, OutcomeFollowUpScheduled, OutcomeDeclined:
		return true
	default:
		return false
	}
}

// FollowUpStatus is the stored follow-up state of an interaction. Overdue is derived, never stored.
type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "pending"
	FollowUpCompleted FollowUpStatus = "completed"
)

// Interaction is an immutable record of one contact between a coordinator and an agent.
type Interaction struct {
	ID             int64          `json:"id"`
	AgentID        int64          `json:"agent_id"`
	CoordinatorID  int64          `json:"coordinator_id"`
	Type           Channel        `json:"interaction_type"`
	Outcome        Outcome        `json:"outcome"`
	Notes          string         `json:"notes,omitempty"`
	VoiceFileID    string         `json:"voice_file_id,omitempty"`
	FollowUpDate   *time.Time     `json:"follow_up_date,omitempty"`
	FollowUpStatus FollowUpStatus `json:"follow_up_status,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// IsOverdue reports whether the follow-up is pending and dated before asOf's calendar day in loc.
func (i Interaction) IsOverdue(asOf time.Time, loc *time.Location) bool {
	if i.FollowUpStatus != FollowUpPending || i.FollowUpDate == nil {
		return false
	}
	return StartOfDay(*i.FollowUpDate, loc).Before(StartOfDay(asOf, loc))
}

// DaysOverdue returns how many whole days the follow-up is past due, or 0.
func (i Interaction) DaysOverdue(asOf time.Time, loc *time.Location) int {
	if !i.IsOverdue(asOf, loc) {
		return 0
	}
	d := StartOfDay(asOf, loc).Sub(StartOfDay(*i.FollowUpDate, loc))
	return int(d.Hours() / 24)
}

// NewInteraction holds the fields required to create an Interaction.
type NewInteraction struct {
	AgentID       int64      `json:"agent_id"`
	CoordinatorID int64      `json:"coordinator_id"`
	Type          Channel    `json:"interaction_type"`
	Outcome       Outcome    `json:"outcome"`
	Notes         string     `json:"notes,omitempty"`
	VoiceFileID   string     `json:"voice_file_id,omitempty"`
	FollowUpDate  *time.Time `json:"follow_up_date,omitempty"`
}
