package models

import "time"

// CommandKind identifies the domain command a completed flow emits.
type CommandKind string

const (
	CommandSubmitFeedback      CommandKind = "submit_feedback"
	CommandLogInteraction      CommandKind = "log_interaction"
	CommandSubmitQuizScore     CommandKind = "submit_quiz_score"
	CommandRegisterCoordinator CommandKind = "register_coordinator"
)

// Command is the single domain action produced when a flow reaches COMPLETE.
type Command interface {
	Kind() CommandKind
	// Conversant is the chat identity that issued the command.
	Conversant() string
}

// SubmitFeedback records a contact attempt and, when connected, the agent's dormancy reason.
type SubmitFeedback struct {
	ConversantID string           `json:"conversant_id"`
	AgentID      int64            `json:"agent_id"`
	AgentName    string           `json:"agent_name"`
	ContactType  Channel          `json:"contact_type"`
	Outcome      Outcome          `json:"outcome"`
	Category     FeedbackCategory `json:"category,omitempty"`
	Subcategory  string           `json:"subcategory,omitempty"`
	Notes        string           `json:"notes"`
	VoiceFileID  string           `json:"voice_file_id,omitempty"`
	FollowUpDate *time.Time       `json:"follow_up_date,omitempty"`
}

func (SubmitFeedback) Kind() CommandKind    { return CommandSubmitFeedback }
func (c SubmitFeedback) Conversant() string { return c.ConversantID }

// HasCategory reports whether a taxonomy reason was captured.
func (c SubmitFeedback) HasCategory() bool {
	return c.Outcome == OutcomeConnected && c.Category != "" && c.Category != CategoryNotApplicable
}

// InteractionTopic is the subject of a logged interaction.
type InteractionTopic struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// InteractionTopics lists the topics offered by the interaction log, in display order.
var InteractionTopics = []InteractionTopic{
	{"product", "Product Info"},
	{"commission", "Commission Query"},
	{"system", "System Help"},
	{"reengage", "Re-engagement"},
	{"training", "Training"},
	{"other", "Other"},
}

// LookupTopic finds an interaction topic by key.
func LookupTopic(key string) (InteractionTopic, bool) {
	for _, t := range InteractionTopics {
		if t.Key == key {
			return t, true
		}
	}
	return InteractionTopic{}, false
}

// LogInteraction records a coordinator's conversation with an agent.
type LogInteraction struct {
	ConversantID string     `json:"conversant_id"`
	AgentID      int64      `json:"agent_id"`
	AgentName    string     `json:"agent_name"`
	Topic        string     `json:"topic"`
	Outcome      Outcome    `json:"outcome"`
	Notes        string     `json:"notes"`
	FollowUpDate *time.Time `json:"follow_up_date,omitempty"`
}

func (LogInteraction) Kind() CommandKind    { return CommandLogInteraction }
func (c LogInteraction) Conversant() string { return c.ConversantID }

// SubmitQuizScore records a finished product quiz.
type SubmitQuizScore struct {
	ConversantID string    `json:"conversant_id"`
	ProductID    string    `json:"product_id"`
	ProductName  string    `json:"product_name"`
	Score        int       `json:"score"`
	Total        int       `json:"total"`
	FinishedAt   time.Time `json:"finished_at"`
}

func (SubmitQuizScore) Kind() CommandKind    { return CommandSubmitQuizScore }
func (c SubmitQuizScore) Conversant() string { return c.ConversantID }

// Passed reports whether the score meets the pass threshold.
func (c SubmitQuizScore) Passed() bool {
	return QuizPassed(c.Score, c.Total)
}

// RegisterCoordinator links a chat identity to a new coordinator profile.
type RegisterCoordinator struct {
	ConversantID string `json:"conversant_id"`
	Name         string `json:"name"`
	EmployeeID   string `json:"employee_id"`
	Region       string `json:"region"`
}

func (RegisterCoordinator) Kind() CommandKind    { return CommandRegisterCoordinator }
func (c RegisterCoordinator) Conversant() string { return c.ConversantID }
