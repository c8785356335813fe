// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType identifies a conversational capture procedure.
type FlowType string

// StateType represents a specific state within a flow
type StateType string

// DataKey represents a key for storing collected field values
type DataKey string

// Flow type constants.
const (
	FlowTypeFeedback    FlowType = "feedback"
	FlowTypeInteraction FlowType = "interaction"
	FlowTypeQuiz        FlowType = "quiz"
	FlowTypeOnboarding  FlowType = "onboarding"
)

// Engine-level terminal states shared by every flow.
const (
	StateCancelled StateType = "CANCELLED"
	StateComplete  StateType = "COMPLETE"
)

// IsTerminal reports whether s ends a session.
func (s StateType) IsTerminal() bool {
	return s == StateCancelled || s == StateComplete
}

// States shared by more than one flow.
const (
	StateSelectAgent   StateType = "SELECT_AGENT"
	StateSelectOutcome StateType = "SELECT_OUTCOME"
	StateAddNotes      StateType = "ADD_NOTES"
	StateConfirm       StateType = "CONFIRM"
)

// Feedback capture states.
const (
	StateSelectContactType StateType = "SELECT_CONTACT_TYPE"
	StateSelectCategory    StateType = "SELECT_CATEGORY"
	StateSelectSubcategory StateType = "SELECT_SUBCATEGORY"
	StateSetFollowUp       StateType = "SET_FOLLOWUP"
)

// Interaction log states.
const (
	StateSelectTopic      StateType = "SELECT_TOPIC"
	StateScheduleFollowUp StateType = "SCHEDULE_FOLLOWUP"
)

// Product quiz states.
const (
	StateSelectProductCategory StateType = "SELECT_PRODUCT_CATEGORY"
	StateSelectProduct         StateType = "SELECT_PRODUCT"
	StateViewSummary           StateType = "VIEW_SUMMARY"
	StateAnswerQuiz            StateType = "ANSWER_QUIZ"
	StateQuizResult            StateType = "QUIZ_RESULT"
)

// Onboarding states.
const (
	StateEnterName       StateType = "ENTER_NAME"
	StateEnterEmployeeID StateType = "ENTER_EMPLOYEE_ID"
	StateEnterRegion     StateType = "ENTER_REGION"
)

// Data key constants for collected fields.
const (
	DataKeyAgentID       DataKey = "agent_id"
	DataKeyAgentName     DataKey = "agent_name"
	DataKeyContactType   DataKey = "contact_type"
	DataKeyOutcome       DataKey = "outcome"
	DataKeyCategory      DataKey = "category"
	DataKeySubcategory   DataKey = "subcategory"
	DataKeyNotes         DataKey = "notes"
	DataKeyVoiceFileID   DataKey = "voice_file_id"
	DataKeyFollowUpDate  DataKey = "follow_up_date" // YYYY-MM-DD, empty for none
	DataKeyTopic         DataKey = "topic"
	DataKeyProductCat    DataKey = "product_category"
	DataKeyProductID     DataKey = "product_id"
	DataKeyProductName   DataKey = "product_name"
	DataKeyQuizIndex     DataKey = "quiz_index"
	DataKeyQuizScore     DataKey = "quiz_score"
	DataKeyQuizTotal     DataKey = "quiz_total"
	DataKeyName          DataKey = "name"
	DataKeyEmployeeID    DataKey = "employee_id"
	DataKeyRegion        DataKey = "region"
	DataKeySearch        DataKey = "search"
	DataKeyDataSource    DataKey = "data_source" // "gateway" or "fallback"
	DataKeyCoordinatorID DataKey = "coordinator_id"
)

// Option is one selectable choice offered to a conversant.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}
