package flow

import "github.com/BTreeMap/ReEngage/internal/models"

// RenderKind classifies a RenderInstruction for the delivery adapter.
type RenderKind string

const (
	RenderPrompt RenderKind = "prompt" // asks for input; may carry options
	RenderInfo   RenderKind = "info"   // acknowledgement or notice
	RenderError  RenderKind = "error"  // input rejected or operation failed
	RenderDone   RenderKind = "done"   // the session ended
)

// MessageKey identifies the text the delivery adapter shows. Wording and language are the
// adapter's concern.
type MessageKey string

const (
	MsgSelectAgent       MessageKey = "select_agent"
	MsgSearchAgent       MessageKey = "search_agent"
	MsgNoAgentsFound     MessageKey = "no_agents_found"
	MsgSelectContactType MessageKey = "select_contact_type"
	MsgSelectOutcome     MessageKey = "select_outcome"
	MsgSelectCategory    MessageKey = "select_category"
	MsgSelectSubcategory MessageKey = "select_subcategory"
	MsgAddNotes          MessageKey = "add_notes"
	MsgTypeNotes         MessageKey = "type_notes"
	MsgSendVoice         MessageKey = "send_voice"
	MsgVoiceReceived     MessageKey = "voice_received"
	MsgSetFollowUp       MessageKey = "set_follow_up"
	MsgSelectTopic       MessageKey = "select_topic"
	MsgConfirm           MessageKey = "confirm"

	MsgSelectProductCategory MessageKey = "select_product_category"
	MsgSelectProduct         MessageKey = "select_product"
	MsgNoProducts            MessageKey = "no_products"
	MsgProductSummary        MessageKey = "product_summary"
	MsgQuizQuestion          MessageKey = "quiz_question"
	MsgAnswerCorrect         MessageKey = "answer_correct"
	MsgAnswerIncorrect       MessageKey = "answer_incorrect"
	MsgQuizResult            MessageKey = "quiz_result"

	MsgEnterName       MessageKey = "enter_name"
	MsgEnterEmployeeID MessageKey = "enter_employee_id"
	MsgEnterRegion     MessageKey = "enter_region"
	MsgWelcomeBack     MessageKey = "welcome_back"

	MsgInvalidInput      MessageKey = "invalid_input"
	MsgUnexpectedInput   MessageKey = "unexpected_input"
	MsgDemoData          MessageKey = "demo_data"
	MsgCancelled         MessageKey = "cancelled"
	MsgExpired           MessageKey = "expired"
	MsgSaved             MessageKey = "saved"
	MsgSubmissionFailed  MessageKey = "submission_failed"
	MsgNotFound          MessageKey = "not_found"
	MsgTryAgain          MessageKey = "try_again"
	MsgNoActiveSession   MessageKey = "no_active_session"
	MsgInternalError     MessageKey = "internal_error"
	MsgAlreadyRegistered MessageKey = "already_registered"
)

// RenderInstruction describes what to show next.
type RenderInstruction struct {
	Kind    RenderKind        `json:"kind"`
	State   models.StateType  `json:"state,omitempty"`
	Message MessageKey        `json:"message"`
	Params  map[string]string `json:"params,omitempty"`
	Options []models.Option   `json:"options,omitempty"`
	// Data carries structured content such as a product summary or quiz question.
	Data any `json:"data,omitempty"`
}

// Info builds an informational instruction.
func Info(msg MessageKey, params map[string]string) RenderInstruction {
	return RenderInstruction{Kind: RenderInfo, Message: msg, Params: params}
}

// Failure builds an error instruction.
func Failure(msg MessageKey, params map[string]string) RenderInstruction {
	return RenderInstruction{Kind: RenderError, Message: msg, Params: params}
}

// Done builds a session-ending instruction.
func Done(state models.StateType, msg MessageKey, params map[string]string) RenderInstruction {
	return RenderInstruction{Kind: RenderDone, State: state, Message: msg, Params: params}
}
