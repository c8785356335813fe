package flow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/BTreeMap/ReEngage/internal/models"
)

var contactTypeOptions = []models.Option{
	{Value: string(models.ChannelCall), Label: "Call"},
	{Value: string(models.ChannelWhatsApp), Label: "WhatsApp"},
	{Value: string(models.ChannelVisit), Label: "Visit"},
}

var feedbackOutcomeOptions = []models.Option{
	{Value: string(models.OutcomeConnected), Label: "Connected"},
	{Value: string(models.OutcomeNotAnswered), Label: "Not answered"},
	{Value: string(models.OutcomeBusy), Label: "Busy"},
	{Value: string(models.OutcomeCallbackRequested), Label: "Callback requested"},
}

func categoryOptions() []models.Option {
	out := make([]models.Option, 0, len(models.Taxonomy))
	for _, c := range models.Taxonomy {
		out = append(out, models.Option{Value: string(c.Key), Label: c.Label})
	}
	return out
}

// feedbackDefinition captures a contact attempt and, when the agent was reached, the
// reason for their dormancy.
func feedbackDefinition() *Definition {
	return &Definition{
		Flow:    models.FlowTypeFeedback,
		Initial: models.StateSelectAgent,
		Enter:   resolveCoordinator,
		Steps: map[models.StateType]Step{
			models.StateSelectAgent: agentStep(models.StateSelectContactType),
			models.StateSelectContactType: {
				Prompt: static(MsgSelectContactType, contactTypeOptions),
				Handle: pick(models.DataKeyContactType, models.StateSelectOutcome),
			},
			models.StateSelectOutcome: {
				Prompt: static(MsgSelectOutcome, feedbackOutcomeOptions),
				Handle: handleFeedbackOutcome,
			},
			models.StateSelectCategory: {
				Prompt: static(MsgSelectCategory, categoryOptions()),
				Handle: pick(models.DataKeyCategory, models.StateSelectSubcategory),
			},
			models.StateSelectSubcategory: {
				Prompt: subcategoryPrompt,
				Handle: pick(models.DataKeySubcategory, models.StateAddNotes),
			},
			models.StateAddNotes:    notesStep(models.StateSetFollowUp),
			models.StateSetFollowUp: followUpStep(models.StateConfirm),
			models.StateConfirm:     confirmStep(),
		},
		Build: buildFeedback,
	}
}

// handleFeedbackOutcome skips the taxonomy when the agent was not reached.
func handleFeedbackOutcome(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
	o, err := t.choose(ev)
	if err != nil {
		return "", err
	}
	t.Fields().Set(models.DataKeyOutcome, o.Value)
	if models.Outcome(o.Value) == models.OutcomeConnected {
		t.Fields().Delete(models.DataKeyCategory)
		t.Fields().Delete(models.DataKeySubcategory)
		return models.StateSelectCategory, nil
	}
	t.Fields().Set(models.DataKeyCategory, models.CategoryNotApplicable)
	t.Fields().Set(models.DataKeySubcategory, models.CategoryNotApplicable)
	return models.StateAddNotes, nil
}

func subcategoryPrompt(_ context.Context, t *Turn) (RenderInstruction, error) {
	cat, ok := models.LookupCategory(models.FeedbackCategory(t.Fields().Value(models.DataKeyCategory)))
	if !ok {
		return RenderInstruction{}, fmt.Errorf("category %q not in taxonomy", t.Fields().Value(models.DataKeyCategory))
	}
	opts := make([]models.Option, 0, len(cat.Subcategories))
	for _, s := range cat.Subcategories {
		opts = append(opts, models.Option{Value: s.Key, Label: s.Label})
	}
	t.Session.Options = opts
	return RenderInstruction{Message: MsgSelectSubcategory, Params: map[string]string{"category": cat.Label}, Options: opts}, nil
}

func agentID(t *Turn) (int64, error) {
	id, err := strconv.ParseInt(t.Fields().Value(models.DataKeyAgentID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("agent id %q: %w", t.Fields().Value(models.DataKeyAgentID), err)
	}
	return id, nil
}

func buildFeedback(t *Turn) (models.Command, error) {
	id, err := agentID(t)
	if err != nil {
		return nil, err
	}
	follow, err := t.followUpDate()
	if err != nil {
		return nil, err
	}
	f := t.Fields()
	return models.SubmitFeedback{
		ConversantID: t.Session.ConversantID,
		AgentID:      id,
		AgentName:    f.Value(models.DataKeyAgentName),
		ContactType:  models.Channel(f.Value(models.DataKeyContactType)),
		Outcome:      models.Outcome(f.Value(models.DataKeyOutcome)),
		Category:     models.FeedbackCategory(f.Value(models.DataKeyCategory)),
		Subcategory:  f.Value(models.DataKeySubcategory),
		Notes:        f.Value(models.DataKeyNotes),
		VoiceFileID:  f.Value(models.DataKeyVoiceFileID),
		FollowUpDate: follow,
	}, nil
}
