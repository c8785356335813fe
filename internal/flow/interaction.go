package flow

import (
	"context"

	"github.com/BTreeMap/ReEngage/internal/models"
)

func topicOptions() []models.Option {
	out := make([]models.Option, 0, len(models.InteractionTopics))
	for _, tp := range models.InteractionTopics {
		out = append(out, models.Option{Value: tp.Key, Label: tp.Label})
	}
	return out
}

// The interaction log asks how the conversation went rather than whether it connected.
var interactionOutcomes = map[string]models.Outcome{
	"positive": models.OutcomeConnected,
	"neutral":  models.OutcomeCallbackRequested,
	"negative": models.OutcomeDeclined,
}

var interactionOutcomeOptions = []models.Option{
	{Value: "positive", Label: "Positive"},
	{Value: "neutral", Label: "Neutral"},
	{Value: "negative", Label: "Negative"},
}

// interactionDefinition logs a conversation with an agent and an optional follow-up.
func interactionDefinition() *Definition {
	return &Definition{
		Flow:    models.FlowTypeInteraction,
		Initial: models.StateSelectAgent,
		Enter:   resolveCoordinator,
		Steps: map[models.StateType]Step{
			models.StateSelectAgent: agentStep(models.StateSelectTopic),
			models.StateSelectTopic: {
				Prompt: static(MsgSelectTopic, topicOptions()),
				Handle: pick(models.DataKeyTopic, models.StateSelectOutcome),
			},
			models.StateSelectOutcome: {
				Prompt: static(MsgSelectOutcome, interactionOutcomeOptions),
				Handle: handleInteractionOutcome,
			},
			models.StateScheduleFollowUp: followUpStep(models.StateAddNotes),
			models.StateAddNotes:         notesStep(models.StateConfirm),
			models.StateConfirm:          confirmStep(),
		},
		Build: buildInteraction,
	}
}

func handleInteractionOutcome(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
	o, err := t.choose(ev)
	if err != nil {
		return "", err
	}
	outcome, ok := interactionOutcomes[o.Value]
	if !ok {
		return "", invalid("unknown_option")
	}
	t.Fields().Set(models.DataKeyOutcome, string(outcome))
	return models.StateScheduleFollowUp, nil
}

func buildInteraction(t *Turn) (models.Command, error) {
	id, err := agentID(t)
	if err != nil {
		return nil, err
	}
	follow, err := t.followUpDate()
	if err != nil {
		return nil, err
	}
	f := t.Fields()
	return models.LogInteraction{
		ConversantID: t.Session.ConversantID,
		AgentID:      id,
		AgentName:    f.Value(models.DataKeyAgentName),
		Topic:        f.Value(models.DataKeyTopic),
		Outcome:      models.Outcome(f.Value(models.DataKeyOutcome)),
		Notes:        f.Value(models.DataKeyNotes),
		FollowUpDate: follow,
	}, nil
}
