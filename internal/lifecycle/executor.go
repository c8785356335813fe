package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/store"
)

// Receipt reports what a command wrote.
type Receipt struct {
	Kind          models.CommandKind     `json:"kind"`
	CoordinatorID int64                  `json:"coordinator_id"`
	InteractionID int64                  `json:"interaction_id,omitempty"`
	FeedbackID    int64                  `json:"feedback_id,omitempty"`
	Training      *models.TrainingRecord `json:"training,omitempty"`
	Delta         *models.AgentDelta     `json:"delta,omitempty"`
	Coordinator   *models.Coordinator    `json:"coordinator,omitempty"`
}

func (r *Receipt) fill(c models.ContactReceipt) {
	r.InteractionID = c.Interaction.ID
	if c.Feedback != nil {
		r.FeedbackID = c.Feedback.ID
	}
	delta := c.Delta
	r.Delta = &delta
}

// ErrAlreadyRegistered is returned when a conversant registers twice.
var ErrAlreadyRegistered = errors.New("conversant already registered")

// Executor applies domain commands against the record store.
type Executor struct {
	gw         store.Gateway
	controller *Controller
	scorer     Scorer
}

// NewExecutor creates an Executor. A nil scorer selects RuleScorer.
func NewExecutor(gw store.Gateway, controller *Controller, scorer Scorer) *Executor {
	if scorer == nil {
		scorer = RuleScorer{}
	}
	if controller == nil {
		controller = NewController(gw)
	}
	return &Executor{gw: gw, controller: controller, scorer: scorer}
}

// Execute applies cmd. Referenced records that do not exist yield an error wrapping
// store.ErrNotFound. A contact is written as one unit, so a failed Execute leaves nothing
// behind and may be retried.
func (e *Executor) Execute(ctx context.Context, cmd models.Command) (Receipt, error) {
	switch c := cmd.(type) {
	case models.SubmitFeedback:
		return e.submitFeedback(ctx, c)
	case models.LogInteraction:
		return e.logInteraction(ctx, c)
	case models.SubmitQuizScore:
		return e.submitQuizScore(ctx, c)
	case models.RegisterCoordinator:
		return e.registerCoordinator(ctx, c)
	default:
		return Receipt{}, fmt.Errorf("unsupported command %T", cmd)
	}
}

func (e *Executor) coordinator(ctx context.Context, conversantID string) (*models.Coordinator, error) {
	c, err := e.gw.GetCoordinatorByConversant(ctx, conversantID)
	if err != nil {
		return nil, fmt.Errorf("resolve coordinator for %s: %w", conversantID, err)
	}
	return c, nil
}

func (e *Executor) submitFeedback(ctx context.Context, c models.SubmitFeedback) (Receipt, error) {
	coord, err := e.coordinator(ctx, c.ConversantID)
	if err != nil {
		return Receipt{}, err
	}
	r := Receipt{Kind: c.Kind(), CoordinatorID: coord.ID}

	var fb *models.NewFeedback
	if c.HasCategory() {
		sentiment, priority := e.scorer.Score(c.Category, c.Subcategory, c.Notes)
		fb = &models.NewFeedback{
			AgentID:       c.AgentID,
			CoordinatorID: coord.ID,
			Category:      c.Category,
			Subcategory:   c.Subcategory,
			RawText:       c.Notes,
			VoiceFileID:   c.VoiceFileID,
			Sentiment:     sentiment,
			Priority:      priority,
		}
	}
	written, err := e.controller.RecordContact(ctx, Contact{
		AgentID:  c.AgentID,
		Kind:     ContactFeedback,
		Outcome:  c.Outcome,
		Category: c.Category,
	}, models.NewInteraction{
		CoordinatorID: coord.ID,
		Type:          c.ContactType,
		Outcome:       c.Outcome,
		Notes:         c.Notes,
		VoiceFileID:   c.VoiceFileID,
		FollowUpDate:  c.FollowUpDate,
	}, fb)
	if err != nil {
		return r, err
	}
	r.fill(written)
	slog.Info("Executor.submitFeedback: feedback recorded", "conversantID", c.ConversantID,
		"agentID", c.AgentID, "interactionID", r.InteractionID, "feedbackID", r.FeedbackID)
	return r, nil
}

func (e *Executor) logInteraction(ctx context.Context, c models.LogInteraction) (Receipt, error) {
	coord, err := e.coordinator(ctx, c.ConversantID)
	if err != nil {
		return Receipt{}, err
	}
	r := Receipt{Kind: c.Kind(), CoordinatorID: coord.ID}

	label := c.Topic
	if t, ok := models.LookupTopic(c.Topic); ok {
		label = t.Label
	}
	written, err := e.controller.RecordContact(ctx, Contact{
		AgentID: c.AgentID,
		Kind:    ContactInteraction,
		Outcome: c.Outcome,
	}, models.NewInteraction{
		CoordinatorID: coord.ID,
		Type:          models.ChannelCall,
		Outcome:       c.Outcome,
		Notes:         fmt.Sprintf("[%s] %s", label, c.Notes),
		FollowUpDate:  c.FollowUpDate,
	}, nil)
	if err != nil {
		return r, err
	}
	r.fill(written)
	slog.Info("Executor.logInteraction: interaction logged", "conversantID", c.ConversantID,
		"agentID", c.AgentID, "interactionID", r.InteractionID, "topic", c.Topic)
	return r, nil
}

func (e *Executor) submitQuizScore(ctx context.Context, c models.SubmitQuizScore) (Receipt, error) {
	coord, err := e.coordinator(ctx, c.ConversantID)
	if err != nil {
		return Receipt{}, err
	}
	up := models.TrainingUpsert{
		CoordinatorID: coord.ID,
		ProductID:     c.ProductID,
		ProductName:   c.ProductName,
		QuizScore:     models.ScorePercent(c.Score, c.Total),
		Completed:     c.Passed(),
	}
	if up.Completed {
		at := c.FinishedAt.UTC()
		up.CompletedAt = &at
	}
	rec, err := e.gw.UpsertTrainingRecord(ctx, up)
	if err != nil {
		return Receipt{CoordinatorID: coord.ID}, fmt.Errorf("upsert training record: %w", err)
	}
	slog.Info("Executor.submitQuizScore: training recorded", "conversantID", c.ConversantID,
		"productID", c.ProductID, "score", up.QuizScore, "passed", up.Completed)
	return Receipt{Kind: c.Kind(), CoordinatorID: coord.ID, Training: &rec}, nil
}

func (e *Executor) registerCoordinator(ctx context.Context, c models.RegisterCoordinator) (Receipt, error) {
	existing, err := e.gw.GetCoordinatorByConversant(ctx, c.ConversantID)
	if err == nil {
		return Receipt{Kind: c.Kind(), CoordinatorID: existing.ID, Coordinator: existing},
			fmt.Errorf("register %s: %w", c.ConversantID, ErrAlreadyRegistered)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Receipt{}, fmt.Errorf("check registration for %s: %w", c.ConversantID, err)
	}
	created, err := e.gw.CreateCoordinator(ctx, models.Coordinator{
		Name:         c.Name,
		EmployeeID:   c.EmployeeID,
		Region:       c.Region,
		ConversantID: c.ConversantID,
		MaxCapacity:  models.DefaultMaxCapacity,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("create coordinator: %w", err)
	}
	slog.Info("Executor.registerCoordinator: coordinator registered", "conversantID", c.ConversantID,
		"coordinatorID", created.ID, "employeeID", created.EmployeeID)
	return Receipt{Kind: c.Kind(), CoordinatorID: created.ID, Coordinator: &created}, nil
}
