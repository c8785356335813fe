// Package store provides the record store gateway for ReEngage.
//
// The Gateway interface is the read/write contract the conversation engine, lifecycle
// controller and triage loader consume. Implementations are an in-memory store for tests
// and demos, and SQLite and PostgreSQL stores sharing one SQL layer.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// Gateway is the record store contract for agents, coordinators, interactions,
// feedback, diary entries and training records.
type Gateway interface {
	GetCoordinator(ctx context.Context, id int64) (*models.Coordinator, error)
	// GetCoordinatorByConversant returns ErrNotFound when the chat identity is not registered.
	GetCoordinatorByConversant(ctx context.Context, conversantID string) (*models.Coordinator, error)
	CreateCoordinator(ctx context.Context, c models.Coordinator) (models.Coordinator, error)

	GetAgent(ctx context.Context, id int64) (*models.Agent, error)
	CreateAgent(ctx context.Context, a models.Agent) (models.Agent, error)
	// GetAgentsByCoordinator returns one page (1-based) ordered by engagement score, highest first.
	// A non-empty search filters by name, phone or agent code.
	GetAgentsByCoordinator(ctx context.Context, coordinatorID int64, page int, search string) (models.AgentPage, error)
	ListAgentsByCoordinator(ctx context.Context, coordinatorID int64) ([]models.Agent, error)
	// UpdateAgentAfterContact applies u to the agent's current row atomically and returns the
	// resulting delta; ErrNotFound when the agent is missing.
	UpdateAgentAfterContact(ctx context.Context, u models.ContactUpdate) (models.AgentDelta, error)
	// RecordContact writes the interaction, the optional linked feedback and the agent update
	// of one contact. Either all of them are written or none are.
	RecordContact(ctx context.Context, rec models.ContactRecord) (models.ContactReceipt, error)

	CreateInteraction(ctx context.Context, in models.NewInteraction) (models.Interaction, error)
	// GetOverdueInteractions returns pending interactions whose follow-up date is before asOf.
	GetOverdueInteractions(ctx context.Context, coordinatorID int64, asOf time.Time) ([]models.Interaction, error)
	// GetUpcomingFollowUps returns pending interactions whose follow-up date is on or after from.
	GetUpcomingFollowUps(ctx context.Context, coordinatorID int64, from time.Time) ([]models.Interaction, error)
	ListInteractions(ctx context.Context, coordinatorID int64, since time.Time) ([]models.Interaction, error)

	CreateFeedback(ctx context.Context, in models.NewFeedback) (models.Feedback, error)
	ListFeedback(ctx context.Context, coordinatorID int64, since time.Time) ([]models.Feedback, error)
	UpdateFeedbackStatus(ctx context.Context, id int64, status models.FeedbackStatus) error

	CreateDiaryEntry(ctx context.Context, e models.DiaryEntry) (models.DiaryEntry, error)
	// GetDiaryEntries returns entries scheduled within [onOrAfter, onOrBefore]. A zero onOrAfter is unbounded.
	GetDiaryEntries(ctx context.Context, coordinatorID int64, onOrAfter, onOrBefore time.Time) ([]models.DiaryEntry, error)
	UpdateDiaryStatus(ctx context.Context, id int64, status models.DiaryStatus) error

	UpsertTrainingRecord(ctx context.Context, in models.TrainingUpsert) (models.TrainingRecord, error)
	ListTrainingRecords(ctx context.Context, coordinatorID int64) ([]models.TrainingRecord, error)

	// ListProductCategories returns the training categories in the order they were first saved.
	ListProductCategories(ctx context.Context) ([]models.ProductCategory, error)
	// ListProducts returns the products of one category in the order they were first saved.
	ListProducts(ctx context.Context, category string) ([]models.Product, error)
	// SaveProductCategory and SaveProduct insert an entry or update it in place.
	SaveProductCategory(ctx context.Context, c models.ProductCategory) error
	SaveProduct(ctx context.Context, p models.Product) error
}

// FlowStateRepo persists in-progress conversation sessions.
type FlowStateRepo interface {
	SaveFlowState(ctx context.Context, state models.FlowState) error
	// GetFlowState returns nil, nil when the conversant has no session.
	GetFlowState(ctx context.Context, conversantID string) (*models.FlowState, error)
	DeleteFlowState(ctx context.Context, conversantID string) error
	// DeleteFlowStatesBefore removes sessions last updated at or before cutoff and returns their conversant ids.
	DeleteFlowStatesBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Store is the full persistence surface a backend provides.
type Store interface {
	Gateway
	FlowStateRepo
	DedupRepo
	Close() error
}

// totalPages returns the number of pages needed for total items, at least one.
func totalPages(total, perPage int) int {
	if total <= 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}

// normalizePage clamps a 1-based page number into range.
func normalizePage(page, pages int) int {
	if page < 1 {
		return 1
	}
	if page > pages {
		return pages
	}
	return page
}
