package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns every store implementation runnable in the current environment.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{"memory": NewInMemoryStore()}

	sqlite, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "reengage.db")))
	require.NoError(t, err)
	out["sqlite"] = sqlite

	// Postgres runs only against a dedicated, empty test database.
	if dsn := os.Getenv("REENGAGE_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := NewPostgresStore(WithPostgresDSN(dsn))
		require.NoError(t, err)
		out["postgres"] = pg
	}
	for _, s := range out {
		s := s
		t.Cleanup(func() { s.Close() })
	}
	return out
}

func seedCoordinator(t *testing.T, s Store, conversant string) models.Coordinator {
	t.Helper()
	// Suffix keeps conversant ids unique when a shared Postgres database is reused across runs.
	conversant = fmt.Sprintf("%s-%d", conversant, time.Now().UnixNano())
	c, err := s.CreateCoordinator(context.Background(), models.Coordinator{Name: "Ravi", EmployeeID: "ADM01", Region: "Pune", ConversantID: conversant})
	require.NoError(t, err)
	return c
}

func seedAgent(t *testing.T, s Store, coordinatorID int64, name string, state models.LifecycleState, score float64) models.Agent {
	t.Helper()
	a, err := s.CreateAgent(context.Background(), models.Agent{
		Name:            name,
		Phone:           "98200" + name[:1],
		LifecycleState:  state,
		EngagementScore: score,
		CoordinatorID:   &coordinatorID,
	})
	require.NoError(t, err)
	return a
}

func TestCoordinatorLookup(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seedCoordinator(t, s, "tg-100")
			seedAgent(t, s, c.ID, "Priya", models.LifecycleContacted, 20)
			seedAgent(t, s, c.ID, "Suresh", models.LifecycleDormant, 5)

			got, err := s.GetCoordinatorByConversant(ctx, c.ConversantID)
			require.NoError(t, err)
			assert.Equal(t, c.ID, got.ID)
			assert.Equal(t, 1, got.ActiveAgentCount)
			assert.Equal(t, models.DefaultMaxCapacity, got.MaxCapacity)

			_, err = s.GetCoordinatorByConversant(ctx, "tg-missing")
			assert.True(t, errors.Is(err, ErrNotFound))
			_, err = s.GetCoordinator(ctx, 9999)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestAgentPagingAndSearch(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seedCoordinator(t, s, "tg-200")
			names := []string{"Amit", "Bina", "Chetan", "Deepa", "Esha", "Farhan", "Gita", "Hari", "Isha", "Jai"}
			for i, n := range names {
				seedAgent(t, s, c.ID, n, models.LifecycleDormant, float64(i))
			}

			page1, err := s.GetAgentsByCoordinator(ctx, c.ID, 1, "")
			require.NoError(t, err)
			assert.Equal(t, 10, page1.Total)
			assert.Equal(t, 2, page1.TotalPages)
			require.Len(t, page1.Agents, models.AgentsPerPage)
			assert.Equal(t, "Jai", page1.Agents[0].Name, "highest score first")

			page2, err := s.GetAgentsByCoordinator(ctx, c.ID, 5, "")
			require.NoError(t, err)
			assert.Equal(t, 2, page2.Page, "page is clamped")
			assert.Len(t, page2.Agents, 2)

			found, err := s.GetAgentsByCoordinator(ctx, c.ID, 1, "ISHA")
			require.NoError(t, err)
			require.Len(t, found.Agents, 1)
			assert.Equal(t, "Isha", found.Agents[0].Name)

			byCode, err := s.GetAgentsByCoordinator(ctx, c.ID, 1, found.Agents[0].Code())
			require.NoError(t, err)
			require.NotEmpty(t, byCode.Agents)
			assert.Equal(t, found.Agents[0].ID, byCode.Agents[0].ID)

			none, err := s.GetAgentsByCoordinator(ctx, c.ID, 1, "zzz")
			require.NoError(t, err)
			assert.Empty(t, none.Agents)
			assert.Equal(t, 1, none.TotalPages)
		})
	}
}

func TestUpdateAgentAfterContact(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seedCoordinator(t, s, "tg-300")
			a := seedAgent(t, s, c.ID, "Suresh", models.LifecycleDormant, 10)
			day := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)

			delta, err := s.UpdateAgentAfterContact(ctx, models.ContactUpdate{AgentID: a.ID, ScoreDelta: 5, ContactDate: day})
			require.NoError(t, err)
			assert.Equal(t, models.LifecycleDormant, delta.FromState)
			assert.Equal(t, models.LifecycleContacted, delta.ToState)
			assert.Equal(t, 10.0, delta.PreviousScore)

			got, err := s.GetAgent(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, models.LifecycleContacted, got.LifecycleState)
			assert.Equal(t, 15.0, got.EngagementScore)
			require.NotNil(t, got.LastContactDate)
			assert.True(t, got.LastContactDate.Equal(day))

			// The second update starts from the stored score, not from a caller's snapshot.
			delta, err = s.UpdateAgentAfterContact(ctx, models.ContactUpdate{AgentID: a.ID, ScoreDelta: 3, ContactDate: day})
			require.NoError(t, err)
			assert.Equal(t, 18.0, delta.EngagementScore)

			_, err = s.UpdateAgentAfterContact(ctx, models.ContactUpdate{AgentID: 424242, ScoreDelta: 5, ContactDate: day})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRecordContact(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seedCoordinator(t, s, "tg-310")
			a := seedAgent(t, s, c.ID, "Priya", models.LifecycleDormant, 0)
			day := time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC)

			r, err := s.RecordContact(ctx, models.ContactRecord{
				Interaction: models.NewInteraction{AgentID: a.ID, CoordinatorID: c.ID, Type: models.ChannelCall, Outcome: models.OutcomeConnected, Notes: "Agreed to restart"},
				Feedback:    &models.NewFeedback{AgentID: a.ID, CoordinatorID: c.ID, Category: models.CategoryCommissionConcerns, Subcategory: "delayed_payment"},
				ScoreDelta:  5,
				ContactDate: day,
			})
			require.NoError(t, err)
			assert.NotZero(t, r.Interaction.ID)
			require.NotNil(t, r.Feedback)
			require.NotNil(t, r.Feedback.InteractionID)
			assert.Equal(t, r.Interaction.ID, *r.Feedback.InteractionID)
			assert.Equal(t, models.LifecycleContacted, r.Delta.ToState)
			assert.Equal(t, 5.0, r.Delta.EngagementScore)

			_, err = s.RecordContact(ctx, models.ContactRecord{
				Interaction: models.NewInteraction{AgentID: 424242, CoordinatorID: c.ID, Type: models.ChannelCall, Outcome: models.OutcomeBusy},
				ScoreDelta:  5,
				ContactDate: day,
			})
			assert.ErrorIs(t, err, ErrNotFound)

			ixs, err := s.ListInteractions(ctx, c.ID, time.Time{})
			require.NoError(t, err)
			assert.Len(t, ixs, 1)
		})
	}
}

func TestRecordContactRollsBackOnFailure(t *testing.T) {
	s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "reengage.db")))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	c := seedCoordinator(t, s, "tg-320")
	a := seedAgent(t, s, c.ID, "Neeta", models.LifecycleDormant, 10)

	// The feedback insert is the last write; make it fail after the agent and interaction writes.
	_, err = s.db.Exec(`DROP TABLE feedback`)
	require.NoError(t, err)

	_, err = s.RecordContact(ctx, models.ContactRecord{
		Interaction: models.NewInteraction{AgentID: a.ID, CoordinatorID: c.ID, Type: models.ChannelVisit, Outcome: models.OutcomeConnected},
		Feedback:    &models.NewFeedback{AgentID: a.ID, CoordinatorID: c.ID, Category: models.CategorySystemIssues, Subcategory: "login_issues"},
		ScoreDelta:  5,
		ContactDate: time.Date(2025, 4, 4, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)

	ixs, err := s.ListInteractions(ctx, c.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, ixs)
	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LifecycleDormant, got.LifecycleState)
	assert.Equal(t, 10.0, got.EngagementScore)
	assert.Nil(t, got.LastContactDate)
}

func TestInteractionsAndOverdue(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seedCoordinator(t, s, "tg-400")
			a := seedAgent(t, s, c.ID, "Amit", models.LifecycleAtRisk, 30)
			today := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
			older := today.AddDate(0, 0, -5)
			newer := today.AddDate(0, 0, -1)
			future := today.AddDate(0, 0, 2)

			for _, d := range []time.Time{newer, future, older} {
				d := d
				_, err := s.CreateInteraction(ctx, models.NewInteraction{
					AgentID: a.ID, CoordinatorID: c.ID, Type: models.ChannelCall, Outcome: models.OutcomeCallbackRequested, FollowUpDate: &d,
				})
				require.NoError(t, err)
			}
			plain, err := s.CreateInteraction(ctx, models.NewInteraction{AgentID: a.ID, CoordinatorID: c.ID, Type: models.ChannelVisit, Outcome: models.OutcomeConnected})
			require.NoError(t, err)
			assert.Empty(t, plain.FollowUpStatus)

			overdue, err := s.GetOverdueInteractions(ctx, c.ID, today)
			require.NoError(t, err)
			require.Len(t, overdue, 2)
			assert.True(t, overdue[0].FollowUpDate.Equal(older), "oldest first")
			assert.True(t, overdue[1].FollowUpDate.Equal(newer))

			upcoming, err := s.GetUpcomingFollowUps(ctx, c.ID, today)
			require.NoError(t, err)
			require.Len(t, upcoming, 1)
			assert.True(t, upcoming[0].FollowUpDate.Equal(future))

			all, err := s.ListInteractions(ctx, c.ID, time.Time{})
			require.NoError(t, err)
			assert.Len(t, all, 4)
		})
	}
}

func TestFeedbackStatusMachine(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seedCoordinator(t, s, "tg-500")
			a := seedAgent(t, s, c.ID, "Neeta", models.LifecycleDormant, 0)
			i, err := s.CreateInteraction(ctx, models.NewInteraction{AgentID: a.ID, CoordinatorID: c.ID, Type: models.ChannelCall, Outcome: models.OutcomeConnected})
			require.NoError(t, err)

			f, err := s.CreateFeedback(ctx, models.NewFeedback{
				AgentID: a.ID, CoordinatorID: c.ID, InteractionID: &i.ID,
				Category: models.CategorySystemIssues, Subcategory: "portal_down",
				Sentiment: models.SentimentNegative, Priority: models.PriorityHigh,
			})
			require.NoError(t, err)
			assert.Equal(t, models.FeedbackNew, f.Status)

			require.NoError(t, s.UpdateFeedbackStatus(ctx, f.ID, models.FeedbackActioned))
			assert.ErrorIs(t, s.UpdateFeedbackStatus(ctx, f.ID, models.FeedbackNew), models.ErrIllegalTransition)
			assert.ErrorIs(t, s.UpdateFeedbackStatus(ctx, 987654, models.FeedbackResolved), ErrNotFound)

			list, err := s.ListFeedback(ctx, c.ID, time.Time{})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, models.FeedbackActioned, list[0].Status)
			require.NotNil(t, list[0].InteractionID)
			assert.Equal(t, i.ID, *list[0].InteractionID)
		})
	}
}

func TestDiaryEntries(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seedCoordinator(t, s, "tg-600")
			today := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
			mk := func(offset int, at string) models.DiaryEntry {
				e, err := s.CreateDiaryEntry(ctx, models.DiaryEntry{
					CoordinatorID: c.ID, Title: "call", ScheduledDate: today.AddDate(0, 0, offset), ScheduledTime: at,
				})
				require.NoError(t, err)
				return e
			}
			past := mk(-3, "10:00")
			late := mk(0, "16:00")
			early := mk(0, "09:00")
			mk(9, "11:00")

			window, err := s.GetDiaryEntries(ctx, c.ID, today, today.AddDate(0, 0, 7))
			require.NoError(t, err)
			require.Len(t, window, 2)
			assert.Equal(t, early.ID, window[0].ID)
			assert.Equal(t, late.ID, window[1].ID)

			open, err := s.GetDiaryEntries(ctx, c.ID, time.Time{}, today)
			require.NoError(t, err)
			assert.Len(t, open, 3)

			require.NoError(t, s.UpdateDiaryStatus(ctx, past.ID, models.DiaryMissed))
			require.NoError(t, s.UpdateDiaryStatus(ctx, past.ID, models.DiaryCompleted))
			assert.ErrorIs(t, s.UpdateDiaryStatus(ctx, past.ID, models.DiaryScheduled), models.ErrIllegalTransition)
		})
	}
}

func TestTrainingUpsert(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seedCoordinator(t, s, "tg-700")
			first, err := s.UpsertTrainingRecord(ctx, models.TrainingUpsert{CoordinatorID: c.ID, ProductID: "term_smart", QuizScore: 66.7})
			require.NoError(t, err)
			assert.False(t, first.Completed)

			done := time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
			second, err := s.UpsertTrainingRecord(ctx, models.TrainingUpsert{CoordinatorID: c.ID, ProductID: "term_smart", QuizScore: 100, Completed: true, CompletedAt: &done})
			require.NoError(t, err)
			assert.Equal(t, first.ID, second.ID)

			records, err := s.ListTrainingRecords(ctx, c.ID)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.True(t, records[0].Completed)
			assert.Equal(t, 100.0, records[0].QuizScore)
			require.NotNil(t, records[0].CompletedAt)
		})
	}
}

func TestFlowStatePersistence(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Now().Add(-2 * time.Hour).UTC()
			fresh := time.Now().UTC()

			got, err := s.GetFlowState(ctx, "nobody")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, s.SaveFlowState(ctx, models.FlowState{
				ConversantID: "c1", SessionID: "s1", FlowType: models.FlowTypeFeedback,
				CurrentState: models.StateSelectAgent, Payload: `{"a":1}`, CreatedAt: old, UpdatedAt: old,
			}))
			require.NoError(t, s.SaveFlowState(ctx, models.FlowState{
				ConversantID: "c2", SessionID: "s2", FlowType: models.FlowTypeQuiz,
				CurrentState: models.StateAnswerQuiz, CreatedAt: fresh, UpdatedAt: fresh,
			}))

			got, err = s.GetFlowState(ctx, "c1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, models.StateSelectAgent, got.CurrentState)
			assert.Equal(t, `{"a":1}`, got.Payload)

			removed, err := s.DeleteFlowStatesBefore(ctx, time.Now().Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, []string{"c1"}, removed)

			require.NoError(t, s.DeleteFlowState(ctx, "c2"))
			got, err = s.GetFlowState(ctx, "c2")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestInboundDedup(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := s.RecordInbound(ctx, "msg-1", "c1")
			require.NoError(t, err)
			assert.True(t, first)

			again, err := s.RecordInbound(ctx, "msg-1", "c1")
			require.NoError(t, err)
			assert.False(t, again)

			dup, err := s.IsDuplicate(ctx, "msg-1")
			require.NoError(t, err)
			assert.True(t, dup)
			require.NoError(t, s.MarkProcessed(ctx, "msg-1"))
		})
	}
}

func TestDetectDSNType(t *testing.T) {
	assert.Equal(t, "postgres", DetectDSNType("postgres://u:p@localhost/db"))
	assert.Equal(t, "postgres", DetectDSNType("host=localhost dbname=x"))
	assert.Equal(t, "sqlite3", DetectDSNType("/var/lib/reengage/reengage.db"))
}

func TestDollarBind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", dollarBind("a = ? AND b = ?"))
	assert.Equal(t, "x", questionBind("x"))
}

func TestOpenWithoutDSNIsMemory(t *testing.T) {
	s, err := Open()
	require.NoError(t, err)
	_, ok := s.(*InMemoryStore)
	assert.True(t, ok)
}

func TestProductCatalog(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveProductCategory(ctx, models.ProductCategory{Key: "ulip", Label: "ULIPs"}))
			require.NoError(t, s.SaveProductCategory(ctx, models.ProductCategory{Key: "health", Label: "Health"}))
			require.NoError(t, s.SaveProductCategory(ctx, models.ProductCategory{Key: "ulip", Label: "Unit Linked Plans"}))
			require.NoError(t, s.SaveProduct(ctx, models.Product{ID: "ulip_growth", Name: "Growth Fund", Category: "ulip"}))
			require.NoError(t, s.SaveProduct(ctx, models.Product{ID: "health_family", Name: "Family Floater", Category: "health"}))
			require.NoError(t, s.SaveProduct(ctx, models.Product{ID: "ulip_balanced", Name: "Balanced Fund", Category: "ulip"}))

			cats, err := s.ListProductCategories(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.ProductCategory{{Key: "ulip", Label: "Unit Linked Plans"}, {Key: "health", Label: "Health"}}, cats)

			products, err := s.ListProducts(ctx, "ulip")
			require.NoError(t, err)
			assert.Equal(t, []models.Product{
				{ID: "ulip_growth", Name: "Growth Fund", Category: "ulip"},
				{ID: "ulip_balanced", Name: "Balanced Fund", Category: "ulip"},
			}, products)

			none, err := s.ListProducts(ctx, "motor")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}
