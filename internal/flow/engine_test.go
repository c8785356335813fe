package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ReEngage/internal/fallback"
	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/session"
	"github.com/BTreeMap/ReEngage/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2024, 5, 15, 10, 30, 0, 0, time.UTC)

type fixture struct {
	gw          *store.InMemoryStore
	coordinator models.Coordinator
	agents      []models.Agent
}

func newFixture(t *testing.T, names ...string) fixture {
	t.Helper()
	ctx := context.Background()
	gw := store.NewInMemoryStore()
	c, err := gw.CreateCoordinator(ctx, models.Coordinator{Name: "Meera Iyer", EmployeeID: "EMP001", Region: "Pune", ConversantID: "c-1"})
	require.NoError(t, err)
	f := fixture{gw: gw, coordinator: c}
	for i, name := range names {
		a, err := gw.CreateAgent(ctx, models.Agent{
			Name:           name,
			Phone:          fmt.Sprintf("98765000%02d", i),
			LifecycleState: models.LifecycleDormant,
			CoordinatorID:  &c.ID,
		})
		require.NoError(t, err)
		f.agents = append(f.agents, a)
	}
	return f
}

// downGateway fails every agent list read.
type downGateway struct {
	*store.InMemoryStore
}

func (downGateway) GetAgentsByCoordinator(context.Context, int64, int, string) (models.AgentPage, error) {
	return models.AgentPage{}, errors.New("connection refused")
}

func (downGateway) ListProductCategories(context.Context) ([]models.ProductCategory, error) {
	return nil, errors.New("connection refused")
}

func (downGateway) ListProducts(context.Context, string) ([]models.Product, error) {
	return nil, errors.New("connection refused")
}

func newEngine(gw store.Gateway) *Engine {
	return NewEngine(gw, fallback.Default(), WithClock(func() time.Time { return testNow }))
}

// run begins flow and feeds events, failing on any error or rejected event.
func run(t *testing.T, e *Engine, conversant string, flow models.FlowType, events ...Event) Result {
	t.Helper()
	ctx := context.Background()
	res, err := e.Begin(ctx, conversant, flow)
	require.NoError(t, err)
	for _, ev := range events {
		require.NotNil(t, res.Session, "no session before %#v", ev)
		state := res.Session.State
		res, err = e.Advance(ctx, res.Session, ev)
		require.NoError(t, err)
		require.NoError(t, res.Rejected, "event %#v in %s", ev, state)
	}
	return res
}

func prompt(res Result) RenderInstruction {
	return res.Render[len(res.Render)-1]
}

func optionValues(opts []models.Option) []string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.Value)
	}
	return out
}

func hasMessage(res Result, msg MessageKey) bool {
	for _, r := range res.Render {
		if r.Message == msg {
			return true
		}
	}
	return false
}

func fieldsEqual(a, b *session.Fields) bool {
	return cmp.Equal(a.Pairs(), b.Pairs())
}

func agentSel(a models.Agent) Selection {
	return Selection{Value: strconv.FormatInt(a.ID, 10)}
}

func TestFeedbackNotAnsweredSkipsTaxonomy(t *testing.T) {
	f := newFixture(t, "Ravi Shankar", "Sunita Rao")
	e := newEngine(f.gw)

	res := run(t, e, "c-1", models.FlowTypeFeedback)
	assert.Equal(t, models.StateSelectAgent, res.State())
	assert.Equal(t, SourceGateway, res.Session.Fields.Value(models.DataKeyDataSource))
	assert.Equal(t, []string{strconv.FormatInt(f.agents[0].ID, 10), strconv.FormatInt(f.agents[1].ID, 10), optSearch},
		optionValues(prompt(res).Options))

	res = run(t, e, "c-1", models.FlowTypeFeedback,
		agentSel(f.agents[0]),
		Selection{Value: "call"},
		Selection{Value: "not_answered"},
	)
	require.Equal(t, models.StateAddNotes, res.State())
	assert.Equal(t, models.CategoryNotApplicable, res.Session.Fields.Value(models.DataKeyCategory))
	assert.Equal(t, models.CategoryNotApplicable, res.Session.Fields.Value(models.DataKeySubcategory))

	res = run(t, e, "c-1", models.FlowTypeFeedback,
		agentSel(f.agents[0]),
		Selection{Value: "call"},
		Selection{Value: "not_answered"},
		Selection{Value: "skip"},
		Selection{Value: "tomorrow"},
		Selection{Value: "yes"},
	)
	require.Equal(t, models.StateComplete, res.State())
	assert.Equal(t, models.StateConfirm, res.ResumeState)

	follow := time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC)
	want := models.SubmitFeedback{
		ConversantID: "c-1",
		AgentID:      f.agents[0].ID,
		AgentName:    "Ravi Shankar",
		ContactType:  models.ChannelCall,
		Outcome:      models.OutcomeNotAnswered,
		Category:     models.CategoryNotApplicable,
		Subcategory:  models.CategoryNotApplicable,
		Notes:        NoNotes,
		FollowUpDate: &follow,
	}
	if diff := cmp.Diff(want, res.Command); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, res.Command.(models.SubmitFeedback).HasCategory())
}

func TestFeedbackConnectedCapturesReason(t *testing.T) {
	f := newFixture(t, "Ravi Shankar")
	e := newEngine(f.gw)

	res := run(t, e, "c-1", models.FlowTypeFeedback,
		agentSel(f.agents[0]),
		Selection{Value: "visit"},
		Selection{Value: "connected"},
	)
	require.Equal(t, models.StateSelectCategory, res.State())
	assert.Len(t, prompt(res).Options, len(models.Taxonomy))

	res = run(t, e, "c-1", models.FlowTypeFeedback,
		agentSel(f.agents[0]),
		Selection{Value: "visit"},
		Selection{Value: "connected"},
		Selection{Value: "system_issues"},
	)
	require.Equal(t, models.StateSelectSubcategory, res.State())
	assert.Equal(t, []string{"portal_down", "login_issues", "slow_performance", "app_crash"}, optionValues(prompt(res).Options))

	res = run(t, e, "c-1", models.FlowTypeFeedback,
		agentSel(f.agents[0]),
		Selection{Value: "visit"},
		Selection{Value: "connected"},
		Selection{Value: "system_issues"},
		Selection{Value: "portal_down"},
		Voice{FileID: "voice-1", Duration: 12},
		Text{Body: "20 May 2024"},
	)
	require.Equal(t, models.StateConfirm, res.State())
	assert.True(t, hasMessage(res, MsgConfirm))
	assert.Equal(t, "20 May 2024", prompt(res).Params["follow_up_date"])
	assert.Equal(t, "[Voice note: 12s]", prompt(res).Params["notes"])
	assert.NotContains(t, prompt(res).Params, "data_source")

	res, err := e.Advance(context.Background(), res.Session, Selection{Value: "yes"})
	require.NoError(t, err)
	cmd, ok := res.Command.(models.SubmitFeedback)
	require.True(t, ok)
	assert.True(t, cmd.HasCategory())
	assert.Equal(t, models.CategorySystemIssues, cmd.Category)
	assert.Equal(t, "portal_down", cmd.Subcategory)
	assert.Equal(t, "voice-1", cmd.VoiceFileID)
	assert.Equal(t, "2024-05-20", cmd.FollowUpDate.Format(FieldDateFormat))
}

func TestAdvanceIsDeterministicAndPure(t *testing.T) {
	f := newFixture(t, "Ravi Shankar", "Sunita Rao")
	events := []Event{
		agentSel(f.agents[1]),
		Selection{Value: "whatsapp"},
		Selection{Value: "fax"}, // rejected
		Selection{Value: "busy"},
		Text{Body: "Will call again after the festival"},
		Selection{Value: "1week"},
		Selection{Value: "yes"},
	}
	replay := func() ([][]RenderInstruction, Result) {
		e := newEngine(f.gw)
		res, err := e.Begin(context.Background(), "c-1", models.FlowTypeFeedback)
		require.NoError(t, err)
		renders := [][]RenderInstruction{res.Render}
		for _, ev := range events {
			before := res.Session.Clone()
			next, err := e.Advance(context.Background(), res.Session, ev)
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(before, res.Session, cmp.Comparer(fieldsEqual)), "input session mutated")
			renders = append(renders, next.Render)
			res = next
		}
		return renders, res
	}

	r1, last1 := replay()
	r2, last2 := replay()
	if diff := cmp.Diff(r1, r2); diff != "" {
		t.Errorf("renders differ between replays:\n%s", diff)
	}
	if diff := cmp.Diff(last1.Command, last2.Command); diff != "" {
		t.Errorf("commands differ between replays:\n%s", diff)
	}
	assert.Equal(t, "2024-05-22", last1.Command.(models.SubmitFeedback).FollowUpDate.Format(FieldDateFormat))
}

func TestFallbackAgentsWhenGatewayFails(t *testing.T) {
	f := newFixture(t, "Ravi Shankar")
	e := newEngine(downGateway{f.gw})

	res := run(t, e, "c-1", models.FlowTypeFeedback)
	require.Equal(t, models.StateSelectAgent, res.State())
	assert.True(t, hasMessage(res, MsgDemoData))
	assert.Equal(t, SourceFallback, res.Session.Fields.Value(models.DataKeyDataSource))
	opts := prompt(res).Options
	require.Len(t, opts, 9)
	assert.Equal(t, models.Option{Value: "1", Label: "Suresh Patel"}, opts[0])

	choices, ok := prompt(res).Data.([]AgentChoice)
	require.True(t, ok)
	assert.Equal(t, "AGT001", choices[0].Code)
	assert.Equal(t, models.AgentStatusInactive, choices[0].Status)

	res, err := e.Advance(context.Background(), res.Session, Text{Body: "kavita"})
	require.NoError(t, err)
	assert.Equal(t, []string{"6", optAll}, optionValues(prompt(res).Options))
}

func TestUnregisteredConversantGetsDemoAgents(t *testing.T) {
	e := newEngine(store.NewInMemoryStore())
	res := run(t, e, "stranger", models.FlowTypeInteraction)
	assert.Equal(t, SourceFallback, res.Session.Fields.Value(models.DataKeyDataSource))
	assert.Empty(t, res.Session.Fields.Value(models.DataKeyCoordinatorID))
}

func TestAgentPickerSearchAndPaging(t *testing.T) {
	names := []string{"Aarav Mehta", "Bhavna Joshi", "Chetan Rao", "Divya Nair", "Eshan Gill",
		"Farah Khan", "Gopal Das", "Hema Pillai", "Irfan Sheikh", "Jaya Menon"}
	f := newFixture(t, names...)
	e := newEngine(f.gw)
	ctx := context.Background()

	res := run(t, e, "c-1", models.FlowTypeFeedback)
	assert.Len(t, prompt(res).Options, models.AgentsPerPage+1)
	assert.Equal(t, "2", prompt(res).Params["total_pages"])

	res, err := e.Advance(ctx, res.Session, Page{Number: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Session.Page)
	assert.Equal(t, []string{strconv.FormatInt(f.agents[8].ID, 10), strconv.FormatInt(f.agents[9].ID, 10), optSearch},
		optionValues(prompt(res).Options))

	res, err = e.Advance(ctx, res.Session, Selection{Value: optSearch})
	require.NoError(t, err)
	assert.Equal(t, MsgSearchAgent, prompt(res).Message)
	assert.Equal(t, models.StateSelectAgent, res.State())

	res, err = e.Advance(ctx, res.Session, Text{Body: "a"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Rejected, ErrValidation)

	res, err = e.Advance(ctx, res.Session, Text{Body: "pillai"})
	require.NoError(t, err)
	assert.Equal(t, []string{strconv.FormatInt(f.agents[7].ID, 10), optAll}, optionValues(prompt(res).Options))
	assert.Equal(t, "pillai", prompt(res).Params["search"])

	res, err = e.Advance(ctx, res.Session, Text{Body: "zebra"})
	require.NoError(t, err)
	assert.True(t, hasMessage(res, MsgNoAgentsFound))
	assert.Len(t, prompt(res).Options, models.AgentsPerPage+1)
	assert.Empty(t, res.Session.Fields.Value(models.DataKeySearch))

	res, err = e.Advance(ctx, res.Session, agentSel(f.agents[9]))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Rejected, ErrValidation, "agent not on the cached page")
}

func TestRejectedEventRePromptsSameState(t *testing.T) {
	f := newFixture(t, "Ravi Shankar")
	e := newEngine(f.gw)
	res := run(t, e, "c-1", models.FlowTypeFeedback, agentSel(f.agents[0]))
	require.Equal(t, models.StateSelectContactType, res.State())

	res, err := e.Advance(context.Background(), res.Session, Selection{Value: "fax"})
	require.NoError(t, err)
	require.ErrorIs(t, res.Rejected, ErrValidation)
	assert.Equal(t, models.StateSelectContactType, res.State())
	require.Len(t, res.Render, 2)
	assert.Equal(t, RenderError, res.Render[0].Kind)
	assert.Equal(t, MsgInvalidInput, res.Render[0].Message)
	assert.Equal(t, []string{"call", "whatsapp", "visit"}, optionValues(prompt(res).Options))

	res, err = e.Advance(context.Background(), res.Session, Voice{FileID: "v"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Rejected, ErrStateViolation)
	assert.Equal(t, MsgUnexpectedInput, res.Render[0].Message)

	res, err = e.Advance(context.Background(), res.Session, Text{Body: "WhatsApp"})
	require.NoError(t, err)
	assert.NoError(t, res.Rejected)
	assert.Equal(t, models.StateSelectOutcome, res.State())
}

func TestFollowUpDateValidation(t *testing.T) {
	f := newFixture(t, "Ravi Shankar")
	e := newEngine(f.gw)
	res := run(t, e, "c-1", models.FlowTypeFeedback,
		agentSel(f.agents[0]), Selection{Value: "call"}, Selection{Value: "busy"}, Selection{Value: "skip"})
	require.Equal(t, models.StateSetFollowUp, res.State())

	for _, tc := range []struct {
		in     string
		reason string
	}{
		{"next tuesday", "date_format"},
		{"14 May 2024", "date_in_past"},
		{"2025-01-01", "date_too_far"},
	} {
		got, err := e.Advance(context.Background(), res.Session, Text{Body: tc.in})
		require.NoError(t, err)
		require.ErrorIs(t, got.Rejected, ErrValidation, tc.in)
		assert.Equal(t, tc.reason, got.Render[0].Params["reason"], tc.in)
	}

	got, err := e.Advance(context.Background(), res.Session, Text{Body: "2024-05-15"})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-15", got.Session.Fields.Value(models.DataKeyFollowUpDate))
}

func TestCancelFromAnyState(t *testing.T) {
	f := newFixture(t, "Ravi Shankar")
	e := newEngine(f.gw)
	paths := [][]Event{
		nil,
		{agentSel(f.agents[0])},
		{agentSel(f.agents[0]), Selection{Value: "call"}},
		{agentSel(f.agents[0]), Selection{Value: "call"}, Selection{Value: "connected"}, Selection{Value: "personal_reasons"}},
		{agentSel(f.agents[0]), Selection{Value: "call"}, Selection{Value: "busy"}, Selection{Value: "skip"}, Selection{Value: "none"}},
	}
	for _, path := range paths {
		res := run(t, e, "c-1", models.FlowTypeFeedback, path...)
		from := res.State()
		res, err := e.Advance(context.Background(), res.Session, Cancel{})
		require.NoError(t, err)
		assert.Equal(t, models.StateCancelled, res.State(), "cancel from %s", from)
		assert.Nil(t, res.Command)
		assert.Equal(t, Done(models.StateCancelled, MsgCancelled, nil), prompt(res))

		again, err := e.Advance(context.Background(), res.Session, Selection{Value: "yes"})
		require.NoError(t, err)
		assert.ErrorIs(t, again.Rejected, ErrStateViolation)
	}
}

func TestConfirmNoCancels(t *testing.T) {
	f := newFixture(t, "Ravi Shankar")
	e := newEngine(f.gw)
	res := run(t, e, "c-1", models.FlowTypeFeedback,
		agentSel(f.agents[0]), Selection{Value: "call"}, Selection{Value: "busy"},
		Selection{Value: "skip"}, Selection{Value: "none"}, Selection{Value: "no"})
	assert.Equal(t, models.StateCancelled, res.State())
	assert.Nil(t, res.Command)
}

func TestInteractionFlow(t *testing.T) {
	f := newFixture(t, "Ravi Shankar")
	e := newEngine(f.gw)
	res := run(t, e, "c-1", models.FlowTypeInteraction,
		agentSel(f.agents[0]),
		Selection{Value: "commission"},
		Selection{Value: "negative"},
		Selection{Value: "none"},
		Text{Body: "  Asked about slab rates  "},
		Selection{Value: "yes"},
	)
	require.Equal(t, models.StateComplete, res.State())
	want := models.LogInteraction{
		ConversantID: "c-1",
		AgentID:      f.agents[0].ID,
		AgentName:    "Ravi Shankar",
		Topic:        "commission",
		Outcome:      models.OutcomeDeclined,
		Notes:        "Asked about slab rates",
	}
	if diff := cmp.Diff(want, res.Command); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
}

func TestNotesTypeAndVoicePrompts(t *testing.T) {
	f := newFixture(t, "Ravi Shankar")
	e := newEngine(f.gw)
	res := run(t, e, "c-1", models.FlowTypeInteraction,
		agentSel(f.agents[0]), Selection{Value: "product"}, Selection{Value: "neutral"}, Selection{Value: "3days"})
	require.Equal(t, models.StateAddNotes, res.State())

	res, err := e.Advance(context.Background(), res.Session, Selection{Value: "type"})
	require.NoError(t, err)
	assert.Equal(t, MsgTypeNotes, prompt(res).Message)
	assert.Equal(t, models.StateAddNotes, res.State())
	assert.Equal(t, optionValues(notesOptions), optionValues(res.Session.Options), "cached options kept")

	res, err = e.Advance(context.Background(), res.Session, Text{Body: "   "})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Rejected, ErrValidation)

	res, err = e.Advance(context.Background(), res.Session, Selection{Value: "voice"})
	require.NoError(t, err)
	assert.Equal(t, MsgSendVoice, prompt(res).Message)

	res, err = e.Advance(context.Background(), res.Session, Voice{FileID: "v-9", Duration: 40})
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirm, res.State())
	assert.True(t, hasMessage(res, MsgVoiceReceived))
}

func TestQuizTwoOfThreeDoesNotPass(t *testing.T) {
	e := newEngine(store.NewInMemoryStore())
	res := run(t, e, "c-1", models.FlowTypeQuiz)
	require.Equal(t, models.StateSelectProductCategory, res.State())
	assert.Len(t, prompt(res).Options, 6)

	res = run(t, e, "c-1", models.FlowTypeQuiz, Selection{Value: "term"})
	assert.Equal(t, []string{"term_smart", "term_flexi", "term_plus", optBack}, optionValues(prompt(res).Options))

	res = run(t, e, "c-1", models.FlowTypeQuiz, Selection{Value: "term"}, Selection{Value: "term_smart"})
	require.Equal(t, models.StateViewSummary, res.State())
	summary, ok := prompt(res).Data.(models.ProductSummary)
	require.True(t, ok)
	assert.Equal(t, "Smart Term Plan", summary.Name)

	res = run(t, e, "c-1", models.FlowTypeQuiz,
		Selection{Value: "term"}, Selection{Value: "term_smart"}, Selection{Value: "start"})
	require.Equal(t, models.StateAnswerQuiz, res.State())
	q, ok := prompt(res).Data.(QuestionView)
	require.True(t, ok)
	assert.Equal(t, 1, q.Number)
	assert.Equal(t, 3, q.Total)

	res = run(t, e, "c-1", models.FlowTypeQuiz,
		Selection{Value: "term"}, Selection{Value: "term_smart"}, Selection{Value: "start"},
		Selection{Value: "1"}, Selection{Value: "1"}, Selection{Value: "0"})
	require.Equal(t, models.StateQuizResult, res.State())
	assert.True(t, hasMessage(res, MsgAnswerIncorrect))
	assert.Equal(t, "66.7", prompt(res).Params["percent"])
	assert.Equal(t, "false", prompt(res).Params["passed"])

	res, err := e.Advance(context.Background(), res.Session, Selection{Value: "done"})
	require.NoError(t, err)
	want := models.SubmitQuizScore{
		ConversantID: "c-1",
		ProductID:    "term_smart",
		ProductName:  "Smart Term Plan",
		Score:        2,
		Total:        3,
		FinishedAt:   testNow,
	}
	if diff := cmp.Diff(want, res.Command); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, want.Passed())
}

func TestQuizProductsFromStore(t *testing.T) {
	ctx := context.Background()
	gw := store.NewInMemoryStore()
	require.NoError(t, gw.SaveProductCategory(ctx, models.ProductCategory{Key: "motor", Label: "Motor Insurance"}))
	require.NoError(t, gw.SaveProduct(ctx, models.Product{ID: "motor_shield", Name: "Motor Shield", Category: "motor"}))
	require.NoError(t, gw.SaveProduct(ctx, models.Product{ID: "two_wheeler", Name: "Two Wheeler Cover", Category: "motor"}))
	e := newEngine(gw)

	res := run(t, e, "c-1", models.FlowTypeQuiz)
	assert.Equal(t, []string{"motor"}, optionValues(prompt(res).Options))

	res = run(t, e, "c-1", models.FlowTypeQuiz, Selection{Value: "motor"})
	assert.Equal(t, []string{"motor_shield", "two_wheeler", optBack}, optionValues(prompt(res).Options))

	// A category the store has no products for falls back to the demo list.
	require.NoError(t, gw.SaveProductCategory(ctx, models.ProductCategory{Key: "term", Label: "Term Insurance"}))
	res = run(t, e, "c-1", models.FlowTypeQuiz, Selection{Value: "term"})
	assert.Equal(t, []string{"term_smart", "term_flexi", "term_plus", optBack}, optionValues(prompt(res).Options))
}

func TestQuizProductsFallBackWhenStoreFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.gw.SaveProductCategory(context.Background(), models.ProductCategory{Key: "motor", Label: "Motor Insurance"}))
	e := newEngine(downGateway{f.gw})

	res := run(t, e, "c-1", models.FlowTypeQuiz)
	assert.Len(t, prompt(res).Options, 6)
	res = run(t, e, "c-1", models.FlowTypeQuiz, Selection{Value: "term"})
	assert.Equal(t, []string{"term_smart", "term_flexi", "term_plus", optBack}, optionValues(prompt(res).Options))
}

func TestQuizRetakeAndBack(t *testing.T) {
	e := newEngine(store.NewInMemoryStore())
	res := run(t, e, "c-1", models.FlowTypeQuiz,
		Selection{Value: "pension"}, Selection{Value: "pen_assured"}, Selection{Value: "start"},
		Selection{Value: "0"}, Selection{Value: "0"}, Selection{Value: "0"})
	require.Equal(t, models.StateQuizResult, res.State())
	assert.Equal(t, "0", prompt(res).Params["score"])

	retake := run(t, e, "c-1", models.FlowTypeQuiz,
		Selection{Value: "pension"}, Selection{Value: "pen_assured"}, Selection{Value: "start"},
		Selection{Value: "0"}, Selection{Value: "0"}, Selection{Value: "0"},
		Selection{Value: "retake"},
		Selection{Value: "1"}, Selection{Value: "1"}, Selection{Value: "1"})
	require.Equal(t, models.StateQuizResult, retake.State())
	assert.Equal(t, "3", prompt(retake).Params["score"])
	assert.Equal(t, "true", prompt(retake).Params["passed"])

	back, err := e.Advance(context.Background(), retake.Session, Selection{Value: "back"})
	require.NoError(t, err)
	assert.Equal(t, models.StateSelectProductCategory, back.State())
	assert.Empty(t, back.Session.Fields.Value(models.DataKeyQuizScore))

	res, err = e.Advance(context.Background(), res.Session, Selection{Value: "7"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Rejected, ErrValidation)
}

func TestNormalizeRegionConcurrent(t *testing.T) {
	inputs := map[string]string{
		"western ghats":    "Western Ghats",
		"  navi   MUMBAI ": "Navi Mumbai",
		"pune":             "Pune",
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				for in, want := range inputs {
					if got := normalizeRegion(in); got != want {
						t.Errorf("normalizeRegion(%q) = %q, want %q", in, got, want)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestOnboarding(t *testing.T) {
	e := newEngine(store.NewInMemoryStore())
	ctx := context.Background()
	res := run(t, e, "c-9", models.FlowTypeOnboarding, Text{Body: "  Ravi Kumar "})
	require.Equal(t, models.StateEnterEmployeeID, res.State())
	assert.Equal(t, "Ravi Kumar", res.Session.Fields.Value(models.DataKeyName))

	res, err := e.Advance(ctx, res.Session, Text{Body: "e1"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Rejected, ErrValidation)

	res, err = e.Advance(ctx, res.Session, Selection{Value: "x"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Rejected, ErrStateViolation)

	res = run(t, e, "c-9", models.FlowTypeOnboarding,
		Text{Body: "Ravi Kumar"}, Text{Body: "emp-042"}, Text{Body: "north   delhi"}, Selection{Value: "yes"})
	require.Equal(t, models.StateComplete, res.State())
	want := models.RegisterCoordinator{ConversantID: "c-9", Name: "Ravi Kumar", EmployeeID: "EMP-042", Region: "North Delhi"}
	if diff := cmp.Diff(want, res.Command); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
}

func TestOnboardingWelcomesRegisteredConversant(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f.gw)
	res, err := e.Begin(context.Background(), "c-1", models.FlowTypeOnboarding)
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	require.Len(t, res.Render, 1)
	assert.Equal(t, MsgWelcomeBack, res.Render[0].Message)
	assert.Equal(t, "Meera Iyer", res.Render[0].Params["name"])
}

func TestReopenOffersRetry(t *testing.T) {
	f := newFixture(t, "Ravi Shankar")
	e := newEngine(f.gw)
	res := run(t, e, "c-1", models.FlowTypeFeedback,
		agentSel(f.agents[0]), Selection{Value: "call"}, Selection{Value: "busy"},
		Selection{Value: "skip"}, Selection{Value: "none"}, Selection{Value: "yes"})
	require.Equal(t, models.StateComplete, res.State())

	reopened, err := e.Reopen(context.Background(), res.Session, res.ResumeState, Failure(MsgSubmissionFailed, nil))
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirm, reopened.State())
	assert.Equal(t, MsgSubmissionFailed, reopened.Render[0].Message)
	assert.Equal(t, []string{optYes, optNo}, optionValues(prompt(reopened).Options))
	assert.Equal(t, models.StateComplete, res.State(), "original untouched")
}

func TestUnknownFlow(t *testing.T) {
	e := newEngine(store.NewInMemoryStore())
	_, err := e.Begin(context.Background(), "c-1", models.FlowType("survey"))
	assert.ErrorIs(t, err, ErrUnknownFlow)
	assert.Equal(t, []models.FlowType{models.FlowTypeFeedback, models.FlowTypeInteraction, models.FlowTypeOnboarding, models.FlowTypeQuiz}, e.Flows())
}

func TestPayloadDecode(t *testing.T) {
	tests := []struct {
		in      Payload
		want    Event
		wantErr bool
	}{
		{Payload{Type: EventStart}, Start{}, false},
		{Payload{Type: EventSelection, Value: " yes "}, Selection{Value: "yes"}, false},
		{Payload{Type: EventSelection}, nil, true},
		{Payload{Type: EventText, Body: "hello"}, Text{Body: "hello"}, false},
		{Payload{Type: EventVoice, FileID: "f", Duration: 3}, Voice{FileID: "f", Duration: 3}, false},
		{Payload{Type: EventVoice}, nil, true},
		{Payload{Type: EventPage, Page: 2}, Page{Number: 2}, false},
		{Payload{Type: EventCancel}, Cancel{}, false},
		{Payload{Type: "sticker"}, nil, true},
	}
	for _, tt := range tests {
		got, err := tt.in.Decode()
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrValidation, "%+v", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
