package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/BTreeMap/ReEngage/internal/fallback"
	"github.com/BTreeMap/ReEngage/internal/flow"
	"github.com/BTreeMap/ReEngage/internal/lifecycle"
	"github.com/BTreeMap/ReEngage/internal/messaging"
	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/session"
	"github.com/BTreeMap/ReEngage/internal/store"
	"github.com/BTreeMap/ReEngage/internal/testutil"
	"github.com/BTreeMap/ReEngage/internal/triage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	gw          *store.InMemoryStore
	srv         *Server
	handler     http.Handler
	coordinator models.Coordinator
	agents      []models.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{gw: store.NewInMemoryStore()}
	t.Cleanup(func() { f.gw.Close() })
	seed := testutil.SeedCoordinator(t, f.gw, "c-1", "Ravi Shankar", "Anita Desai", "Farhan Sheikh")
	f.coordinator, f.agents = seed.Coordinator, seed.Agents

	clock := testutil.NewClock(testutil.Epoch).Now
	engine := flow.NewEngine(f.gw, fallback.Default(), flow.WithClock(clock))
	d := messaging.NewDispatcher(engine, session.NewMemoryStore(), lifecycle.NewExecutor(f.gw, nil, nil), messaging.WithDedup(f.gw))
	tr := triage.NewService(f.gw, fallback.Default(), triage.WithLocation(time.UTC))
	f.srv = NewServer(d, tr, f.gw, WithClock(clock))
	f.handler = f.srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, testutil.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env testutil.Envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestEventEndpointDrivesFlow(t *testing.T) {
	f := newFixture(t)
	path := "/v1/conversants/c-1/events"

	rec, env := f.do(t, http.MethodPost, path, EventRequest{
		MessageID: "wa-1",
		Flow:      models.FlowTypeInteraction,
		Event:     flow.Payload{Type: flow.EventStart},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(models.APIStatusOK), env.Status)

	var reply messaging.Reply
	require.NoError(t, json.Unmarshal(env.Result, &reply))
	assert.Equal(t, "c-1", reply.ConversantID)
	assert.Equal(t, models.StateSelectAgent, reply.State)
	require.NotEmpty(t, reply.Render)
	assert.Equal(t, flow.MsgSelectAgent, reply.Render[len(reply.Render)-1].Message)

	steps := []flow.Payload{
		{Type: flow.EventSelection, Value: strconv.FormatInt(f.agents[0].ID, 10)},
		{Type: flow.EventSelection, Value: "commission"},
		{Type: flow.EventSelection, Value: "positive"},
		{Type: flow.EventSelection, Value: "none"},
		{Type: flow.EventText, Body: "Wants to restart next week"},
		{Type: flow.EventSelection, Value: "yes"},
	}
	for i, p := range steps {
		rec, env = f.do(t, http.MethodPost, path, EventRequest{MessageID: "wa-step-" + string(rune('a'+i)), Event: p})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	require.NoError(t, json.Unmarshal(env.Result, &reply))
	assert.Equal(t, models.StateComplete, reply.State)
	require.NotNil(t, reply.Receipt)

	ixs, err := f.gw.ListInteractions(context.Background(), f.coordinator.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, ixs, 1)
	assert.Equal(t, "[Commission Query] Wants to restart next week", ixs[0].Notes)
}

func TestEventEndpointDropsRedelivery(t *testing.T) {
	f := newFixture(t)
	req := EventRequest{MessageID: "wa-7", Flow: models.FlowTypeQuiz, Event: flow.Payload{Type: flow.EventStart}}
	_, env := f.do(t, http.MethodPost, "/v1/conversants/c-9/events", req)
	var first messaging.Reply
	require.NoError(t, json.Unmarshal(env.Result, &first))
	assert.False(t, first.Duplicate)

	rec, env := f.do(t, http.MethodPost, "/v1/conversants/c-9/events", req)
	require.Equal(t, http.StatusOK, rec.Code)
	var second messaging.Reply
	require.NoError(t, json.Unmarshal(env.Result, &second))
	assert.True(t, second.Duplicate)
}

func TestEventEndpointRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	path := "/v1/conversants/c-1/events"
	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"event":`},
		{"unknown event type", EventRequest{Event: flow.Payload{Type: "sticker"}}},
		{"empty selection", EventRequest{Event: flow.Payload{Type: flow.EventSelection}}},
		{"start without flow", EventRequest{Event: flow.Payload{Type: flow.EventStart}}},
		{"unknown flow", EventRequest{Flow: "survey", Event: flow.Payload{Type: flow.EventStart}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := f.do(t, http.MethodPost, path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, string(models.APIStatusError), env.Status)
			assert.NotEmpty(t, env.Message)
		})
	}

	rec, _ := f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPriorityEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodGet, "/v1/coordinators/1/priority?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var items []triage.PriorityItem
	require.NoError(t, json.Unmarshal(env.Result, &items))
	require.Len(t, items, 2)
	assert.Equal(t, f.agents[0].ID, items[0].Agent.ID)
	assert.Equal(t, f.agents[1].ID, items[1].Agent.ID)

	rec, _ = f.do(t, http.MethodGet, "/v1/coordinators/1/priority?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCoordinatorViews(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.CreateDiaryEntry(context.Background(), models.DiaryEntry{
		CoordinatorID: f.coordinator.ID,
		Title:         "Branch visit",
		ScheduledDate: testutil.Epoch.AddDate(0, 0, 2),
	})
	require.NoError(t, err)

	rec, env := f.do(t, http.MethodGet, "/v1/coordinators/1/briefing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var b triage.Briefing
	require.NoError(t, json.Unmarshal(env.Result, &b))
	assert.Len(t, b.Priority, 3)
	assert.NotEmpty(t, b.Tip)

	rec, env = f.do(t, http.MethodGet, "/v1/coordinators/1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st triage.Stats
	require.NoError(t, json.Unmarshal(env.Result, &st))
	assert.Equal(t, 3, st.TotalAgents)

	rec, env = f.do(t, http.MethodGet, "/v1/coordinators/1/diary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var d triage.DiaryView
	require.NoError(t, json.Unmarshal(env.Result, &d))
	require.Len(t, d.Upcoming, 1)
	assert.Equal(t, "Branch visit", d.Upcoming[0].Title)
}

func TestCoordinatorLookupErrors(t *testing.T) {
	f := newFixture(t)
	for path, code := range map[string]int{
		"/v1/coordinators/abc/stats":   http.StatusBadRequest,
		"/v1/coordinators/0/diary":     http.StatusBadRequest,
		"/v1/coordinators/42/briefing": http.StatusNotFound,
	} {
		rec, env := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, code, rec.Code, path)
		assert.Equal(t, string(models.APIStatusError), env.Status, path)
	}
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(nil, nil, f.gw, WithAddr("127.0.0.1:0"), WithShutdownTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
