// Package testutil provides shared fixtures for ReEngage tests: a controllable clock,
// seeded record stores and helpers for the JSON response envelope.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/store"
)

// Epoch is the fixed instant test clocks start at: a Wednesday morning.
var Epoch = time.Date(2024, 5, 15, 10, 30, 0, 0, time.UTC)

// Clock is a manually advanced clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock reading start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Seed is the data created by SeedCoordinator.
type Seed struct {
	Coordinator models.Coordinator
	Agents      []models.Agent
}

// SeedCoordinator creates a coordinator bound to conversantID and one dormant,
// never-contacted agent per name, in order.
func SeedCoordinator(t *testing.T, gw store.Gateway, conversantID string, agentNames ...string) Seed {
	t.Helper()
	ctx := context.Background()
	c, err := gw.CreateCoordinator(ctx, models.Coordinator{
		Name:         "Meera Iyer",
		EmployeeID:   "EMP001",
		Region:       "Pune",
		ConversantID: conversantID,
	})
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	seed := Seed{Coordinator: c}
	for _, name := range agentNames {
		a, err := gw.CreateAgent(ctx, models.Agent{
			Name:           name,
			LifecycleState: models.LifecycleDormant,
			CoordinatorID:  &c.ID,
		})
		if err != nil {
			t.Fatalf("failed to create agent %q: %v", name, err)
		}
		seed.Agents = append(seed.Agents, a)
	}
	return seed
}

// Envelope is models.APIResponse with the result left undecoded.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// DecodeEnvelope decodes rec's body and checks its status field.
func DecodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, expectedStatus models.APIStatus) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rec.Body.String(), err)
	}
	if env.Status != string(expectedStatus) {
		t.Errorf("expected status %q, got %q (message %q)", expectedStatus, env.Status, env.Message)
	}
	return env
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
