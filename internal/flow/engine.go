// Package flow implements the conversational capture procedures as table-driven state
// machines.
//
// Each flow is a Definition: an initial state and, per state, a Step that renders the
// prompt and handles the next Event. The Engine advances a copy of the caller's session
// one event at a time and, when a flow reaches COMPLETE, returns exactly one domain
// command for the caller to execute. Rejected input re-prompts without changing state.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BTreeMap/ReEngage/internal/fallback"
	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/session"
	"github.com/BTreeMap/ReEngage/internal/store"
)

var (
	// ErrValidation marks input that failed a per-state validator.
	ErrValidation = errors.New("invalid input")
	// ErrStateViolation marks an event the current state does not accept.
	ErrStateViolation = errors.New("event not accepted in current state")
	// ErrBackendUnavailable is returned when neither the record store nor the demo data can
	// serve a step.
	ErrBackendUnavailable = errors.New("record store unavailable")
	// ErrUnknownFlow is returned for a flow type without a registered Definition.
	ErrUnknownFlow = errors.New("unknown flow")
)

// DefaultGatewayTimeout bounds each record store read made while rendering a step.
const DefaultGatewayTimeout = 3 * time.Second

// Rejection refuses an event without advancing. Cause is ErrValidation or ErrStateViolation.
type Rejection struct {
	Cause   error
	Message MessageKey
	Params  map[string]string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%v (%s)", r.Cause, r.Message)
}

func (r *Rejection) Unwrap() error {
	return r.Cause
}

func invalid(reason string) error {
	return &Rejection{Cause: ErrValidation, Message: MsgInvalidInput, Params: map[string]string{"reason": reason}}
}

func unexpected(state models.StateType, ev Event) error {
	return &Rejection{
		Cause:   ErrStateViolation,
		Message: MsgUnexpectedInput,
		Params:  map[string]string{"state": string(state), "event": string(ev.Kind())},
	}
}

// Step is one state of a flow.
type Step struct {
	// Prompt renders the state and refreshes the session's cached option list.
	Prompt func(ctx context.Context, t *Turn) (RenderInstruction, error)
	// Handle consumes one event and returns the next state. Returning the current state
	// re-renders it.
	Handle func(ctx context.Context, t *Turn, ev Event) (models.StateType, error)
}

// Definition is a complete flow.
type Definition struct {
	Flow    models.FlowType
	Initial models.StateType
	Steps   map[models.StateType]Step
	// Enter runs before the first prompt. A non-nil instruction declines the flow and no
	// session is started.
	Enter func(ctx context.Context, t *Turn) (*RenderInstruction, error)
	// Build produces the command emitted on COMPLETE.
	Build func(t *Turn) (models.Command, error)
}

// Result is the outcome of one engine call.
type Result struct {
	// Session is the advanced copy; nil when Begin declined to start a session.
	Session *session.Session
	Render  []RenderInstruction
	// Command is set when the session reached COMPLETE.
	Command models.Command
	// ResumeState is the state COMPLETE was reached from.
	ResumeState models.StateType
	// Rejected wraps ErrValidation or ErrStateViolation when the event was refused.
	Rejected error
}

// State returns the session state after the call, or "" without a session.
func (r Result) State() models.StateType {
	if r.Session == nil {
		return ""
	}
	return r.Session.State
}

// Opts configures an Engine.
type Opts struct {
	Clock          func() time.Time
	Location       *time.Location
	GatewayTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Opts)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) {
		o.Clock = clock
	}
}

// WithLocation sets the time zone used for follow-up dates.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.Location = loc
	}
}

// WithGatewayTimeout bounds record store reads made while rendering.
func WithGatewayTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.GatewayTimeout = d
	}
}

// Engine runs flow definitions.
type Engine struct {
	gw       store.Gateway
	fallback fallback.Provider
	defs     map[models.FlowType]*Definition
	opts     Opts
}

// NewEngine creates an Engine with the feedback, interaction, quiz and onboarding flows
// registered.
func NewEngine(gw store.Gateway, provider fallback.Provider, opts ...Option) *Engine {
	o := Opts{Clock: time.Now, Location: time.UTC, GatewayTimeout: DefaultGatewayTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.GatewayTimeout <= 0 {
		o.GatewayTimeout = DefaultGatewayTimeout
	}
	if provider == nil {
		provider = fallback.Default()
	}
	e := &Engine{gw: gw, fallback: provider, defs: make(map[models.FlowType]*Definition), opts: o}
	e.Register(feedbackDefinition())
	e.Register(interactionDefinition())
	e.Register(quizDefinition())
	e.Register(onboardingDefinition())
	return e
}

// Register adds or replaces a flow definition.
func (e *Engine) Register(def *Definition) {
	e.defs[def.Flow] = def
}

// Flows returns the registered flow types in lexical order.
func (e *Engine) Flows() []models.FlowType {
	out := make([]models.FlowType, 0, len(e.defs))
	for f := range e.defs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.opts.Clock()
}

// CheckFlow returns an error wrapping ErrUnknownFlow unless flow is registered.
func (e *Engine) CheckFlow(flow models.FlowType) error {
	_, err := e.definition(flow)
	return err
}

func (e *Engine) definition(flow models.FlowType) (*Definition, error) {
	def, ok := e.defs[flow]
	if !ok {
		return nil, fmt.Errorf("flow %q: %w", flow, ErrUnknownFlow)
	}
	return def, nil
}

// Begin starts flow for conversantID and renders its first state.
func (e *Engine) Begin(ctx context.Context, conversantID string, flow models.FlowType) (Result, error) {
	def, err := e.definition(flow)
	if err != nil {
		return Result{}, err
	}
	t := e.turn(session.New(conversantID, flow, def.Initial, e.Now()))
	if def.Enter != nil {
		declined, err := def.Enter(ctx, t)
		if err != nil {
			return Result{}, fmt.Errorf("Engine.Begin: enter %s: %w", flow, err)
		}
		if declined != nil {
			slog.Debug("Engine.Begin: flow declined", "flow", flow, "conversantID", conversantID, "message", declined.Message)
			return Result{Render: append(t.notes, *declined)}, nil
		}
	}
	slog.Debug("Engine.Begin: session started", "flow", flow, "conversantID", conversantID, "sessionID", t.Session.ID)
	return e.settle(ctx, t, def, def.Initial, def.Initial)
}

// Advance applies ev to a copy of sess. The caller's session is never modified.
func (e *Engine) Advance(ctx context.Context, sess *session.Session, ev Event) (Result, error) {
	def, err := e.definition(sess.Flow)
	if err != nil {
		return Result{}, err
	}
	t := e.turn(sess.Clone())
	current := t.Session.State
	if current.IsTerminal() {
		rej := &Rejection{Cause: ErrStateViolation, Message: MsgNoActiveSession}
		return Result{Session: t.Session, Render: []RenderInstruction{Failure(rej.Message, nil)}, Rejected: rej}, nil
	}
	if _, ok := ev.(Cancel); ok {
		slog.Debug("Engine.Advance: cancelled", "flow", sess.Flow, "state", current, "conversantID", sess.ConversantID)
		return e.settle(ctx, t, def, current, models.StateCancelled)
	}
	step, ok := def.Steps[current]
	if !ok {
		return Result{}, fmt.Errorf("Engine.Advance: flow %s has no state %s", sess.Flow, current)
	}

	next, err := step.Handle(ctx, t, ev)
	if err != nil {
		var rej *Rejection
		switch {
		case errors.As(err, &rej):
			slog.Debug("Engine.Advance: event rejected", "flow", sess.Flow, "state", current, "event", ev.Kind(), "error", err)
			t.notify(Failure(rej.Message, rej.Params))
			res, err := e.settle(ctx, t, def, current, current)
			res.Rejected = rej
			return res, err
		case errors.Is(err, ErrBackendUnavailable):
			return e.unavailable(t, current)
		default:
			return Result{}, fmt.Errorf("Engine.Advance: %s in %s: %w", sess.Flow, current, err)
		}
	}
	if next != current {
		slog.Debug("Engine.Advance: transition", "flow", sess.Flow, "from", current, "to", next, "conversantID", sess.ConversantID)
	}
	return e.settle(ctx, t, def, current, next)
}

// Reopen returns a session to state and re-renders it after note. Used to offer a retry
// when executing a completed flow's command failed.
func (e *Engine) Reopen(ctx context.Context, sess *session.Session, state models.StateType, note RenderInstruction) (Result, error) {
	def, err := e.definition(sess.Flow)
	if err != nil {
		return Result{}, err
	}
	if _, ok := def.Steps[state]; !ok {
		return Result{}, fmt.Errorf("Engine.Reopen: flow %s has no state %s", sess.Flow, state)
	}
	t := e.turn(sess.Clone())
	t.Session.State = state
	t.notify(note)
	return e.settle(ctx, t, def, state, state)
}

// settle moves the turn's session into next and renders it.
func (e *Engine) settle(ctx context.Context, t *Turn, def *Definition, from, next models.StateType) (Result, error) {
	sess := t.Session
	sess.UpdatedAt = t.now
	switch next {
	case models.StateCancelled:
		sess.State = next
		sess.Options = nil
		return Result{Session: sess, Render: append(t.notes, Done(next, MsgCancelled, nil))}, nil
	case models.StateComplete:
		cmd, err := def.Build(t)
		if err != nil {
			return Result{}, fmt.Errorf("Engine: build %s command: %w", def.Flow, err)
		}
		sess.State = next
		sess.Options = nil
		return Result{Session: sess, Render: t.notes, Command: cmd, ResumeState: from}, nil
	}

	step, ok := def.Steps[next]
	if !ok {
		return Result{}, fmt.Errorf("Engine: flow %s has no state %s", def.Flow, next)
	}
	if next != sess.State {
		sess.Page = 1
	}
	sess.State = next

	var prompt RenderInstruction
	if t.override != nil {
		prompt = *t.override
	} else {
		var err error
		prompt, err = step.Prompt(ctx, t)
		if errors.Is(err, ErrBackendUnavailable) {
			return e.unavailable(t, from)
		}
		if err != nil {
			return Result{}, fmt.Errorf("Engine: render %s/%s: %w", def.Flow, next, err)
		}
	}
	prompt.Kind = RenderPrompt
	prompt.State = next
	return Result{Session: sess, Render: append(t.notes, prompt)}, nil
}

func (e *Engine) unavailable(t *Turn, from models.StateType) (Result, error) {
	slog.Warn("Engine: no data source for step, cancelling", "flow", t.Session.Flow, "state", from, "conversantID", t.Session.ConversantID)
	t.Session.State = models.StateCancelled
	t.Session.Options = nil
	return Result{Session: t.Session, Render: append(t.notes, Done(models.StateCancelled, MsgTryAgain, nil))}, nil
}
