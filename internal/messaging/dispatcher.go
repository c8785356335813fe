// Package messaging routes inbound conversant events through the flow engine.
//
// The Dispatcher owns everything around a single engine step: de-duplication by
// message id, per-conversant serialization, idle expiry, persistence of the advanced
// session and execution of the command a completed flow emits.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/ReEngage/internal/flow"
	"github.com/BTreeMap/ReEngage/internal/lifecycle"
	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/session"
	"github.com/BTreeMap/ReEngage/internal/store"
)

// DefaultIdleTimeout expires sessions untouched for this long.
const DefaultIdleTimeout = 30 * time.Minute

// DefaultExecuteTimeout bounds the record store writes of one command.
const DefaultExecuteTimeout = 10 * time.Second

// ErrInternal is returned when handling an event panicked.
var ErrInternal = errors.New("internal error while handling event")

// CommandExecutor applies the command of a completed flow.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd models.Command) (lifecycle.Receipt, error)
}

// Inbound is one event received from a delivery adapter.
type Inbound struct {
	ConversantID string `json:"conversant_id"`
	// MessageID is the adapter's id for the message; redeliveries carry the same id.
	MessageID string `json:"message_id,omitempty"`
	// Flow names the flow to start. A hint that differs from the active session's flow
	// replaces that session.
	Flow  models.FlowType `json:"flow,omitempty"`
	Event flow.Event      `json:"-"`
}

// Reply is the result of handling one Inbound.
type Reply struct {
	ConversantID string                   `json:"conversant_id"`
	State        models.StateType         `json:"state,omitempty"`
	Render       []flow.RenderInstruction `json:"render"`
	Receipt      *lifecycle.Receipt       `json:"receipt,omitempty"`
	Duplicate    bool                     `json:"duplicate,omitempty"`
}

// Opts configures a Dispatcher.
type Opts struct {
	Dedup          store.DedupRepo
	IdleTimeout    time.Duration
	ExecuteTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Opts)

// WithDedup drops inbound messages whose id was already recorded.
func WithDedup(repo store.DedupRepo) Option {
	return func(o *Opts) {
		o.Dedup = repo
	}
}

// WithIdleTimeout sets the session idle expiry. Non-positive disables expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.IdleTimeout = d
	}
}

// WithExecuteTimeout bounds command execution.
func WithExecuteTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ExecuteTimeout = d
	}
}

// Dispatcher handles inbound events for all conversants.
type Dispatcher struct {
	engine   *flow.Engine
	sessions session.Store
	exec     CommandExecutor
	locks    *session.KeyLock
	opts     Opts
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(engine *flow.Engine, sessions session.Store, exec CommandExecutor, opts ...Option) *Dispatcher {
	o := Opts{IdleTimeout: DefaultIdleTimeout, ExecuteTimeout: DefaultExecuteTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ExecuteTimeout <= 0 {
		o.ExecuteTimeout = DefaultExecuteTimeout
	}
	return &Dispatcher{engine: engine, sessions: sessions, exec: exec, locks: session.NewKeyLock(), opts: o}
}

// IdleTimeout returns the configured session idle expiry.
func (d *Dispatcher) IdleTimeout() time.Duration {
	return d.opts.IdleTimeout
}

// HandleInbound advances the conversant's session by one event. Events of one conversant
// are applied one at a time in arrival order; different conversants proceed in parallel.
func (d *Dispatcher) HandleInbound(ctx context.Context, in Inbound) (reply Reply, err error) {
	reply.ConversantID = in.ConversantID
	if in.ConversantID == "" {
		return reply, fmt.Errorf("missing conversant id: %w", flow.ErrValidation)
	}
	if in.Event == nil {
		return reply, fmt.Errorf("missing event: %w", flow.ErrValidation)
	}

	if dup, derr := d.recordInbound(ctx, in); derr != nil {
		slog.Warn("Dispatcher.HandleInbound: dedup check failed, processing anyway", "conversantID", in.ConversantID, "messageID", in.MessageID, "error", derr)
	} else if dup {
		slog.Info("Dispatcher.HandleInbound: duplicate message dropped", "conversantID", in.ConversantID, "messageID", in.MessageID)
		reply.Duplicate = true
		return reply, nil
	}

	unlock := d.locks.Lock(in.ConversantID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.HandleInbound: panic while handling event", "conversantID", in.ConversantID, "event", in.Event.Kind(), "panic", r)
			reply.Render = []flow.RenderInstruction{flow.Failure(flow.MsgInternalError, nil)}
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	reply, err = d.handle(ctx, in)
	if err != nil {
		slog.Error("Dispatcher.HandleInbound: event failed", "conversantID", in.ConversantID, "event", in.Event.Kind(), "error", err)
		return reply, err
	}
	d.markProcessed(ctx, in)
	return reply, nil
}

func (d *Dispatcher) recordInbound(ctx context.Context, in Inbound) (duplicate bool, err error) {
	if d.opts.Dedup == nil || in.MessageID == "" {
		return false, nil
	}
	fresh, err := d.opts.Dedup.RecordInbound(ctx, in.MessageID, in.ConversantID)
	if err != nil {
		return false, err
	}
	return !fresh, nil
}

func (d *Dispatcher) markProcessed(ctx context.Context, in Inbound) {
	if d.opts.Dedup == nil || in.MessageID == "" {
		return
	}
	if err := d.opts.Dedup.MarkProcessed(ctx, in.MessageID); err != nil {
		slog.Warn("Dispatcher.markProcessed: failed", "messageID", in.MessageID, "error", err)
	}
}

func (d *Dispatcher) handle(ctx context.Context, in Inbound) (Reply, error) {
	reply := Reply{ConversantID: in.ConversantID}
	sess, err := d.sessions.Get(ctx, in.ConversantID)
	if err != nil {
		return reply, fmt.Errorf("load session: %w", err)
	}

	var notes []flow.RenderInstruction
	if sess != nil && sess.Expired(d.engine.Now(), d.opts.IdleTimeout) {
		slog.Info("Dispatcher.handle: session expired", "conversantID", in.ConversantID, "flow", sess.Flow, "state", sess.State, "idleSince", sess.UpdatedAt)
		if err := d.sessions.Delete(ctx, in.ConversantID); err != nil {
			return reply, fmt.Errorf("delete expired session: %w", err)
		}
		notes = append(notes, flow.Info(flow.MsgExpired, map[string]string{"flow": string(sess.Flow)}))
		sess = nil
	}

	_, isStart := in.Event.(flow.Start)
	stale := sess != nil && in.Flow != "" && in.Flow != sess.Flow
	// An invalid start must leave the active session alone.
	if isStart || stale {
		if in.Flow == "" {
			return reply, fmt.Errorf("start without flow: %w", flow.ErrValidation)
		}
		if err := d.engine.CheckFlow(in.Flow); err != nil {
			return reply, err
		}
	}
	if sess != nil && (isStart || stale) {
		slog.Info("Dispatcher.handle: replacing active session", "conversantID", in.ConversantID, "from", sess.Flow, "to", in.Flow)
		if err := d.sessions.Delete(ctx, in.ConversantID); err != nil {
			return reply, fmt.Errorf("delete replaced session: %w", err)
		}
		notes = append(notes, flow.Info(flow.MsgCancelled, map[string]string{"flow": string(sess.Flow)}))
		sess = nil
	}

	var res flow.Result
	switch {
	case isStart || stale:
		res, err = d.engine.Begin(ctx, in.ConversantID, in.Flow)
	case sess == nil:
		reply.Render = append(notes, flow.Failure(flow.MsgNoActiveSession, nil))
		return reply, nil
	default:
		res, err = d.engine.Advance(ctx, sess, in.Event)
	}
	if err != nil {
		return reply, err
	}

	out, err := d.commit(ctx, in.ConversantID, res)
	out.Render = append(notes, out.Render...)
	return out, err
}

// commit persists the advanced session and executes a completed flow's command.
func (d *Dispatcher) commit(ctx context.Context, conversantID string, res flow.Result) (Reply, error) {
	reply := Reply{ConversantID: conversantID, State: res.State(), Render: res.Render}
	switch {
	case res.Session == nil:
		return reply, nil
	case res.Command != nil:
		return d.execute(ctx, conversantID, res)
	case res.State().IsTerminal():
		if err := d.sessions.Delete(ctx, conversantID); err != nil {
			return reply, fmt.Errorf("delete finished session: %w", err)
		}
		return reply, nil
	default:
		if err := d.sessions.Put(ctx, res.Session); err != nil {
			return reply, fmt.Errorf("save session: %w", err)
		}
		return reply, nil
	}
}

func (d *Dispatcher) execute(ctx context.Context, conversantID string, res flow.Result) (Reply, error) {
	reply := Reply{ConversantID: conversantID, State: models.StateComplete, Render: res.Render}
	ectx, cancel := context.WithTimeout(ctx, d.opts.ExecuteTimeout)
	receipt, err := d.exec.Execute(ectx, res.Command)
	cancel()

	var final flow.RenderInstruction
	switch {
	case err == nil:
		slog.Info("Dispatcher.execute: command applied", "conversantID", conversantID, "command", res.Command.Kind(), "coordinatorID", receipt.CoordinatorID)
		reply.Receipt = &receipt
		final = flow.Done(models.StateComplete, flow.MsgSaved, savedParams(res.Command, receipt))
	case errors.Is(err, store.ErrNotFound):
		slog.Warn("Dispatcher.execute: referenced record missing, cancelling", "conversantID", conversantID, "command", res.Command.Kind(), "error", err)
		reply.State = models.StateCancelled
		final = flow.Done(models.StateCancelled, flow.MsgNotFound, nil)
	case errors.Is(err, lifecycle.ErrAlreadyRegistered):
		reply.State = models.StateCancelled
		final = flow.Done(models.StateCancelled, flow.MsgAlreadyRegistered, nil)
	default:
		slog.Error("Dispatcher.execute: command failed, offering retry", "conversantID", conversantID, "command", res.Command.Kind(), "error", err)
		return d.retry(ctx, conversantID, res)
	}

	if err := d.sessions.Delete(ctx, conversantID); err != nil {
		return reply, fmt.Errorf("delete completed session: %w", err)
	}
	reply.Render = append(reply.Render, final)
	return reply, nil
}

// retry returns the session to the state it completed from so the user can submit again.
func (d *Dispatcher) retry(ctx context.Context, conversantID string, res flow.Result) (Reply, error) {
	reopened, err := d.engine.Reopen(ctx, res.Session, res.ResumeState, flow.Failure(flow.MsgSubmissionFailed, nil))
	if err != nil {
		return Reply{ConversantID: conversantID}, fmt.Errorf("reopen after failed submission: %w", err)
	}
	if err := d.sessions.Put(ctx, reopened.Session); err != nil {
		return Reply{ConversantID: conversantID}, fmt.Errorf("save reopened session: %w", err)
	}
	return Reply{
		ConversantID: conversantID,
		State:        reopened.State(),
		Render:       append(res.Render, reopened.Render...),
	}, nil
}

func savedParams(cmd models.Command, r lifecycle.Receipt) map[string]string {
	p := map[string]string{"command": string(cmd.Kind())}
	if r.Delta != nil {
		p["lifecycle_state"] = string(r.Delta.ToState)
		p["engagement_score"] = strconv.FormatFloat(r.Delta.EngagementScore, 'f', 1, 64)
	}
	if r.Training != nil {
		p["quiz_score"] = strconv.FormatFloat(r.Training.QuizScore, 'f', 1, 64)
		p["completed"] = strconv.FormatBool(r.Training.Completed)
	}
	if r.Coordinator != nil {
		p["name"] = r.Coordinator.Name
	}
	switch c := cmd.(type) {
	case models.SubmitFeedback:
		p["agent_name"] = c.AgentName
	case models.LogInteraction:
		p["agent_name"] = c.AgentName
	case models.SubmitQuizScore:
		p["product_name"] = c.ProductName
	}
	return p
}

// EvictIdle removes sessions idle for at least the configured timeout.
func (d *Dispatcher) EvictIdle(ctx context.Context) ([]string, error) {
	if d.opts.IdleTimeout <= 0 {
		return nil, nil
	}
	cutoff := d.engine.Now().Add(-d.opts.IdleTimeout)
	evicted, err := d.sessions.EvictIdle(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("evict idle sessions: %w", err)
	}
	if len(evicted) > 0 {
		slog.Info("Dispatcher.EvictIdle: sessions expired", "count", len(evicted), "cutoff", cutoff)
	}
	return evicted, nil
}
