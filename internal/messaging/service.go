package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/ReEngage/internal/flow"
)

// Service is a pluggable delivery adapter: it turns channel-specific input into Inbound
// events and shows render instructions to the conversant.
type Service interface {
	// Start begins any background processing (e.g., reading input).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns the channel of received events. It is closed when the service stops.
	Inbound() <-chan Inbound

	// Deliver shows render instructions to a conversant.
	Deliver(ctx context.Context, conversantID string, render []flow.RenderInstruction) error
}

// Run consumes svc's inbound events until the channel closes or ctx is done and delivers
// each reply. A conversant with pending events has one worker, so its events keep arrival
// order while different conversants proceed in parallel. Reading never waits on a worker;
// a worker exits once its backlog drains. Run returns after the workers finish.
func (d *Dispatcher) Run(ctx context.Context, svc Service) {
	slog.Info("Dispatcher.Run: started")
	defer slog.Info("Dispatcher.Run: stopped")

	b := &backlogs{pending: make(map[string][]Inbound)}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case in, ok := <-svc.Inbound():
			if !ok {
				slog.Debug("Dispatcher.Run: inbound channel closed")
				return
			}
			start, accepted := b.push(in)
			if !accepted {
				slog.Warn("Dispatcher.Run: backlog full, dropping event", "conversantID", in.ConversantID,
					"messageID", in.MessageID, "backlog", MaxBacklog)
				continue
			}
			if start {
				wg.Add(1)
				go func(conversantID string) {
					defer wg.Done()
					d.work(ctx, svc, b, conversantID)
				}(in.ConversantID)
			}
		case <-ctx.Done():
			slog.Debug("Dispatcher.Run: context cancelled")
			return
		}
	}
}

// MaxBacklog is the number of unprocessed events Run holds per conversant. Further events
// for that conversant are dropped until its worker catches up.
const MaxBacklog = 64

// backlogs holds the unprocessed events of every conversant that has a running worker.
type backlogs struct {
	mu      sync.Mutex
	pending map[string][]Inbound
}

// push queues in. start reports whether the conversant had no worker and needs one.
func (b *backlogs) push(in Inbound) (start, accepted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, running := b.pending[in.ConversantID]
	if len(q) >= MaxBacklog {
		return false, false
	}
	b.pending[in.ConversantID] = append(q, in)
	return !running, true
}

// pop takes the conversant's next event. When none is left the entry is removed and ok is
// false; the worker must then exit.
func (b *backlogs) pop(conversantID string) (Inbound, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.pending[conversantID]
	if len(q) == 0 {
		delete(b.pending, conversantID)
		return Inbound{}, false
	}
	in := q[0]
	q[0] = Inbound{}
	b.pending[conversantID] = q[1:]
	return in, true
}

// len returns the number of conversants with a running worker.
func (b *backlogs) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (d *Dispatcher) work(ctx context.Context, svc Service, b *backlogs, conversantID string) {
	for {
		in, ok := b.pop(conversantID)
		if !ok {
			return
		}
		if ctx.Err() != nil {
			slog.Debug("Dispatcher.work: context cancelled, dropping event", "conversantID", conversantID, "messageID", in.MessageID)
			continue
		}
		d.serve(ctx, svc, in)
	}
}

func (d *Dispatcher) serve(ctx context.Context, svc Service, in Inbound) {
	reply, err := d.HandleInbound(ctx, in)
	if err != nil {
		reply.Render = append(reply.Render, flow.Failure(flow.MsgInternalError, nil))
	}
	if reply.Duplicate || len(reply.Render) == 0 {
		return
	}
	if err := svc.Deliver(ctx, in.ConversantID, reply.Render); err != nil {
		slog.Error("Dispatcher.serve: delivery failed", "conversantID", in.ConversantID, "error", err)
	}
}
