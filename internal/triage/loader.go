package triage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/store"
	"golang.org/x/sync/errgroup"
)

// DefaultLoadTimeout bounds the gateway reads of one snapshot.
const DefaultLoadTimeout = 5 * time.Second

// DefaultLookbackDays is how far back interactions and feedback are read. The window
// always reaches at least the start of the month and of the week.
const DefaultLookbackDays = 45

// Opts configures a Loader and Service.
type Opts struct {
	Timeout      time.Duration
	Location     *time.Location
	LookbackDays int
}

// Option configures triage components.
type Option func(*Opts)

// WithTimeout bounds each snapshot load.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithLocation sets the time zone that defines day, week and month boundaries.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.Location = loc
	}
}

// WithLookbackDays sets how many days of activity are loaded.
func WithLookbackDays(days int) Option {
	return func(o *Opts) {
		o.LookbackDays = days
	}
}

func buildOpts(opts []Option) Opts {
	o := Opts{Timeout: DefaultLoadTimeout, Location: time.UTC, LookbackDays: DefaultLookbackDays}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultLoadTimeout
	}
	return o
}

// Loader reads a coordinator's Snapshot from the record store.
type Loader struct {
	gw   store.Gateway
	opts Opts
}

// NewLoader creates a Loader over gw.
func NewLoader(gw store.Gateway, opts ...Option) *Loader {
	return &Loader{gw: gw, opts: buildOpts(opts)}
}

// Since returns the start of the activity window loaded for asOf.
func (l *Loader) Since(asOf time.Time) time.Time {
	loc := l.opts.Location
	since := models.StartOfDay(asOf, loc).AddDate(0, 0, -l.opts.LookbackDays)
	for _, t := range []time.Time{MonthStart(asOf, loc), WeekStart(asOf, loc), models.StartOfDay(asOf, loc).AddDate(0, 0, -1)} {
		if t.Before(since) {
			since = t
		}
	}
	return since
}

// Load reads agents, activity, training and diary concurrently. Pending follow-ups, overdue
// or upcoming, are read without a creation-date bound and merged into the interaction list.
func (l *Loader) Load(ctx context.Context, coordinatorID int64, asOf time.Time) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	loc := l.opts.Location
	today := models.StartOfDay(asOf, loc)
	since := l.Since(asOf)
	s := Snapshot{CoordinatorID: coordinatorID}
	var recent, overdue, upcoming []models.Interaction
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agents, err := l.gw.ListAgentsByCoordinator(gctx, coordinatorID)
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}
		mu.Lock()
		s.Agents = agents
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		ixs, err := l.gw.ListInteractions(gctx, coordinatorID, since)
		if err != nil {
			return fmt.Errorf("list interactions: %w", err)
		}
		mu.Lock()
		recent = ixs
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		ixs, err := l.gw.GetOverdueInteractions(gctx, coordinatorID, today)
		if err != nil {
			return fmt.Errorf("overdue interactions: %w", err)
		}
		mu.Lock()
		overdue = ixs
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		ixs, err := l.gw.GetUpcomingFollowUps(gctx, coordinatorID, today)
		if err != nil {
			return fmt.Errorf("upcoming follow-ups: %w", err)
		}
		mu.Lock()
		upcoming = ixs
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		fb, err := l.gw.ListFeedback(gctx, coordinatorID, since)
		if err != nil {
			return fmt.Errorf("list feedback: %w", err)
		}
		mu.Lock()
		s.Feedback = fb
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		recs, err := l.gw.ListTrainingRecords(gctx, coordinatorID)
		if err != nil {
			return fmt.Errorf("list training records: %w", err)
		}
		mu.Lock()
		s.Training = recs
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		entries, err := l.gw.GetDiaryEntries(gctx, coordinatorID, time.Time{}, today.AddDate(0, 0, UpcomingDays))
		if err != nil {
			return fmt.Errorf("diary entries: %w", err)
		}
		mu.Lock()
		s.Diary = entries
		mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Error("Loader.Load: snapshot failed", "coordinatorID", coordinatorID, "error", err)
		return Snapshot{}, err
	}

	s.Interactions = mergeInteractions(recent, overdue, upcoming)
	slog.Debug("Loader.Load: snapshot loaded", "coordinatorID", coordinatorID,
		"agents", len(s.Agents), "interactions", len(s.Interactions), "feedback", len(s.Feedback))
	return s, nil
}

func mergeInteractions(lists ...[]models.Interaction) []models.Interaction {
	seen := make(map[int64]bool)
	var out []models.Interaction
	for _, list := range lists {
		for _, ix := range list {
			if seen[ix.ID] {
				continue
			}
			seen[ix.ID] = true
			out = append(out, ix)
		}
	}
	return out
}
