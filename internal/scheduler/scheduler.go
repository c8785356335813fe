// Package scheduler runs ReEngage's periodic maintenance jobs on cron schedules.
//
// Specs use the standard 5-field format (min, hour, dom, month, dow) or a descriptor
// such as "@every 1m" or "@hourly".
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultEvictionSchedule runs the idle-session sweep once a minute.
const DefaultEvictionSchedule = "@every 1m"

// Job is one scheduled task. Its context is cancelled when the scheduler stops.
type Job func(ctx context.Context) error

// Opts configures a Scheduler.
type Opts struct {
	Location   *time.Location
	JobTimeout time.Duration
}

// Option configures a Scheduler.
type Option func(*Opts)

// WithLocation sets the time zone cron specs are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.Location = loc
	}
}

// WithJobTimeout bounds a single run of any job. Zero means no bound.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.JobTimeout = d
	}
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron   *cron.Cron
	opts   Opts
	ctx    context.Context
	cancel context.CancelFunc
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler creates a stopped scheduler. Overlapping runs of the same job are skipped
// and panics in a job are recovered and logged.
func NewScheduler(opts ...Option) *Scheduler {
	o := Opts{Location: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	logger := slogLogger{}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(o.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: c, opts: o, ctx: ctx, cancel: cancel}
}

// ValidateSpec reports whether spec parses.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// AddJob schedules job under name. It returns an error if spec is invalid.
func (s *Scheduler) AddJob(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s at %q: %w", name, spec, err)
	}
	slog.Debug("Scheduler.AddJob: job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx := s.ctx
	if s.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.JobTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		slog.Error("Scheduler.run: job failed", "job", name, "elapsed", time.Since(start), "error", err)
		return
	}
	slog.Debug("Scheduler.run: job finished", "job", name, "elapsed", time.Since(start))
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("Scheduler.Start: scheduler started", "jobs", s.Len())
}

// Stop cancels running jobs' contexts and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("Scheduler.Stop: scheduler stopped")
}

// Evictor removes sessions that have been idle too long.
type Evictor interface {
	EvictIdle(ctx context.Context) ([]string, error)
}

// EvictionJob sweeps idle sessions through e.
func EvictionJob(e Evictor) Job {
	return func(ctx context.Context) error {
		evicted, err := e.EvictIdle(ctx)
		if err != nil {
			return err
		}
		if len(evicted) > 0 {
			slog.Info("Scheduler.EvictionJob: idle sessions evicted", "count", len(evicted), "conversantIDs", evicted)
		}
		return nil
	}
}

// slogLogger routes cron's own logging to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
