// Package trigger runs lifecycle sweeps on a cron schedule and on demand.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tasktide/pkg/lifecycle"
)

// DefaultSchedule sweeps once an hour.
const DefaultSchedule = "@every 1h"

// Sweeper is the engine entry point the trigger drives.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (lifecycle.Report, error)
}

// Trigger owns the sweep schedule. A failed sweep is logged and the next
// tick is its retry.
type Trigger struct {
	sweeper  Sweeper
	schedule string
	clock    func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	last    lifecycle.Report
	lastErr error
	runs    int
}

// Option configures a Trigger.
type Option func(*Trigger)

func WithClock(clock func() time.Time) Option {
	return func(t *Trigger) { t.clock = clock }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Trigger) { t.logger = l }
}

// New creates a Trigger. schedule accepts standard five-field cron specs
// and descriptors such as "@hourly" or "@every 30m"; empty means DefaultSchedule.
func New(sweeper Sweeper, schedule string, opts ...Option) (*Trigger, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	t := &Trigger{
		sweeper:  sweeper,
		schedule: schedule,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Run sweeps once immediately to catch up, then on every scheduled tick
// until ctx is cancelled. It waits for an in-flight sweep before returning.
func (t *Trigger) Run(ctx context.Context) error {
	logger := cronLogger{t.logger}
	c := cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	if _, err := c.AddFunc(t.schedule, func() { t.Fire(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	t.logger.Info("trigger: running", "schedule", t.schedule)

	// Catch up immediately on startup
	t.Fire(ctx)

	c.Start()
	<-ctx.Done()
	t.logger.Info("trigger: shutting down")
	<-c.Stop().Done()
	return nil
}

// Fire runs one sweep now. Panics inside the sweep are recovered and
// reported as errors.
func (t *Trigger) Fire(ctx context.Context) (rep lifecycle.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in sweep: %v", r)
			t.logger.Error("trigger: panic in sweep", "panic", r)
		}
		t.remember(rep, err)
	}()

	rep, err = t.sweeper.Sweep(ctx, t.clock())
	if err != nil {
		t.logger.Error("trigger: sweep failed", "error", err)
	}
	return rep, err
}

func (t *Trigger) remember(rep lifecycle.Report, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	t.lastErr = err
	if err == nil {
		t.last = rep
	}
}

// LastReport returns the report of the most recent successful sweep and
// whether one has happened yet.
func (t *Trigger) LastReport() (lifecycle.Report, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, !t.last.StartedAt.IsZero()
}

// LastError returns the error of the most recent sweep, or nil.
func (t *Trigger) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Runs counts sweeps fired so far.
func (t *Trigger) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// Schedule returns the effective cron spec.
func (t *Trigger) Schedule() string { return t.schedule }

// cronLogger adapts slog to cron's logging interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("trigger: cron "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("trigger: cron "+msg, append([]any{"error", err}, keysAndValues...)...)
}
