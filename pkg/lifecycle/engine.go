// Package lifecycle implements the Transition Engine: it sweeps every
// non-terminal task, derives the status the clock says it should have, and
// applies allowed changes with a conditional write so that concurrent
// sweepers and manual actions never clobber each other.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tasktide/pkg/audit"
	"tasktide/pkg/task"
)

// ErrCandidateFetch wraps a failure to list the tasks a sweep should look at.
// It is the only error that aborts a sweep.
var ErrCandidateFetch = errors.New("fetch sweep candidates")

// Outcome is the per-task result of one evaluation.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result describes what happened to a single task.
type Result struct {
	TaskID  int64       `json:"task_id"`
	From    task.Status `json:"from"`
	To      task.Status `json:"to,omitempty"`
	Outcome Outcome     `json:"outcome"`
	Note    string      `json:"note,omitempty"`
	Err     error       `json:"-"`
}

// Report summarizes one sweep. Checked always equals the number of candidates.
type Report struct {
	Checked   int           `json:"checked"`
	Updated   int           `json:"updated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Results   []Result      `json:"results,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeUpdated:
		r.Updated++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Engine applies time-driven and manual status transitions.
type Engine struct {
	store        task.Store
	sink         audit.Sink
	workers      int
	storeTimeout time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger
	clock        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds how many tasks are evaluated at once.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithStoreTimeout bounds every individual store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

// WithWriteInterval spaces status writes at least d apart. Zero disables it.
func WithWriteInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.limiter = rate.NewLimiter(rate.Every(d), 1)
		} else {
			e.limiter = nil
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source used for manual completions.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New creates an Engine. sink may be nil, in which case nothing is audited.
func New(store task.Store, sink audit.Sink, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		sink:         sink,
		workers:      4,
		storeTimeout: 5 * time.Second,
		logger:       slog.Default(),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sweep evaluates every non-terminal task against now. Per-task failures are
// counted in the report; only a failure to list candidates returns an error.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (Report, error) {
	rep := Report{StartedAt: time.Now()}

	listCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	candidates, err := e.store.ListNonTerminal(listCtx)
	cancel()
	if err != nil {
		e.logger.Error("sweep: list candidates", "error", err)
		return rep, fmt.Errorf("%w: %w", ErrCandidateFetch, err)
	}

	results := make([]Result, len(candidates))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range candidates {
		g.Go(func() error {
			results[i] = e.evaluate(ctx, candidates[i], now, audit.SourceSweep)
			return nil
		})
	}
	g.Wait()

	for _, res := range results {
		rep.add(res)
	}
	rep.Checked = len(candidates)
	rep.Duration = time.Since(rep.StartedAt)

	e.logger.Info("sweep: done",
		"checked", rep.Checked,
		"updated", rep.Updated,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
		"duration", rep.Duration)
	return rep, nil
}

// Evaluate runs a single task through the same steps as one sweep iteration.
// Its audit entries carry audit.SourceEvaluate.
func (e *Engine) Evaluate(ctx context.Context, id int64, now time.Time) (Result, error) {
	t, err := e.get(ctx, id)
	if err != nil {
		return Result{TaskID: id, Outcome: OutcomeFailed, Err: err}, err
	}
	res := e.evaluate(ctx, *t, now, audit.SourceEvaluate)
	return res, res.Err
}

// Complete marks a task completed on the user's behalf. Completing an
// already-completed task is a skip, not an error. When several callers race,
// exactly one sees OutcomeUpdated.
func (e *Engine) Complete(ctx context.Context, id int64) (Result, error) {
	t, err := e.get(ctx, id)
	if err != nil {
		return Result{TaskID: id, Outcome: OutcomeFailed, Err: err}, err
	}

	res := Result{TaskID: id, From: t.Status, To: task.StatusCompleted}
	if t.Status == task.StatusCompleted {
		res.Outcome = OutcomeSkipped
		res.Note = "already completed"
		return res, nil
	}
	if err := task.ValidateTransition(t.Status, task.StatusCompleted); err != nil {
		res.Outcome = OutcomeSkipped
		res.Note = err.Error()
		return res, nil
	}

	res = e.apply(ctx, res, e.clock(), audit.SourceManual)
	return res, res.Err
}

func (e *Engine) get(ctx context.Context, id int64) (*task.Task, error) {
	getCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.store.Get(getCtx, id)
}

// evaluate derives and applies the target status for one task. It never
// panics and never returns an error; everything lands in the Result.
func (e *Engine) evaluate(ctx context.Context, t task.Task, now time.Time, source string) (res Result) {
	res = Result{TaskID: t.ID, From: t.Status}
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("task %d: panic: %v", t.ID, r)
			res.Note = "internal error"
			e.logger.Error("sweep: panic evaluating task", "task", t.ID, "panic", r)
		}
	}()

	if err := t.Validate(); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		res.Note = "malformed task"
		e.logger.Warn("sweep: malformed task", "task", t.ID, "error", err)
		return res
	}

	target := task.Resolve(t, now)
	res.To = target
	if target == t.Status {
		res.Outcome = OutcomeSkipped
		res.Note = "no change"
		return res
	}
	if !task.CanTransition(t.Status, target) {
		res.Outcome = OutcomeSkipped
		res.Note = "transition not allowed"
		e.logger.Debug("sweep: transition not allowed", "task", t.ID, "from", t.Status, "to", target)
		return res
	}

	return e.apply(ctx, res, now, source)
}

// apply performs the conditional write res.From -> res.To and audits it.
func (e *Engine) apply(ctx context.Context, res Result, at time.Time, source string) Result {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("task %d: throttle: %w", res.TaskID, err)
			return res
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	n, err := e.store.UpdateStatus(writeCtx, res.TaskID, res.From, res.To)
	cancel()
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("task %d: update status: %w", res.TaskID, err)
		res.Note = "store error"
		e.logger.Error("sweep: update status", "task", res.TaskID, "from", res.From, "to", res.To, "error", err)
		return res
	}
	if n == 0 {
		// Someone else moved the row since we read it.
		res.Outcome = OutcomeSkipped
		res.Note = "lost race"
		e.logger.Debug("sweep: lost race", "task", res.TaskID, "expected", res.From)
		return res
	}

	res.Outcome = OutcomeUpdated
	e.record(ctx, audit.Entry{
		TaskID:    res.TaskID,
		OldStatus: res.From,
		NewStatus: res.To,
		Source:    source,
		Timestamp: at,
	})
	e.logger.Info("sweep: status changed", "task", res.TaskID, "from", res.From, "to", res.To, "source", source)
	return res
}

// record hands an applied transition to the audit sink. The write has
// already happened, so audit errors are only logged.
func (e *Engine) record(ctx context.Context, entry audit.Entry) {
	if e.sink == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.storeTimeout)
	defer cancel()
	if _, err := e.sink.Record(recCtx, entry); err != nil {
		e.logger.Error("sweep: audit record", "task", entry.TaskID, "error", err)
	}
}
