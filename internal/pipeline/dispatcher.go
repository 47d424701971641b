package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"qresponder/internal/docs"
)

type DispatcherConfig struct {
	Workers     int
	MaxAttempts int
	Backoff     Backoff
	// DrainDeadline bounds how long in-flight calls may run after an abort.
	DrainDeadline time.Duration
	Template      string
	Metrics       *Metrics
	Logger        *slog.Logger

	// OnAllDispatched is called once every requirement has been handed to a
	// worker at least once. Not called if the run aborts first.
	OnAllDispatched func()
	// OnAbort is called when a fatal error or cancellation is detected, before
	// in-flight work is drained.
	OnAbort func(kind ErrorKind, err error)
}

// Dispatcher fans requirements out over a fixed pool of workers.
type Dispatcher struct {
	eval   Evaluator
	handle *docs.Handle
	cfg    DispatcherConfig
}

func NewDispatcher(eval Evaluator, handle *docs.Handle, cfg DispatcherConfig) (*Dispatcher, error) {
	if eval == nil {
		return nil, errors.New("evaluator is nil")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be >= 1, got %d", cfg.Workers)
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be >= 1, got %d", cfg.MaxAttempts)
	}
	if cfg.DrainDeadline <= 0 {
		return nil, fmt.Errorf("drain deadline must be > 0, got %s", cfg.DrainDeadline)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{eval: eval, handle: handle, cfg: cfg}, nil
}

type attemptOutcome struct {
	task      EvaluationTask
	statement string
	err       error
}

// Dispatch streams one terminal EvaluationResult per requirement.
//
// Channel semantics:
//   - Exactly one result is sent per requirement, also when the run aborts:
//     rows that never completed are reported as AbortedByShutdown.
//   - The results channel is buffered to len(reqs), so a slow consumer never
//     stalls dispatching.
//   - The error channel carries at most one *FatalError and is closed after
//     the results channel.
//
// Cancelling ctx is treated like a fatal error: no new task starts and
// in-flight calls get DrainDeadline to finish.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []Requirement) (<-chan EvaluationResult, <-chan error) {
	results := make(chan EvaluationResult, len(reqs))
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(results)
		if err := d.run(ctx, reqs, results); err != nil {
			errCh <- err
		}
	}()

	return results, errCh
}

func (d *Dispatcher) run(ctx context.Context, reqs []Requirement, results chan<- EvaluationResult) error {
	if len(reqs) == 0 {
		if d.cfg.OnAllDispatched != nil {
			d.cfg.OnAllDispatched()
		}
		return nil
	}

	// In-flight calls are allowed to outlive ctx until the drain deadline.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	tasks := make(chan EvaluationTask)
	outcomes := make(chan attemptOutcome)
	due := make(chan EvaluationTask)
	quit := make(chan struct{})

	var g errgroup.Group
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.worker(workCtx, tasks, outcomes, quit)
			return nil
		})
	}

	queue := make([]EvaluationTask, 0, len(reqs))
	for i, r := range reqs {
		queue = append(queue, EvaluationTask{Requirement: r, Attempt: 1, index: i})
	}

	var (
		emitted      = make([]bool, len(reqs))
		remaining    = len(reqs)
		undispatched = len(reqs)
		inFlight     = make(map[int]EvaluationTask)
		pending      = make(map[int]EvaluationTask)
		timers       []*time.Timer

		stopping   bool
		abortKind  ErrorKind
		abortErr   error
		drainTimer <-chan time.Time
		deadline   bool
		ctxDone    = ctx.Done()
	)

	emit := func(res EvaluationResult) {
		if emitted[res.index] {
			return
		}
		emitted[res.index] = true
		remaining--
		results <- res
	}

	stop := func(kind ErrorKind, err error) {
		if stopping {
			return
		}
		stopping = true
		abortKind, abortErr = kind, err
		d.cfg.Logger.Warn("aborting run; draining in-flight evaluations",
			"kind", kind, "in_flight", len(inFlight), "deadline", d.cfg.DrainDeadline)
		if d.cfg.OnAbort != nil {
			d.cfg.OnAbort(kind, err)
		}
		for _, t := range queue {
			emit(abortedResult(t, t.Attempt-1, "not dispatched before shutdown"))
		}
		queue = nil
		for _, t := range pending {
			emit(abortedResult(t, t.Attempt-1, "retry cancelled by shutdown"))
		}
		pending = map[int]EvaluationTask{}
		drainTimer = time.After(d.cfg.DrainDeadline)
	}

	handle := func(o attemptOutcome) {
		t := o.task
		if o.err == nil {
			emit(EvaluationResult{RowID: t.Requirement.RowID, Statement: o.statement, Attempt: t.Attempt, index: t.index})
			return
		}

		kind := KindOf(o.err)
		switch kind.Class() {
		case ClassTransient:
			if stopping {
				emit(abortedResult(t, t.Attempt, o.err.Error()))
				return
			}
			if t.Attempt >= d.cfg.MaxAttempts {
				d.cfg.Logger.Warn("requirement failed after retries", "row", t.Requirement.RowID, "kind", kind, "attempts", t.Attempt)
				emit(failureResult(t, kind, o.err))
				return
			}
			delay := d.cfg.Backoff.Delay(t.Attempt)
			next := t
			next.Attempt++
			pending[t.index] = next
			d.cfg.Metrics.retry()
			d.cfg.Logger.Info("transient failure; retrying",
				"row", t.Requirement.RowID, "kind", kind, "attempt", t.Attempt, "max_attempts", d.cfg.MaxAttempts, "delay", delay)
			timers = append(timers, time.AfterFunc(delay, func() {
				select {
				case due <- next:
				case <-quit:
				}
			}))
		case ClassFatal:
			d.cfg.Logger.Error("fatal model error", "row", t.Requirement.RowID, "kind", kind, "error", o.err)
			emit(failureResult(t, kind, o.err))
			stop(kind, o.err)
		default:
			d.cfg.Logger.Warn("requirement failed", "row", t.Requirement.RowID, "kind", kind, "error", o.err)
			emit(failureResult(t, kind, o.err))
		}
	}

	for remaining > 0 {
		var sendCh chan<- EvaluationTask
		var next EvaluationTask
		if !stopping && len(queue) > 0 {
			sendCh = tasks
			next = queue[0]
		}

		select {
		case sendCh <- next:
			queue = queue[1:]
			inFlight[next.index] = next
			if next.Attempt == 1 {
				undispatched--
				if undispatched == 0 && d.cfg.OnAllDispatched != nil {
					d.cfg.OnAllDispatched()
				}
			}
		case o := <-outcomes:
			delete(inFlight, o.task.index)
			handle(o)
		case t := <-due:
			if _, ok := pending[t.index]; !ok {
				// Already reported by stop().
				continue
			}
			delete(pending, t.index)
			queue = append(queue, t)
		case <-ctxDone:
			ctxDone = nil
			stop(KindAbortedByShutdown, ctx.Err())
		case <-drainTimer:
			deadline = true
			for _, t := range inFlight {
				emit(abortedResult(t, t.Attempt, "drain deadline exceeded"))
			}
			inFlight = map[int]EvaluationTask{}
		}
	}

	close(quit)
	close(tasks)
	for _, tm := range timers {
		tm.Stop()
	}
	cancelWork()
	if !deadline {
		// Workers are idle once every row is terminal.
		_ = g.Wait()
	}

	if stopping {
		return &FatalError{Kind: abortKind, Err: abortErr}
	}
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, tasks <-chan EvaluationTask, outcomes chan<- attemptOutcome, quit <-chan struct{}) {
	for task := range tasks {
		start := time.Now()
		d.cfg.Metrics.inFlight(1)
		stmt, err := d.evaluate(ctx, task)
		d.cfg.Metrics.inFlight(-1)
		d.cfg.Metrics.observeAttempt(KindOf(err), time.Since(start))

		select {
		case outcomes <- attemptOutcome{task: task, statement: stmt, err: err}:
		case <-quit:
			return
		}
	}
}

func (d *Dispatcher) evaluate(ctx context.Context, task EvaluationTask) (stmt string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	return d.eval.Evaluate(ctx, Query{
		Requirement: task.Requirement,
		Context:     d.handle,
		Template:    d.cfg.Template,
		Attempt:     task.Attempt,
	})
}

func failureResult(t EvaluationTask, kind ErrorKind, err error) EvaluationResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return EvaluationResult{
		RowID:   t.Requirement.RowID,
		Attempt: t.Attempt,
		Failure: &Failure{RowID: t.Requirement.RowID, Kind: kind, Attempt: t.Attempt, Message: msg},
		index:   t.index,
	}
}

func abortedResult(t EvaluationTask, attempts int, msg string) EvaluationResult {
	return EvaluationResult{
		RowID:   t.Requirement.RowID,
		Attempt: attempts,
		Failure: &Failure{RowID: t.Requirement.RowID, Kind: KindAbortedByShutdown, Attempt: attempts, Message: msg},
		index:   t.index,
	}
}
