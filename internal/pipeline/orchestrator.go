package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"qresponder/internal/docs"
)

// Orchestrator runs one evaluation pass over a requirement source. An
// Orchestrator is single use: Run may be called once.
type Orchestrator struct {
	src    Source
	eval   Evaluator
	handle *docs.Handle
	opts   Options

	logger   *slog.Logger
	metrics  *Metrics
	observer func(RowOutcome)
	onState  func(State)
	now      func() time.Time

	mu    sync.Mutex
	state State
	ran   bool
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithObserver registers a callback invoked from the writeback goroutine for
// every row outcome.
func WithObserver(fn func(RowOutcome)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithStateListener registers a callback invoked on every state transition.
func WithStateListener(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

func NewOrchestrator(src Source, eval Evaluator, handle *docs.Handle, opts Options, options ...Option) (*Orchestrator, error) {
	if src == nil {
		return nil, errors.New("requirement source is nil")
	}
	if eval == nil {
		return nil, errors.New("evaluator is nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		src:    src,
		eval:   eval,
		handle: handle,
		opts:   opts,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		state:  StateIdle,
	}
	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State) error {
	o.mu.Lock()
	from := o.state
	if err := validateTransition(from, to); err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = to
	o.mu.Unlock()

	o.logger.Debug("run state", "from", from, "to", to)
	if o.onState != nil {
		o.onState(to)
	}
	return nil
}

// Run lists requirements, evaluates them and writes the results back.
//
// A report is returned whenever the source could be listed. The error is a
// *Error of kind SourceUnavailable when listing fails, wraps
// ErrDuplicateRowID or ErrEmptyRowID when the listing is rejected, and is a
// *FatalError (alongside a complete report) when the run was aborted.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return nil, errors.New("orchestrator already ran")
	}
	o.ran = true
	o.mu.Unlock()

	report := &RunReport{
		RunID:     uuid.NewString(),
		State:     StateIdle,
		Failures:  []Failure{},
		StartedAt: o.now(),
	}
	logger := o.logger.With("run_id", report.RunID)

	reqs, err := o.src.ListRequirements(ctx)
	if err != nil {
		if KindOf(err) != KindSourceUnavailable {
			err = Classify(KindSourceUnavailable, err)
		}
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	if err := validateListing(reqs); err != nil {
		return nil, fmt.Errorf("reject requirement listing: %w", err)
	}

	report.Total = len(reqs)
	if len(reqs) == 0 {
		logger.Info("no unresolved requirements")
		if err := o.transition(StateCompleted); err != nil {
			return nil, err
		}
		report.State = StateCompleted
		report.FinishedAt = o.now()
		return report, nil
	}

	if err := o.transition(StateRunning); err != nil {
		return nil, err
	}
	logger.Info("run started", "requirements", len(reqs), "workers", o.opts.MaxWorkers, "max_attempts", o.opts.MaxAttempts)

	// shutdown is done on caller cancellation or a fatal abort; writes then
	// get the drain deadline to finish.
	shutdown, signalShutdown := context.WithCancel(ctx)
	defer signalShutdown()

	dispatcher, err := NewDispatcher(o.eval, o.handle, DispatcherConfig{
		Workers:       o.opts.MaxWorkers,
		MaxAttempts:   o.opts.MaxAttempts,
		Backoff:       o.opts.backoff(),
		DrainDeadline: o.opts.ShutdownDrainDeadline,
		Template:      o.opts.PromptTemplate,
		Metrics:       o.metrics,
		Logger:        logger,
		OnAllDispatched: func() {
			if err := o.transition(StateDraining); err != nil {
				logger.Debug("skip draining transition", "error", err)
			}
		},
		OnAbort: func(kind ErrorKind, err error) {
			if terr := o.transition(StateFatalAborted); terr != nil {
				logger.Debug("skip abort transition", "error", terr)
			}
			signalShutdown()
		},
	})
	if err != nil {
		return nil, err
	}

	writeback := NewWriteback(o.src, reqs, WritebackConfig{
		MaxAttempts:    o.opts.MaxWriteAttempts,
		RetryDelay:     o.opts.WriteRetryDelay,
		AttemptTimeout: o.opts.WriteTimeout,
		DrainDeadline:  o.opts.ShutdownDrainDeadline,
		WriteFailures:  o.opts.WriteFailures,
		Metrics:        o.metrics,
		Logger:         logger,
		Observer:       o.observer,
	})

	results, errCh := dispatcher.Dispatch(ctx, reqs)
	writeback.Consume(shutdown, results, report)

	var fatal *FatalError
	if err := <-errCh; err != nil && !errors.As(err, &fatal) {
		fatal = &FatalError{Kind: KindOf(err), Err: err}
	}
	if fatal == nil && ctx.Err() != nil && hasAborted(report) {
		// Every row was evaluated, but cancellation cut pending writes short.
		fatal = &FatalError{Kind: KindAbortedByShutdown, Err: ctx.Err()}
	}

	report.FinishedAt = o.now()
	if fatal != nil {
		// The abort may have raced the draining transition; force the terminal state.
		if o.State() != StateFatalAborted {
			if err := o.transition(StateFatalAborted); err != nil {
				logger.Debug("skip abort transition", "error", err)
			}
		}
		report.State = StateFatalAborted
		report.Fatal = true
		report.FatalKind = fatal.Kind
		report.FatalError = fatal.Error()
		logger.Error("run aborted", "kind", fatal.Kind, "succeeded", report.Succeeded, "failed", report.Failed)
		return report, fatal
	}

	if err := o.transition(StateCompleted); err != nil {
		return report, err
	}
	report.State = StateCompleted
	logger.Info("run completed",
		"total", report.Total, "succeeded", report.Succeeded, "not_found", report.NotFound,
		"failed", report.Failed, "retried", report.Retried, "duration", report.Duration())
	return report, nil
}

func hasAborted(r *RunReport) bool {
	for _, f := range r.Failures {
		if f.Kind == KindAbortedByShutdown {
			return true
		}
	}
	return false
}
