package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

type WritebackConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// AttemptTimeout bounds each WriteResult call; zero means no per-call bound.
	AttemptTimeout time.Duration
	// DrainDeadline is how long writes may continue once the Consume context
	// is done. Zero lets writes run until the results channel closes.
	DrainDeadline time.Duration
	// WriteFailures writes "ERROR: <kind>" for row failures (except aborted rows).
	WriteFailures bool
	Metrics       *Metrics
	Logger        *slog.Logger
	// Observer receives every row outcome once it is final.
	Observer func(RowOutcome)
}

// Writeback is the single logical writer for a run. All writes to the source
// and all report mutations happen on the goroutine running Consume.
type Writeback struct {
	src   Source
	reqs  []Requirement
	order map[RowID]int
	cfg   WritebackConfig
}

func NewWriteback(src Source, reqs []Requirement, cfg WritebackConfig) *Writeback {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	order := make(map[RowID]int, len(reqs))
	for i, r := range reqs {
		order[r.RowID] = i
	}
	return &Writeback{src: src, reqs: reqs, order: order, cfg: cfg}
}

// Consume persists results until the channel is closed, accumulating into
// report. Writes outlive ctx by DrainDeadline so drained results still reach
// the source. Rows with no result, or not written by then, are reported as
// AbortedByShutdown.
func (w *Writeback) Consume(ctx context.Context, results <-chan EvaluationResult, report *RunReport) {
	writeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	if w.cfg.DrainDeadline > 0 {
		stop := context.AfterFunc(ctx, func() {
			w.cfg.Logger.Debug("shutdown requested; bounding pending writes", "deadline", w.cfg.DrainDeadline)
			t := time.AfterFunc(w.cfg.DrainDeadline, cancel)
			context.AfterFunc(writeCtx, func() { t.Stop() })
		})
		defer stop()
	}
	seen := make(map[RowID]bool, len(w.reqs))

	for res := range results {
		if _, known := w.order[res.RowID]; !known {
			w.cfg.Logger.Warn("ignoring result for unknown row", "row", res.RowID)
			continue
		}
		if seen[res.RowID] {
			w.cfg.Logger.Warn("ignoring duplicate result", "row", res.RowID)
			continue
		}
		seen[res.RowID] = true
		w.record(report, w.process(writeCtx, res))
	}

	for _, r := range w.reqs {
		if seen[r.RowID] {
			continue
		}
		w.record(report, RowOutcome{
			RowID:       r.RowID,
			Requirement: r.Text,
			Status:      StatusAborted,
			Kind:        KindAbortedByShutdown,
			Message:     "no result received",
		})
	}

	sort.SliceStable(report.Failures, func(i, j int) bool {
		return w.order[report.Failures[i].RowID] < w.order[report.Failures[j].RowID]
	})
}

func (w *Writeback) process(ctx context.Context, res EvaluationResult) RowOutcome {
	out := RowOutcome{
		RowID:       res.RowID,
		Requirement: w.reqs[w.order[res.RowID]].Text,
		Attempt:     res.Attempt,
	}

	if f := res.Failure; f != nil {
		out.Status = StatusFailed
		if f.Kind == KindAbortedByShutdown {
			out.Status = StatusAborted
		}
		out.Kind = f.Kind
		out.Message = f.Message
		if w.cfg.WriteFailures && out.Status == StatusFailed && ctx.Err() == nil {
			if err := w.write(ctx, res.RowID, "ERROR: "+string(f.Kind)); err != nil {
				w.cfg.Logger.Warn("failed to write error marker", "row", res.RowID, "error", err)
			}
		}
		return out
	}

	if ctx.Err() != nil {
		out.Status = StatusAborted
		out.Kind = KindAbortedByShutdown
		out.Message = "drain deadline exceeded before write"
		return out
	}

	if err := w.write(ctx, res.RowID, res.Statement); err != nil {
		out.Status = StatusFailed
		out.Kind = KindWritebackFailed
		out.Message = err.Error()
		if ctx.Err() != nil {
			out.Status = StatusAborted
			out.Kind = KindAbortedByShutdown
		}
		w.cfg.Logger.Error("writeback failed", "row", res.RowID, "kind", out.Kind, "error", err)
		return out
	}

	out.Statement = res.Statement
	out.Status = StatusSucceeded
	if strings.EqualFold(strings.TrimSpace(res.Statement), NotFoundStatement) {
		out.Status = StatusNotFound
	}
	return out
}

func (w *Writeback) write(ctx context.Context, row RowID, value string) error {
	var err error
	attempt := 1
	for ; ; attempt++ {
		err = w.writeOnce(ctx, row, value)
		w.cfg.Metrics.write(err)
		if err == nil {
			return nil
		}
		if attempt == w.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		delay := w.cfg.RetryDelay * time.Duration(attempt)
		w.cfg.Logger.Debug("write failed; retrying", "row", row, "attempt", attempt, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("write row %s: retry cancelled after %d attempts: %w", row, attempt, err)
		}
	}
	return fmt.Errorf("write row %s after %d attempts: %w", row, attempt, err)
}

func (w *Writeback) writeOnce(ctx context.Context, row RowID, value string) error {
	if w.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.AttemptTimeout)
		defer cancel()
	}
	return w.src.WriteResult(ctx, row, value)
}

func (w *Writeback) record(report *RunReport, out RowOutcome) {
	if out.Attempt > 1 {
		report.Retried += out.Attempt - 1
	}
	switch out.Status {
	case StatusSucceeded:
		report.Succeeded++
	case StatusNotFound:
		report.Succeeded++
		report.NotFound++
	default:
		report.Failed++
		report.Failures = append(report.Failures, Failure{
			RowID:   out.RowID,
			Kind:    out.Kind,
			Attempt: out.Attempt,
			Message: out.Message,
		})
	}
	w.cfg.Metrics.row(out.Status)
	if w.cfg.Observer != nil {
		w.cfg.Observer(out)
	}
}
