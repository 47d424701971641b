package pipeline

import (
	"context"
	"time"

	"qresponder/internal/docs"
)

// RowID is the opaque, stable identifier of a requirement row in its source.
type RowID string

// Requirement is a single row read from the requirement source. Immutable once read.
type Requirement struct {
	RowID RowID  `json:"row_id"`
	Text  string `json:"text"`
}

// EvaluationTask is one attempt at evaluating a requirement. It is owned by
// the worker that dequeued it.
type EvaluationTask struct {
	Requirement Requirement
	Attempt     int
	index       int
}

// Failure is a row-level terminal failure.
type Failure struct {
	RowID   RowID     `json:"row_id"`
	Kind    ErrorKind `json:"error_kind"`
	Attempt int       `json:"attempt"`
	Message string    `json:"message,omitempty"`
}

// EvaluationResult is the terminal outcome of one requirement: either a
// statement (Failure == nil) or a Failure.
type EvaluationResult struct {
	RowID     RowID
	Statement string
	Attempt   int
	Failure   *Failure
	index     int
}

func (r EvaluationResult) Succeeded() bool {
	return r.Failure == nil
}

// Query is the input of one model call.
type Query struct {
	Requirement Requirement
	Context     *docs.Handle
	Template    string
	Attempt     int
}

// Evaluator is the model query function. Implementations must be safe for
// concurrent use.
type Evaluator interface {
	Evaluate(ctx context.Context, q Query) (string, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, q Query) (string, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, q Query) (string, error) {
	return f(ctx, q)
}

// Source is the tabular store requirements are read from and written back to.
//
// ListRequirements must only return unresolved rows (rows that already hold a
// statement are filtered by the source), which keeps re-runs idempotent.
type Source interface {
	ListRequirements(ctx context.Context) ([]Requirement, error)
	WriteResult(ctx context.Context, row RowID, statement string) error
}

// NotFoundStatement is the sentinel statement for requirements the documents do not cover.
const NotFoundStatement = "not_found"

type OutcomeStatus string

const (
	StatusSucceeded OutcomeStatus = "SUCCEEDED"
	StatusNotFound  OutcomeStatus = "NOT_FOUND"
	StatusFailed    OutcomeStatus = "FAILED"
	StatusAborted   OutcomeStatus = "ABORTED"
)

// RowOutcome is what the writeback coordinator reports for each row once it
// has been persisted (or has definitively failed).
type RowOutcome struct {
	RowID       RowID         `json:"row_id"`
	Requirement string        `json:"requirement,omitempty"`
	Status      OutcomeStatus `json:"status"`
	Statement   string        `json:"statement,omitempty"`
	Kind        ErrorKind     `json:"error_kind,omitempty"`
	Attempt     int           `json:"attempt"`
	Message     string        `json:"message,omitempty"`
}

// RunReport is the final summary of a pipeline run. Succeeded counts every
// written statement, including the NotFound subset.
type RunReport struct {
	RunID      string    `json:"run_id"`
	State      State     `json:"state"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	NotFound   int       `json:"not_found"`
	Failed     int       `json:"failed"`
	Retried    int       `json:"retried"`
	Failures   []Failure `json:"failures"`
	Fatal      bool      `json:"fatal"`
	FatalKind  ErrorKind `json:"fatal_kind,omitempty"`
	FatalError string    `json:"fatal_error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *RunReport) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
