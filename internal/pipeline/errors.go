package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the model query function and the source.
type ErrorKind string

const (
	KindRateLimited       ErrorKind = "RateLimited"
	KindTransientNetwork  ErrorKind = "TransientNetwork"
	KindQuotaExhausted    ErrorKind = "QuotaExhausted"
	KindAuthFailed        ErrorKind = "AuthFailed"
	KindContentRejected   ErrorKind = "ContentRejected"
	KindWritebackFailed   ErrorKind = "WritebackFailed"
	KindAbortedByShutdown ErrorKind = "AbortedByShutdown"
	KindSourceUnavailable ErrorKind = "SourceUnavailable"
	KindUnknown           ErrorKind = "Unknown"
)

type ErrorClass int

const (
	// ClassTerminal fails the row immediately; the run continues.
	ClassTerminal ErrorClass = iota
	// ClassTransient is retried with backoff up to the attempt bound.
	ClassTransient
	// ClassFatal aborts the whole run after draining in-flight work.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "terminal"
	}
}

func (k ErrorKind) Class() ErrorClass {
	switch k {
	case KindRateLimited, KindTransientNetwork:
		return ClassTransient
	case KindQuotaExhausted, KindAuthFailed:
		return ClassFatal
	default:
		return ClassTerminal
	}
}

// Error is a classified error.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify wraps err with a kind. A nil err yields nil.
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Unclassified errors are KindUnknown; bare context cancellation is
// KindAbortedByShutdown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindAbortedByShutdown
	}
	return KindUnknown
}

var (
	ErrDuplicateRowID = errors.New("duplicate row id")
	ErrEmptyRowID     = errors.New("empty row id")
)

// FatalError is returned by Orchestrator.Run when the run was aborted.
type FatalError struct {
	Kind ErrorKind
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("run aborted (%s): %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
