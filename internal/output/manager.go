package output

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Sink defines a destination for run records (row outcomes and lifecycle events).
type Sink interface {
	Write(v any) error
	Close() error
}

// ErrClosed is returned by Manager.Write after Close.
var ErrClosed = errors.New("output manager closed")

type namedSink struct {
	name string
	sink Sink
}

// Manager fans every record out to its sinks. It is safe for concurrent use:
// row outcomes arrive from the writeback goroutine while state changes arrive
// from the dispatcher, and each record reaches every sink before the next one.
type Manager struct {
	mu     sync.Mutex
	sinks  []namedSink
	closed bool
}

func NewManager() *Manager {
	return &Manager{}
}

// AddSink registers s under name; the name prefixes its write and close errors.
func (m *Manager) AddSink(name string, s Sink) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	if s == nil {
		return fmt.Errorf("sink %q must not be nil", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sinks = append(m.sinks, namedSink{name: name, sink: s})
	return nil
}

// Len reports the number of registered sinks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sinks)
}

// Write hands v to every sink. A failing sink does not stop the others.
func (m *Manager) Write(v any) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.sink.Write(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("write %T: %w", v, errors.Join(errs...))
	}
	return nil
}

// Close closes every sink once; later calls return nil.
func (m *Manager) Close() error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for _, s := range m.sinks {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// flush pushes buffered bytes through when w buffers (e.g. bufio.Writer), so
// stream consumers see each record as soon as it is written.
func flush(w io.Writer) error {
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
