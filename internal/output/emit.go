package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"qresponder/internal/pipeline"
)

// EmitSink writes additional structured outputs.
//
// Formats:
//   - json: aggregates row outcomes and writes a single JSON array on Close
//   - ndjson: streams Event values (one JSON object per line)
type EmitSink struct {
	writer   io.Writer
	format   string // "json" | "ndjson"
	mu       sync.Mutex
	outcomes []pipeline.RowOutcome
}

func NewEmitSink(w io.Writer, format string) (*EmitSink, error) {
	if w == nil {
		return nil, fmt.Errorf("emit sink writer must not be nil")
	}
	if format != "json" && format != "ndjson" {
		return nil, fmt.Errorf("unsupported emit format: %s", format)
	}
	return &EmitSink{writer: w, format: format}, nil
}

func (s *EmitSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		o, ok := v.(pipeline.RowOutcome)
		if !ok {
			// Ignore lifecycle events in JSON aggregate mode.
			return nil
		}
		s.outcomes = append(s.outcomes, o)
		return nil
	case "ndjson":
		var e Event
		switch t := v.(type) {
		case Event:
			e = t
		case pipeline.RowOutcome:
			e = eventFromOutcome(t)
		default:
			return nil
		}
		if err := json.NewEncoder(s.writer).Encode(e); err != nil {
			return err
		}
		return flush(s.writer)
	default:
		return fmt.Errorf("unsupported emit format: %s", s.format)
	}
}

func (s *EmitSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "json" {
		encoder := json.NewEncoder(s.writer)
		encoder.SetIndent("", "  ")
		outcomes := s.outcomes
		if outcomes == nil {
			outcomes = []pipeline.RowOutcome{}
		}
		if err := encoder.Encode(outcomes); err != nil {
			return err
		}
		return flush(s.writer)
	}
	return nil
}
