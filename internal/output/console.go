package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"qresponder/internal/pipeline"
)

const maxConsoleText = 80

var statusColors = map[pipeline.OutcomeStatus]*color.Color{
	pipeline.StatusSucceeded: color.New(color.FgGreen),
	pipeline.StatusNotFound:  color.New(color.FgYellow),
	pipeline.StatusFailed:    color.New(color.FgRed),
	pipeline.StatusAborted:   color.New(color.FgMagenta),
}

type ConsoleSink struct {
	writer          io.Writer
	format          string // "text", "json", "ndjson"
	mu              sync.Mutex
	outcomes        []pipeline.RowOutcome // For JSON array output
	allowedStatuses map[pipeline.OutcomeStatus]bool
}

func NewConsoleSink(w io.Writer, format string, filterStatuses ...string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}

	s := &ConsoleSink{
		writer: w,
		format: format,
	}

	if len(filterStatuses) > 0 {
		s.allowedStatuses = make(map[pipeline.OutcomeStatus]bool)
		for _, st := range filterStatuses {
			s.allowedStatuses[pipeline.OutcomeStatus(strings.ToUpper(st))] = true
		}
	}

	return s
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(v)
}

func (s *ConsoleSink) writeLocked(v any) error {
	if len(s.allowedStatuses) > 0 {
		if o, ok := v.(pipeline.RowOutcome); ok && !s.allowedStatuses[o.Status] {
			return nil
		}
	}

	switch s.format {
	case "json":
		o, ok := v.(pipeline.RowOutcome)
		if !ok {
			// Ignore lifecycle events in JSON console mode.
			return nil
		}
		s.outcomes = append(s.outcomes, o)
		return nil
	case "ndjson":
		encoder := json.NewEncoder(s.writer)
		switch t := v.(type) {
		case Event:
			if err := encoder.Encode(t); err != nil {
				return err
			}
			return flush(s.writer)
		case pipeline.RowOutcome:
			if err := encoder.Encode(eventFromOutcome(t)); err != nil {
				return err
			}
			return flush(s.writer)
		default:
			return nil
		}
	case "text":
		switch t := v.(type) {
		case pipeline.RowOutcome:
			if err := s.writeOutcomeText(t); err != nil {
				return err
			}
		case Event:
			if t.Type != EventRunFinished || t.Report == nil {
				return nil
			}
			if _, err := fmt.Fprintln(s.writer, summaryLine(t.Report)); err != nil {
				return err
			}
		default:
			return nil
		}
		return flush(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) writeOutcomeText(o pipeline.RowOutcome) error {
	tag := fmt.Sprintf("[%s]", o.Status)
	if c, ok := statusColors[o.Status]; ok {
		tag = c.Sprint(tag)
	}
	if _, err := fmt.Fprintf(s.writer, "%s row %s", tag, o.RowID); err != nil {
		return err
	}
	if o.Requirement != "" {
		if _, err := fmt.Fprintf(s.writer, ": %s", truncate(o.Requirement, maxConsoleText)); err != nil {
			return err
		}
	}
	detail := o.Statement
	if o.Status == pipeline.StatusFailed || o.Status == pipeline.StatusAborted {
		detail = string(o.Kind)
		if o.Message != "" {
			detail += ": " + o.Message
		}
	}
	if detail != "" && o.Status != pipeline.StatusNotFound {
		if _, err := fmt.Fprintf(s.writer, " - %s", truncate(detail, maxConsoleText)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(s.writer)
	return err
}

func summaryLine(r *pipeline.RunReport) string {
	line := fmt.Sprintf("%s: %d rows, %d answered (%d not found), %d failed, %d retries in %s",
		r.State, r.Total, r.Succeeded, r.NotFound, r.Failed, r.Retried, r.Duration().Round(time.Millisecond))
	if r.Fatal {
		line += fmt.Sprintf(" - aborted: %s", r.FatalKind)
	}
	return line
}

func (s *ConsoleSink) Close() error {
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
	if s.format != "text" && s.format != "ndjson" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return nil
}
