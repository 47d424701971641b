package output

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"qresponder/internal/pipeline"
)

const maxReportText = 160

// ReportSink renders a Markdown run report on Close.
type ReportSink struct {
	path      string
	file      *os.File
	mu        sync.Mutex
	outcomes  []pipeline.RowOutcome
	report    *pipeline.RunReport
	documents int
	exitCode  int
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	return &ReportSink{path: path, file: f}, nil
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t := v.(type) {
	case pipeline.RowOutcome:
		s.outcomes = append(s.outcomes, t)
	case Event:
		switch t.Type {
		case EventRunStarted:
			s.documents = t.Documents
		case EventRunFinished:
			s.report = t.Report
			s.exitCode = t.ExitCode
		}
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.WriteString(s.render()); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

func (s *ReportSink) render() string {
	outcomes := append([]pipeline.RowOutcome(nil), s.outcomes...)
	sort.SliceStable(outcomes, func(i, j int) bool { return rowLess(outcomes[i].RowID, outcomes[j].RowID) })

	var answered, notFound, failed []pipeline.RowOutcome
	for _, o := range outcomes {
		switch o.Status {
		case pipeline.StatusSucceeded:
			answered = append(answered, o)
		case pipeline.StatusNotFound:
			notFound = append(notFound, o)
		default:
			failed = append(failed, o)
		}
	}

	var b strings.Builder
	b.WriteString("# Questionnaire Run Report\n\n")

	// --- Summary ---
	b.WriteString("## Summary\n\n")
	b.WriteString("| | |\n| --- | ---: |\n")
	if r := s.report; r != nil {
		fmt.Fprintf(&b, "| Run | `%s` |\n", r.RunID)
		fmt.Fprintf(&b, "| State | %s |\n", r.State)
		fmt.Fprintf(&b, "| Pending rows | %d |\n", r.Total)
		fmt.Fprintf(&b, "| Answered | %d |\n", r.Succeeded-r.NotFound)
		fmt.Fprintf(&b, "| Not found in documents | %d |\n", r.NotFound)
		fmt.Fprintf(&b, "| Failed | %d |\n", r.Failed)
		fmt.Fprintf(&b, "| Retries | %d |\n", r.Retried)
		fmt.Fprintf(&b, "| Documents | %d |\n", s.documents)
		fmt.Fprintf(&b, "| Duration | %s |\n", r.Duration().Round(time.Second))
		fmt.Fprintf(&b, "| Exit code | %d |\n", s.exitCode)
	} else {
		fmt.Fprintf(&b, "| Rows reported | %d |\n", len(outcomes))
		fmt.Fprintf(&b, "| Documents | %d |\n", s.documents)
	}
	b.WriteString("\n")

	if r := s.report; r != nil && r.Fatal {
		b.WriteString("### ⛔ Run aborted\n\n")
		fmt.Fprintf(&b, "The run stopped on a **%s** error: %s\n\n", r.FatalKind, escapeCell(r.FatalError))
		if g, ok := kindGuidance[r.FatalKind]; ok {
			fmt.Fprintf(&b, "%s\n\n", g)
		}
		b.WriteString("Rows that were not answered stay empty in the sheet and are picked up by the next run.\n\n")
	}

	// --- Failures ---
	b.WriteString("## Failures\n\n")
	var failures []pipeline.Failure
	if s.report != nil {
		failures = s.report.Failures
	} else {
		for _, o := range failed {
			failures = append(failures, pipeline.Failure{RowID: o.RowID, Kind: o.Kind, Attempt: o.Attempt, Message: o.Message})
		}
	}
	if len(failures) == 0 {
		b.WriteString("- None\n\n")
	} else {
		for _, kc := range countKinds(failures) {
			fmt.Fprintf(&b, "- **%s**: %s\n", kc.Kind, formatRowList(kc.Rows, 5))
			if g, ok := kindGuidance[kc.Kind]; ok {
				fmt.Fprintf(&b, "  - %s\n", g)
			}
		}
		b.WriteString("\n| Row | Kind | Attempt | Message |\n")
		b.WriteString("| --- | --- | ---: | --- |\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n", f.RowID, f.Kind, f.Attempt, escapeCell(truncate(f.Message, maxReportText)))
		}
		b.WriteString("\n")
	}

	// --- Not found ---
	b.WriteString("## Not covered by the documents\n\n")
	if len(notFound) == 0 {
		b.WriteString("- None\n\n")
	} else {
		b.WriteString("These rows were marked `not_found`; add documentation that covers them and clear the cell to re-run.\n\n")
		for _, o := range notFound {
			fmt.Fprintf(&b, "- Row %s: %s\n", o.RowID, truncate(o.Requirement, maxReportText))
		}
		b.WriteString("\n")
	}

	// --- Answered ---
	b.WriteString("## Answered\n\n")
	if len(answered) == 0 {
		b.WriteString("- None\n\n")
	} else {
		b.WriteString("| Row | Requirement | Statement |\n")
		b.WriteString("| --- | --- | --- |\n")
		for _, o := range answered {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", o.RowID,
				escapeCell(truncate(o.Requirement, maxReportText)), escapeCell(truncate(o.Statement, maxReportText)))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// rowLess orders numeric row IDs numerically and everything else lexically.
func rowLess(a, b pipeline.RowID) bool {
	ai, aerr := strconv.Atoi(string(a))
	bi, berr := strconv.Atoi(string(b))
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
