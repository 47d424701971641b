package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qresponder/internal/pipeline"
)

func TestMarkdownReportContract(t *testing.T) {
	tmpDir := t.TempDir()
	reportPath := filepath.Join(tmpDir, "qresponder-report.md")

	s, err := NewReportSink(reportPath)
	if err != nil {
		t.Fatalf("NewReportSink failed: %v", err)
	}

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	failures := []pipeline.Failure{
		{RowID: "3", Kind: pipeline.KindQuotaExhausted, Attempt: 1, Message: "insufficient_quota"},
		{RowID: "10", Kind: pipeline.KindAbortedByShutdown, Attempt: 0},
		{RowID: "11", Kind: pipeline.KindAbortedByShutdown, Attempt: 0},
	}

	writes := []any{
		Event{Type: EventRunStarted, RunID: "run-1", Rows: 5, Documents: 12},
		pipeline.RowOutcome{RowID: "10", Requirement: "Pen tests?", Status: pipeline.StatusAborted, Kind: pipeline.KindAbortedByShutdown},
		pipeline.RowOutcome{RowID: "2", Requirement: "Encrypt | at rest?", Status: pipeline.StatusSucceeded, Statement: "Yes (Reference: https://docs.example.com/enc)"},
		pipeline.RowOutcome{RowID: "4", Requirement: "Bug bounty?", Status: pipeline.StatusNotFound, Statement: "not_found"},
		pipeline.RowOutcome{RowID: "3", Requirement: "SSO?", Status: pipeline.StatusFailed, Kind: pipeline.KindQuotaExhausted},
		pipeline.RowOutcome{RowID: "11", Requirement: "DPA?", Status: pipeline.StatusAborted, Kind: pipeline.KindAbortedByShutdown},
		Event{Type: EventRunFinished, ExitCode: 3, Report: &pipeline.RunReport{
			RunID: "run-1", State: pipeline.StateFatalAborted, Total: 5, Succeeded: 2, NotFound: 1, Failed: 3,
			Failures: failures, Fatal: true, FatalKind: pipeline.KindQuotaExhausted, FatalError: "quota exhausted",
			StartedAt: start, FinishedAt: start.Add(90 * time.Second),
		}},
	}
	for _, w := range writes {
		if err := s.Write(w); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	out := string(b)

	required := []string{
		"# Questionnaire Run Report",
		"## Summary",
		"| Run | `run-1` |",
		"| State | FatalAborted |",
		"| Answered | 1 |",
		"| Not found in documents | 1 |",
		"| Documents | 12 |",
		"| Duration | 1m30s |",
		"| Exit code | 3 |",
		"### ⛔ Run aborted",
		"**QuotaExhausted** error: quota exhausted",
		"## Failures",
		"- **AbortedByShutdown**: 2 rows (10, 11)",
		"- **QuotaExhausted**: 1 row (3)",
		"| 3 | QuotaExhausted | 1 | insufficient_quota |",
		"## Not covered by the documents",
		"- Row 4: Bug bounty?",
		"## Answered",
		`| 2 | Encrypt \| at rest? | Yes (Reference: https://docs.example.com/enc) |`,
	}
	for _, r := range required {
		if !strings.Contains(out, r) {
			t.Errorf("report missing %q\n---\n%s", r, out)
		}
	}

	// Failure groups are ordered by frequency.
	if strings.Index(out, "**AbortedByShutdown**") > strings.Index(out, "**QuotaExhausted**: 1 row") {
		t.Errorf("expected most frequent failure kind first")
	}
}

func TestMarkdownReport_WithoutFinishedEvent(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "report.md")
	s, err := NewReportSink(reportPath)
	if err != nil {
		t.Fatalf("NewReportSink failed: %v", err)
	}
	_ = s.Write(pipeline.RowOutcome{RowID: "9", Status: pipeline.StatusFailed, Kind: pipeline.KindContentRejected, Message: "blocked"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	out := string(b)
	for _, r := range []string{"| Rows reported | 1 |", "- **ContentRejected**: 1 row (9)", "| 9 | ContentRejected | 0 | blocked |"} {
		if !strings.Contains(out, r) {
			t.Errorf("report missing %q\n---\n%s", r, out)
		}
	}
}

func TestRowLess(t *testing.T) {
	if !rowLess("2", "10") {
		t.Fatal("expected numeric ordering")
	}
	if !rowLess("a", "b") || rowLess("b", "a") {
		t.Fatal("expected lexical ordering for non-numeric IDs")
	}
}

func TestFormatRowList(t *testing.T) {
	if got := formatRowList([]string{"1", "2", "3", "4"}, 2); got != "4 rows (1, 2, +2 more)" {
		t.Fatalf("formatRowList = %q", got)
	}
	if got := formatRowList(nil, 2); got != "0 rows" {
		t.Fatalf("formatRowList(nil) = %q", got)
	}
}
