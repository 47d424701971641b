package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"qresponder/internal/pipeline"
)

func init() {
	color.NoColor = true
}

func TestConsoleSink_Filtering(t *testing.T) {
	succeeded := pipeline.RowOutcome{RowID: "2", Status: pipeline.StatusSucceeded, Statement: "Yes."}
	failed := pipeline.RowOutcome{RowID: "3", Status: pipeline.StatusFailed, Kind: pipeline.KindContentRejected}
	notFound := pipeline.RowOutcome{RowID: "4", Status: pipeline.StatusNotFound, Statement: "not_found"}

	tests := []struct {
		name           string
		format         string
		filterStatuses []string
		input          pipeline.RowOutcome
		shouldWrite    bool
	}{
		{"text - no filter - succeeded", "text", nil, succeeded, true},
		{"text - filter FAILED - input SUCCEEDED", "text", []string{"FAILED"}, succeeded, false},
		{"text - filter FAILED - input FAILED", "text", []string{"FAILED"}, failed, true},
		{"text - filter FAILED,NOT_FOUND - input NOT_FOUND", "text", []string{"FAILED", "NOT_FOUND"}, notFound, true},
		{"json - filter FAILED - input SUCCEEDED", "json", []string{"FAILED"}, succeeded, false},
		{"json - filter FAILED - input FAILED", "json", []string{"FAILED"}, failed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sink := NewConsoleSink(&buf, tt.format, tt.filterStatuses...)

			if err := sink.Write(tt.input); err != nil {
				t.Fatalf("Write error: %v", err)
			}

			if tt.format == "json" {
				// JSON output is buffered until Close.
				want := 0
				if tt.shouldWrite {
					want = 1
				}
				if len(sink.outcomes) != want {
					t.Errorf("expected %d outcomes buffered, got %d", want, len(sink.outcomes))
				}
				return
			}

			wroteSomething := buf.Len() > 0
			if tt.shouldWrite && !wroteSomething {
				t.Errorf("expected output, got none")
			}
			if !tt.shouldWrite && wroteSomething {
				t.Errorf("expected no output, got: %q", buf.String())
			}
		})
	}
}

func TestConsoleSink_Filtering_CaseInsensitive(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "text", "failed")

	input := pipeline.RowOutcome{RowID: "5", Status: pipeline.StatusFailed, Kind: pipeline.KindUnknown}
	if err := sink.Write(input); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	if buf.Len() == 0 {
		t.Error("expected output for case-insensitive match, got none")
	}
}

func TestConsoleSink_Filtering_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "ndjson", "FAILED")

	ok := pipeline.RowOutcome{RowID: "2", Status: pipeline.StatusSucceeded}
	if err := sink.Write(ok); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if buf.Len() > 0 {
		t.Errorf("expected no output for SUCCEEDED, got: %s", buf.String())
	}

	fail := pipeline.RowOutcome{RowID: "3", Status: pipeline.StatusFailed, Kind: pipeline.KindRateLimited}
	if err := sink.Write(fail); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if !strings.Contains(buf.String(), `"status":"FAILED"`) || !strings.Contains(buf.String(), `"error_kind":"RateLimited"`) {
		t.Errorf("expected output for FAILED, got: %s", buf.String())
	}
}

func TestConsoleSink_TextLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "text")

	writes := []any{
		Event{Type: EventRunStarted, Rows: 3},
		pipeline.RowOutcome{RowID: "2", Requirement: "Do you encrypt data at rest?", Status: pipeline.StatusSucceeded, Statement: "Yes, AES-256."},
		pipeline.RowOutcome{RowID: "3", Requirement: "Bug bounty?", Status: pipeline.StatusNotFound, Statement: "not_found"},
		pipeline.RowOutcome{RowID: "4", Requirement: "SSO?", Status: pipeline.StatusFailed, Kind: pipeline.KindWritebackFailed, Message: "update failed"},
		Event{Type: EventRunFinished, Report: &pipeline.RunReport{
			State: pipeline.StateCompleted, Total: 3, Succeeded: 2, NotFound: 1, Failed: 1,
			StartedAt: time.Unix(0, 0), FinishedAt: time.Unix(2, 0),
		}},
	}
	for _, w := range writes {
		if err := sink.Write(w); err != nil {
			t.Fatalf("Write error: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"[SUCCEEDED] row 2: Do you encrypt data at rest? - Yes, AES-256.",
		"[NOT_FOUND] row 3: Bug bounty?",
		"[FAILED] row 4: SSO? - WritebackFailed: update failed",
		"Completed: 3 rows, 2 answered (1 not found), 1 failed, 0 retries in 2s",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %q", len(want), len(lines), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("  a   b  ", 10); got != "a b" {
		t.Fatalf("truncate collapsed = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("truncate = %q", got)
	}
}
