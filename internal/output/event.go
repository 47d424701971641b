package output

import "qresponder/internal/pipeline"

// Event is a lifecycle record for NDJSON streaming output.
//
// In NDJSON mode, sinks emit Events (one JSON object per line), including:
// - run.started
// - run.state
// - row.result
// - run.finished
//
// JSON mode remains an aggregate of pipeline.RowOutcome values.
type Event struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
	*pipeline.RowOutcome
	State     pipeline.State      `json:"state,omitempty"`
	Rows      int                 `json:"rows,omitempty"`
	Documents int                 `json:"documents,omitempty"`
	Report    *pipeline.RunReport `json:"report,omitempty"`
	ExitCode  int                 `json:"exit_code,omitempty"`
}

const (
	EventRunStarted  = "run.started"
	EventRunState    = "run.state"
	EventRowResult   = "row.result"
	EventRunFinished = "run.finished"
)

func eventFromOutcome(o pipeline.RowOutcome) Event {
	return Event{Type: EventRowResult, RowOutcome: &o}
}
