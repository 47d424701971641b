package pipeline

import "fmt"

type State string

const (
	StateIdle         State = "Idle"
	StateRunning      State = "Running"
	StateDraining     State = "Draining"
	StateCompleted    State = "Completed"
	StateFatalAborted State = "FatalAborted"
)

// IsTerminal reports whether the run has finished.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFatalAborted
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateIdle:
		// An empty listing completes without ever running.
		return to == StateRunning || to == StateCompleted
	case StateRunning:
		return to == StateDraining || to == StateFatalAborted
	case StateDraining:
		return to == StateCompleted || to == StateFatalAborted
	default:
		return false
	}
}

func validateTransition(from, to State) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed run state transition: %s -> %s", from, to)
	}
	return nil
}
