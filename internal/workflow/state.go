package workflow

import "fmt"

// State is the lifecycle of the import session held by a Workflow.
type State int

const (
	StateIdle State = iota
	StateUploading
	StateReviewing
	StateApplying
	StateClosedSuccess
	StateClosedCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUploading:
		return "uploading"
	case StateReviewing:
		return "reviewing"
	case StateApplying:
		return "applying"
	case StateClosedSuccess:
		return "closed(success)"
	case StateClosedCancelled:
		return "closed(cancelled)"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Closed reports whether the session reached a terminal state.
func (s State) Closed() bool {
	return s == StateClosedSuccess || s == StateClosedCancelled
}

var transitions = map[State][]State{
	StateIdle:            {StateUploading},
	StateUploading:       {StateReviewing, StateIdle},
	StateReviewing:       {StateApplying, StateClosedCancelled},
	StateApplying:        {StateClosedSuccess, StateReviewing},
	StateClosedSuccess:   {StateUploading},
	StateClosedCancelled: {StateUploading},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
