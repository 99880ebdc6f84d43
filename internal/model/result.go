package model

import "time"

// State is a step of the per-call processing state machine.
type State string

const (
	StateReceived    State = "received"
	StateClassifying State = "classifying"
	StateBuilding    State = "building"
	StateDispatching State = "dispatching"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// ProcessingResult is returned to the caller of /process-call.
type ProcessingResult struct {
	Success     bool      `json:"success"`
	CallID      string    `json:"call_id"`
	State       State     `json:"state"`
	Commitments int       `json:"commitments"`
	Outcomes    []Outcome `json:"outcomes"`
	Error       string    `json:"error,omitempty"`
	Duplicate   bool      `json:"duplicate,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Err keeps the typed fatal error for the HTTP layer.
	Err error `json:"-"`
}

// Failed returns the outcomes that did not succeed.
func (r *ProcessingResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Success {
			out = append(out, o)
		}
	}
	return out
}

// AllSucceeded reports whether every attempted outcome succeeded.
// An empty outcome list counts as success.
func AllSucceeded(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Success {
			return false
		}
	}
	return true
}
