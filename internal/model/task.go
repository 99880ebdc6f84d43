package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Target is a downstream system that receives follow-up tasks.
type Target string

const (
	TargetCRM    Target = "crm"    // Close.com
	TargetAgency Target = "agency" // NowCerts
)

// ParseTarget accepts the config spellings of a target.
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crm", "close":
		return TargetCRM, nil
	case "agency", "nowcerts":
		return TargetAgency, nil
	}
	return "", fmt.Errorf("unknown target %q", s)
}

// TaskRequest asks one target system to create one follow-up item.
type TaskRequest struct {
	ID               string    `json:"id"`
	Target           Target    `json:"target"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	DueDate          time.Time `json:"due_date"`
	CallID           string    `json:"call_id"`
	LeadID           string    `json:"lead_id"`
	UserID           string    `json:"user_id"`
	UserName         string    `json:"user_name,omitempty"`
	Priority         Priority  `json:"priority"`
	CommitmentType   string    `json:"commitment_type,omitempty"`
	RequiresApproval bool      `json:"requires_approval"`
}

// ErrorKind classifies a failed outcome.
type ErrorKind string

const (
	ErrorKindTransient   ErrorKind = "transient"
	ErrorKindPermanent   ErrorKind = "permanent"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindCircuitOpen ErrorKind = "circuit_open"
)

// Outcome is the result of dispatching one TaskRequest.
type Outcome struct {
	TaskID    string    `json:"task_id"`
	Target    Target    `json:"target"`
	Success   bool      `json:"success"`
	Attempts  int       `json:"attempts"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Status    TaskStatus `json:"status,omitempty"`
}

// TaskStatus is the lifecycle state of a dispatched task.
type TaskStatus string

const (
	TaskPending       TaskStatus = "pending"
	TaskInProgress    TaskStatus = "in_progress"
	TaskNeedsApproval TaskStatus = "needs_approval"
	TaskCompleted     TaskStatus = "completed"
	TaskFailed        TaskStatus = "failed"
	TaskRejected      TaskStatus = "rejected"
	TaskCancelled     TaskStatus = "cancelled"
)

// ErrInvalidTransition is returned for a status change the lifecycle does
// not allow.
var ErrInvalidTransition = errors.New("invalid task status transition")

// Statuses missing from the map are terminal.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:       {TaskInProgress, TaskCancelled},
	TaskInProgress:    {TaskCompleted, TaskFailed, TaskNeedsApproval, TaskCancelled},
	TaskNeedsApproval: {TaskInProgress, TaskCompleted, TaskRejected, TaskCancelled},
}

func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case TaskPending, TaskInProgress, TaskNeedsApproval, TaskCompleted, TaskFailed, TaskRejected, TaskCancelled:
		return st, nil
	}
	return "", NewValidationError("status", fmt.Sprintf("unknown task status %q", s))
}

// CanTransition reports whether a task may move from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return len(taskTransitions[s]) == 0
}

// InitialTaskStatus is the status a task starts with after dispatch.
func InitialTaskStatus(o Outcome, requiresApproval bool) TaskStatus {
	switch {
	case !o.Success:
		return TaskFailed
	case requiresApproval:
		return TaskNeedsApproval
	}
	return TaskPending
}

// TaskUpdate is a requested status change.
type TaskUpdate struct {
	Status TaskStatus `json:"status"`
	Notes  string     `json:"notes,omitempty"`
}
