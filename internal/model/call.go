package model

import (
	"strings"
	"time"
)

// Direction of a call as reported by the CRM.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallEvent is a completed call forwarded by the workflow engine or the
// Close webhook. It is constructed per request and never mutated.
type CallEvent struct {
	CallID      string    `json:"call_id"`
	LeadID      string    `json:"lead_id"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	Transcript  string    `json:"transcript"`
	Duration    int       `json:"duration"` // seconds
	Direction   Direction `json:"direction"`
	Disposition string    `json:"disposition"`
}

// Validate checks the identifiers every downstream task needs.
func (e CallEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.CallID) == "":
		return NewValidationError("call_id", "is required")
	case strings.TrimSpace(e.LeadID) == "":
		return NewValidationError("lead_id", "is required")
	case strings.TrimSpace(e.UserID) == "":
		return NewValidationError("user_id", "is required")
	case e.Duration < 0:
		return NewValidationError("duration", "must not be negative")
	}
	switch e.Direction {
	case "", DirectionInbound, DirectionOutbound:
	default:
		return NewValidationError("direction", "must be inbound or outbound")
	}
	return nil
}

// Priority of a follow-up task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Commitment is a promise the agent made during the call.
type Commitment struct {
	Type             string     `json:"type,omitempty"`
	Description      string     `json:"description"`
	System           Target     `json:"system,omitempty"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	RequiresApproval bool       `json:"requires_approval"`
	Priority         Priority   `json:"priority"`
	SourceText       string     `json:"source_text,omitempty"`
	Confidence       float64    `json:"confidence"`
}
