package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallEvent_Validate(t *testing.T) {
	valid := CallEvent{CallID: "call_1", LeadID: "lead_1", UserID: "user_1", Duration: 120, Direction: DirectionOutbound}

	tests := []struct {
		name      string
		mutate    func(e *CallEvent)
		wantField string
	}{
		{"valid", func(e *CallEvent) {}, ""},
		{"empty direction ok", func(e *CallEvent) { e.Direction = "" }, ""},
		{"missing call id", func(e *CallEvent) { e.CallID = " " }, "call_id"},
		{"missing lead id", func(e *CallEvent) { e.LeadID = "" }, "lead_id"},
		{"missing user id", func(e *CallEvent) { e.UserID = "" }, "user_id"},
		{"negative duration", func(e *CallEvent) { e.Duration = -1 }, "duration"},
		{"bad direction", func(e *CallEvent) { e.Direction = "sideways" }, "direction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			if assert.ErrorAs(t, err, &ve) {
				assert.Equal(t, tt.wantField, ve.Field)
			}
		})
	}
}

func TestParseTarget(t *testing.T) {
	for in, want := range map[string]Target{"crm": TargetCRM, "Close": TargetCRM, " agency ": TargetAgency, "NOWCERTS": TargetAgency} {
		got, err := ParseTarget(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTarget("salesforce")
	assert.Error(t, err)
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{NewValidationError("call_id", "is required"), "validation"},
		{fmt.Errorf("wrapped: %w", &TransientRemoteError{Target: TargetCRM, StatusCode: 503, Err: errors.New("unavailable")}), "transient_remote"},
		{&PermanentRemoteError{Target: TargetAgency, StatusCode: 400, Err: errors.New("bad")}, "permanent_remote"},
		{&ClassifierError{Err: errors.New("model down")}, "classifier"},
		{&TimeoutError{Pending: []Target{TargetCRM}}, "timeout"},
		{errors.New("other"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorType(tt.err))
	}
}

func TestAllSucceeded(t *testing.T) {
	assert.True(t, AllSucceeded(nil))
	assert.True(t, AllSucceeded([]Outcome{{Success: true}, {Success: true}}))
	assert.False(t, AllSucceeded([]Outcome{{Success: true}, {Success: false}}))

	r := &ProcessingResult{Outcomes: []Outcome{{Target: TargetCRM}, {Target: TargetAgency, Success: true}}}
	failed := r.Failed()
	if assert.Len(t, failed, 1) {
		assert.Equal(t, TargetCRM, failed[0].Target)
	}
}

func TestTaskStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskPending, TaskInProgress, true},
		{TaskPending, TaskCancelled, true},
		{TaskPending, TaskCompleted, false},
		{TaskInProgress, TaskCompleted, true},
		{TaskInProgress, TaskFailed, true},
		{TaskInProgress, TaskNeedsApproval, true},
		{TaskInProgress, TaskPending, false},
		{TaskNeedsApproval, TaskRejected, true},
		{TaskNeedsApproval, TaskInProgress, true},
		{TaskCompleted, TaskInProgress, false},
		{TaskFailed, TaskInProgress, false},
		{TaskCancelled, TaskPending, false},
		{TaskRejected, TaskCancelled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, TaskCompleted.Terminal())
	assert.False(t, TaskNeedsApproval.Terminal())
}

func TestParseTaskStatus(t *testing.T) {
	got, err := ParseTaskStatus(" In_Progress ")
	assert.NoError(t, err)
	assert.Equal(t, TaskInProgress, got)

	_, err = ParseTaskStatus("archived")
	assert.True(t, IsValidation(err))
}

func TestInitialTaskStatus(t *testing.T) {
	assert.Equal(t, TaskPending, InitialTaskStatus(Outcome{Success: true}, false))
	assert.Equal(t, TaskNeedsApproval, InitialTaskStatus(Outcome{Success: true}, true))
	assert.Equal(t, TaskFailed, InitialTaskStatus(Outcome{ErrorKind: ErrorKindTransient}, true))
}
