package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(TasksCreated.WithLabelValues("crm", "success"))
	IncrementTask("crm", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(TasksCreated.WithLabelValues("crm", "success")))

	beforeErr := testutil.ToFloat64(RemoteAttempts.WithLabelValues("agency", "error"))
	RecordAttempt("agency", errors.New("503"))
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(RemoteAttempts.WithLabelValues("agency", "error")))

	beforeUnknown := testutil.ToFloat64(CommitmentsExtracted.WithLabelValues("unknown", "crm"))
	IncrementCommitment("", "crm")
	assert.Equal(t, beforeUnknown+1, testutil.ToFloat64(CommitmentsExtracted.WithLabelValues("unknown", "crm")))

	beforeStatus := testutil.ToFloat64(TaskStatusChanges.WithLabelValues("crm", "completed"))
	IncrementTaskStatus("crm", "completed")
	assert.Equal(t, beforeStatus+1, testutil.ToFloat64(TaskStatusChanges.WithLabelValues("crm", "completed")))

	beforeCalls := testutil.ToFloat64(CallsProcessed.WithLabelValues("completed"))
	RecordCall("completed", 120*time.Millisecond)
	assert.Equal(t, beforeCalls+1, testutil.ToFloat64(CallsProcessed.WithLabelValues("completed")))
}
