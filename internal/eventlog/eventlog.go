package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// EventType represents the type of processing event
type EventType string

const (
	EventReceived           EventType = "received"
	EventDuplicate          EventType = "duplicate"
	EventClassified         EventType = "classified"
	EventClassifierError    EventType = "classifier_error"
	EventTasksBuilt         EventType = "tasks_built"
	EventTaskDispatched     EventType = "task_dispatched"
	EventTaskFailed         EventType = "task_failed"
	EventTaskStatusChanged  EventType = "task_status_changed"
	EventApprovalRequested  EventType = "approval_requested"
	EventProcessingTimeout  EventType = "processing_timeout"
	EventCompleted          EventType = "completed"
	EventFailed             EventType = "failed"
	EventWebhookReceived    EventType = "webhook_received"
	EventNotificationFailed EventType = "notification_failed"
)

// Logger provides async event logging to the database
type Logger struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a new event logger. db may be nil, in which case every call
// is a no-op.
func New(db *pgxpool.Pool, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{db: db, logger: logger.Named("eventlog")}
}

// Enabled reports whether events are persisted.
func (l *Logger) Enabled() bool {
	return l != nil && l.db != nil
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, callID string, eventType EventType, data map[string]any) error {
	if !l.Enabled() || callID == "" {
		return nil // Silently skip if no DB or call ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO processing_events (call_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, callID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(callID string, eventType EventType, data map[string]any) {
	if !l.Enabled() || callID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Log(ctx, callID, eventType, data); err != nil {
			l.logger.Warn("failed to write event",
				zap.String("call_id", callID),
				zap.String("event_type", string(eventType)),
				zap.Error(err))
		}
	}()
}

// Event is a stored processing event.
type Event struct {
	ID        int64          `json:"id"`
	CallID    string         `json:"call_id"`
	EventType EventType      `json:"event_type"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// List returns the events of one call in insertion order.
func (l *Logger) List(ctx context.Context, callID string) ([]Event, error) {
	if !l.Enabled() {
		return nil, nil
	}

	rows, err := l.db.Query(ctx, `
		SELECT id, call_id, event_type, event_data, created_at
		FROM processing_events
		WHERE call_id = $1
		ORDER BY id
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var raw []byte
		if err := rows.Scan(&e.ID, &e.CallID, &e.EventType, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &e.Data)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneBefore deletes events older than cutoff.
func (l *Logger) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if !l.Enabled() {
		return 0, nil
	}
	tag, err := l.db.Exec(ctx, `DELETE FROM processing_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
