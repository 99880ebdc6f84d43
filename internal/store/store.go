package store

import (
	"context"
	"errors"
	"time"

	"github.com/RMSTrucks/jakebot/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a call or task has no stored row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a task status changed concurrently.
	ErrConflict = errors.New("task status changed concurrently")
)

type Store struct {
	db *pgxpool.Pool
}

// New creates a store. A nil db disables persistence: writes are skipped
// and reads return ErrNotFound.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

func (s *Store) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Ping(ctx)
}

// CallListItem is one row of the processed call list.
type CallListItem struct {
	CallID      string      `json:"call_id"`
	LeadID      string      `json:"lead_id"`
	UserName    string      `json:"user_name,omitempty"`
	State       model.State `json:"state"`
	Success     bool        `json:"success"`
	Commitments int         `json:"commitments"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// SaveResult upserts the call row and its task outcomes in one transaction.
func (s *Store) SaveResult(ctx context.Context, event model.CallEvent, r *model.ProcessingResult) error {
	if !s.Enabled() || r == nil || r.CallID == "" {
		return nil
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO processed_calls (call_id, lead_id, user_id, user_name, direction, duration, state, success, commitments, error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
			ON CONFLICT (call_id) DO UPDATE SET
				state = EXCLUDED.state,
				success = EXCLUDED.success,
				commitments = EXCLUDED.commitments,
				error = EXCLUDED.error,
				updated_at = EXCLUDED.updated_at
		`, r.CallID, event.LeadID, event.UserID, event.UserName, string(event.Direction), event.Duration,
			string(r.State), r.Success, r.Commitments, r.Error, r.Timestamp)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, o := range r.Outcomes {
			batch.Queue(`
				INSERT INTO task_outcomes (task_id, call_id, target, success, attempts, remote_id, error, error_kind, status)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (task_id) DO UPDATE SET
					success = EXCLUDED.success,
					attempts = EXCLUDED.attempts,
					remote_id = EXCLUDED.remote_id,
					error = EXCLUDED.error,
					error_kind = EXCLUDED.error_kind
			`, o.TaskID, r.CallID, string(o.Target), o.Success, o.Attempts, o.RemoteID, o.Error, string(o.ErrorKind), string(taskStatus(o)))
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// GetResult loads the stored result of a call.
func (s *Store) GetResult(ctx context.Context, callID string) (*model.ProcessingResult, error) {
	if !s.Enabled() {
		return nil, ErrNotFound
	}

	r := &model.ProcessingResult{CallID: callID}
	var state string
	err := s.db.QueryRow(ctx, `
		SELECT state, success, commitments, error, updated_at
		FROM processed_calls
		WHERE call_id = $1
	`, callID).Scan(&state, &r.Success, &r.Commitments, &r.Error, &r.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.State = model.State(state)

	rows, err := s.db.Query(ctx, `
		SELECT task_id, target, success, attempts, remote_id, error, error_kind, status
		FROM task_outcomes
		WHERE call_id = $1
		ORDER BY created_at, task_id
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r.Outcomes = []model.Outcome{}
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		r.Outcomes = append(r.Outcomes, o)
	}
	return r, rows.Err()
}

// GetTask loads one task outcome of a call.
func (s *Store) GetTask(ctx context.Context, callID, taskID string) (model.Outcome, error) {
	if !s.Enabled() {
		return model.Outcome{}, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `
		SELECT task_id, target, success, attempts, remote_id, error, error_kind, status
		FROM task_outcomes
		WHERE call_id = $1 AND task_id = $2
	`, callID, taskID)
	o, err := scanOutcome(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Outcome{}, ErrNotFound
	}
	return o, err
}

// UpdateTaskStatus moves a task from one status to another. It returns
// ErrConflict when the stored status is no longer from.
func (s *Store) UpdateTaskStatus(ctx context.Context, callID, taskID string, from, to model.TaskStatus, notes string) error {
	if !s.Enabled() {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE task_outcomes
		SET status = $4, status_notes = $5, status_updated_at = now()
		WHERE call_id = $1 AND task_id = $2 AND status = $3
	`, callID, taskID, string(from), string(to), notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func scanOutcome(row pgx.Row) (model.Outcome, error) {
	var o model.Outcome
	var target, kind, status string
	if err := row.Scan(&o.TaskID, &target, &o.Success, &o.Attempts, &o.RemoteID, &o.Error, &kind, &status); err != nil {
		return model.Outcome{}, err
	}
	o.Target = model.Target(target)
	o.ErrorKind = model.ErrorKind(kind)
	o.Status = model.TaskStatus(status)
	return o, nil
}

// taskStatus fills in the status of outcomes built before dispatch set one.
func taskStatus(o model.Outcome) model.TaskStatus {
	if o.Status != "" {
		return o.Status
	}
	return model.InitialTaskStatus(o, false)
}

// ListCalls returns the most recently processed calls.
func (s *Store) ListCalls(ctx context.Context, limit int) ([]CallListItem, error) {
	if !s.Enabled() {
		return []CallListItem{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT call_id, lead_id, user_name, state, success, commitments, updated_at
		FROM processed_calls
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []CallListItem{}
	for rows.Next() {
		var item CallListItem
		var state string
		if err := rows.Scan(&item.CallID, &item.LeadID, &item.UserName, &state, &item.Success, &item.Commitments, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.State = model.State(state)
		out = append(out, item)
	}
	return out, rows.Err()
}

// PruneBefore deletes calls last updated before cutoff. Task outcomes go
// with them (ON DELETE CASCADE).
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM processed_calls WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
