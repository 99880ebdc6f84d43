package tasks

import (
	"context"
	"fmt"

	"github.com/RMSTrucks/jakebot/internal/eventlog"
	"github.com/RMSTrucks/jakebot/internal/metrics"
	"github.com/RMSTrucks/jakebot/internal/model"
	"github.com/RMSTrucks/jakebot/internal/remote"
	"go.uber.org/zap"
)

// TaskStore reads and updates stored task outcomes.
type TaskStore interface {
	GetTask(ctx context.Context, callID, taskID string) (model.Outcome, error)
	UpdateTaskStatus(ctx context.Context, callID, taskID string, from, to model.TaskStatus, notes string) error
}

// Lifecycle moves dispatched tasks through their statuses, both in the
// target system and in the store.
type Lifecycle struct {
	store    TaskStore
	updaters map[model.Target]remote.TaskUpdater
	eventLog *eventlog.Logger
	logger   *zap.Logger
}

func NewLifecycle(store TaskStore, updaters []remote.TaskUpdater, eventLog *eventlog.Logger, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	byTarget := make(map[model.Target]remote.TaskUpdater, len(updaters))
	for _, u := range updaters {
		byTarget[u.Target()] = u
	}
	return &Lifecycle{
		store:    store,
		updaters: byTarget,
		eventLog: eventLog,
		logger:   logger.Named("lifecycle"),
	}
}

// Update applies a status change. The transition is checked first, then
// applied in the target system, then recorded. A failed remote update
// leaves the stored status unchanged.
func (l *Lifecycle) Update(ctx context.Context, callID, taskID string, upd model.TaskUpdate) (model.Outcome, error) {
	task, err := l.store.GetTask(ctx, callID, taskID)
	if err != nil {
		return model.Outcome{}, err
	}
	from := task.Status
	if !from.CanTransition(upd.Status) {
		return task, fmt.Errorf("%w: %s to %s", model.ErrInvalidTransition, from, upd.Status)
	}

	log := l.logger.With(
		zap.String("call_id", callID),
		zap.String("task_id", taskID),
		zap.String("target", string(task.Target)))

	if task.RemoteID == "" {
		// the target accepted the task but its id was lost
		log.Warn("task has no remote id, recording status locally only")
	} else {
		updater, ok := l.updaters[task.Target]
		if !ok {
			return task, fmt.Errorf("no updater for target %q", task.Target)
		}
		if err := updater.UpdateTask(ctx, task.RemoteID, upd); err != nil {
			metrics.IncrementTaskStatus(string(task.Target), "error")
			log.Warn("remote task update failed", zap.String("status", string(upd.Status)), zap.Error(err))
			return task, err
		}
	}

	if err := l.store.UpdateTaskStatus(ctx, callID, taskID, from, upd.Status, upd.Notes); err != nil {
		return task, err
	}
	task.Status = upd.Status

	metrics.IncrementTaskStatus(string(task.Target), string(upd.Status))
	l.eventLog.LogAsync(callID, eventlog.EventTaskStatusChanged, map[string]any{
		"task_id": taskID,
		"target":  string(task.Target),
		"from":    string(from),
		"to":      string(upd.Status),
		"notes":   upd.Notes,
	})
	log.Info("task status changed", zap.String("from", string(from)), zap.String("to", string(upd.Status)))
	return task, nil
}

// Cancel moves a task to cancelled.
func (l *Lifecycle) Cancel(ctx context.Context, callID, taskID, reason string) (model.Outcome, error) {
	notes := "cancelled"
	if reason != "" {
		notes = "cancelled: " + reason
	}
	return l.Update(ctx, callID, taskID, model.TaskUpdate{Status: model.TaskCancelled, Notes: notes})
}
