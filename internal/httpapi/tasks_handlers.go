package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/RMSTrucks/jakebot/internal/logging"
	"github.com/RMSTrucks/jakebot/internal/model"
	"github.com/RMSTrucks/jakebot/internal/store"
	"go.uber.org/zap"
)

const maxTaskBodyBytes = 16 << 10

// TaskLifecycle changes the status of dispatched tasks.
type TaskLifecycle interface {
	Update(ctx context.Context, callID, taskID string, upd model.TaskUpdate) (model.Outcome, error)
	Cancel(ctx context.Context, callID, taskID, reason string) (model.Outcome, error)
}

type updateTaskRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type cancelTaskRequest struct {
	Reason string `json:"reason"`
}

// handleUpdateTask moves a task to a new status.
// Body: {"status": "in_progress", "notes": "..."}
func (r *Router) handleUpdateTask(w http.ResponseWriter, req *http.Request) {
	if r.cfg.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task lifecycle not configured")
		return
	}

	var body updateTaskRequest
	if !decodeTaskBody(w, req, &body, false) {
		return
	}
	status, err := model.ParseTaskStatus(body.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := r.cfg.Tasks.Update(req.Context(), req.PathValue("callID"), req.PathValue("taskID"),
		model.TaskUpdate{Status: status, Notes: body.Notes})
	r.writeTask(w, req, task, err)
}

// handleCancelTask cancels a task. The body is optional.
// Body: {"reason": "..."}
func (r *Router) handleCancelTask(w http.ResponseWriter, req *http.Request) {
	if r.cfg.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task lifecycle not configured")
		return
	}

	var body cancelTaskRequest
	if !decodeTaskBody(w, req, &body, true) {
		return
	}

	task, err := r.cfg.Tasks.Cancel(req.Context(), req.PathValue("callID"), req.PathValue("taskID"), body.Reason)
	r.writeTask(w, req, task, err)
}

func decodeTaskBody(w http.ResponseWriter, req *http.Request, dst any, allowEmpty bool) bool {
	req.Body = http.MaxBytesReader(w, req.Body, maxTaskBodyBytes)
	err := json.NewDecoder(req.Body).Decode(dst)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return true
	case allowEmpty && errors.Is(err, io.EOF):
		return true
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		writeError(w, http.StatusBadRequest, "invalid JSON body")
	}
	return false
}

func (r *Router) writeTask(w http.ResponseWriter, req *http.Request, task model.Outcome, err error) {
	callID := req.PathValue("callID")
	switch {
	case err == nil:
		logging.FromContext(req.Context(), r.logger).Info("task status updated",
			zap.String("call_id", callID),
			zap.String("task_id", task.TaskID),
			zap.String("status", string(task.Status)),
			zap.String("caller", CallerFromContext(req.Context())))
		writeJSON(w, http.StatusOK, map[string]any{
			"call_id": callID,
			"task":    task,
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case model.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case model.IsTransient(err), model.IsPermanent(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		captureError(req, err, "task update failed")
		writeError(w, http.StatusInternalServerError, "task update failed")
	}
}
