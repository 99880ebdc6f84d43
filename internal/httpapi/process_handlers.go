package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/RMSTrucks/jakebot/internal/logging"
	"github.com/RMSTrucks/jakebot/internal/model"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// handleProcessCall runs the pipeline synchronously and returns the result.
func (r *Router) handleProcessCall(w http.ResponseWriter, req *http.Request) {
	log := logging.FromContext(req.Context(), r.logger)

	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	var event model.CallEvent
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(&event); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	log = log.With(zap.String("call_id", event.CallID), zap.String("caller", CallerFromContext(req.Context())))
	ctx := logging.WithLogger(req.Context(), log)

	res := r.proc.Process(ctx, event)
	status := statusFor(res)
	if status == http.StatusInternalServerError {
		captureError(req, res.Err, "call processing failed")
	}
	writeJSON(w, status, res)
}

// statusFor maps a result to its HTTP status. Per-task remote failures and
// timeouts still return 200: the body carries success=false.
func statusFor(res *model.ProcessingResult) int {
	switch {
	case res.Err == nil:
		return http.StatusOK
	case model.IsValidation(res.Err):
		return http.StatusBadRequest
	case model.IsTimeout(res.Err):
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
