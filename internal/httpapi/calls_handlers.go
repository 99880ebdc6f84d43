package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/RMSTrucks/jakebot/internal/eventlog"
	"github.com/RMSTrucks/jakebot/internal/store"
)

// handleListCalls returns recently processed calls.
// Query params: limit (default 50, max 500)
func (r *Router) handleListCalls(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	calls, err := r.store.ListCalls(req.Context(), limit)
	if err != nil {
		captureError(req, err, "failed to list calls")
		writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"calls": calls,
		"count": len(calls),
	})
}

// handleGetCall returns the stored processing result of one call.
func (r *Router) handleGetCall(w http.ResponseWriter, req *http.Request) {
	callID := req.PathValue("callID")

	res, err := r.store.GetResult(req.Context(), callID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		captureError(req, err, "failed to get call")
		writeError(w, http.StatusInternalServerError, "failed to get call")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleGetCallEvents(w http.ResponseWriter, req *http.Request) {
	callID := req.PathValue("callID")

	events, err := r.eventLog.List(req.Context(), callID)
	if err != nil {
		captureError(req, err, "failed to list events")
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"call_id": callID,
		"events":  events,
	})
}
