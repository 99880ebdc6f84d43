package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RMSTrucks/jakebot/internal/eventlog"
	"github.com/RMSTrucks/jakebot/internal/logging"
	"github.com/RMSTrucks/jakebot/internal/metrics"
	"github.com/RMSTrucks/jakebot/internal/model"
	"go.uber.org/zap"
)

const (
	maxWebhookBytes        = 65536
	transcriptFetchTimeout = 30 * time.Second
)

// closeCallWebhook is the subset of the Close call activity payload we use.
type closeCallWebhook struct {
	Event struct {
		Action     string `json:"action"`
		ObjectType string `json:"object_type"`
	} `json:"event"`
	Data closeCallData `json:"data"`
}

type closeCallData struct {
	ID                  string `json:"id"`
	LeadID              string `json:"lead_id"`
	UserID              string `json:"user_id"`
	UserName            string `json:"user_name"`
	Direction           string `json:"direction"`
	Duration            int    `json:"duration"`
	Status              string `json:"status"`
	Disposition         string `json:"disposition"`
	Transcript          string `json:"transcript"`
	RecordingTranscript *struct {
		SummaryText string `json:"summary_text"`
	} `json:"recording_transcript"`
}

func (d closeCallData) event() model.CallEvent {
	ev := model.CallEvent{
		CallID:      d.ID,
		LeadID:      d.LeadID,
		UserID:      d.UserID,
		UserName:    d.UserName,
		Duration:    d.Duration,
		Direction:   model.Direction(strings.ToLower(d.Direction)),
		Disposition: d.Disposition,
		Transcript:  d.Transcript,
	}
	if ev.Disposition == "" {
		ev.Disposition = d.Status
	}
	if ev.Transcript == "" && d.RecordingTranscript != nil {
		ev.Transcript = d.RecordingTranscript.SummaryText
	}
	return ev
}

// handleCloseCallCompleted accepts a Close call webhook and processes the call
// in the background.
func (r *Router) handleCloseCallCompleted(w http.ResponseWriter, req *http.Request) {
	log := logging.FromContext(req.Context(), r.logger)

	req.Body = http.MaxBytesReader(w, req.Body, maxWebhookBytes)
	payload, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if r.cfg.CloseWebhookSecret != "" {
		if !verifyCloseSignature(payload, req.Header.Get("X-Close-Signature"), r.cfg.CloseWebhookSecret) {
			log.Warn("invalid close webhook signature")
			metrics.IncrementError("webhook_signature")
			writeError(w, http.StatusUnauthorized, "invalid webhook signature")
			return
		}
	}

	var hook closeCallWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	event := hook.Data.event()
	if err := event.Validate(); err != nil {
		metrics.IncrementError(model.ErrorType(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log = log.With(zap.String("call_id", event.CallID))
	log.Info("close call webhook received", zap.String("action", hook.Event.Action))
	r.eventLog.LogAsync(event.CallID, eventlog.EventWebhookReceived, map[string]any{
		"lead_id": event.LeadID,
		"action":  hook.Event.Action,
	})

	r.background.Add(1)
	go func() {
		defer r.background.Done()
		ctx := logging.WithLogger(context.WithoutCancel(req.Context()), log)
		r.processWebhookCall(ctx, event)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"call_id":   event.CallID,
		"timestamp": nowUTC(),
	})
}

func (r *Router) processWebhookCall(ctx context.Context, event model.CallEvent) {
	log := logging.FromContext(ctx, r.logger)

	if event.Transcript == "" && r.cfg.Transcripts != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, transcriptFetchTimeout)
		transcript, err := r.cfg.Transcripts.GetCallTranscript(fetchCtx, event.CallID)
		cancel()
		if err != nil {
			// an empty transcript still produces a completed result
			log.Warn("failed to fetch transcript", zap.Error(err))
		}
		event.Transcript = transcript
	}

	res := r.proc.Process(ctx, event)
	if res.Err != nil {
		log.Error("webhook call processing failed",
			zap.String("error_type", model.ErrorType(res.Err)),
			zap.Error(res.Err))
		return
	}
	log.Info("webhook call processed",
		zap.Bool("success", res.Success),
		zap.Int("commitments", res.Commitments))
}

// verifyCloseSignature checks the hex HMAC-SHA256 of the raw body.
func verifyCloseSignature(payload []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
