package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/RMSTrucks/jakebot/internal/eventlog"
	"github.com/RMSTrucks/jakebot/internal/logging"
	"github.com/RMSTrucks/jakebot/internal/metrics"
	"github.com/RMSTrucks/jakebot/internal/model"
	"github.com/RMSTrucks/jakebot/internal/store"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Processor runs a call through the follow-up pipeline.
type Processor interface {
	Process(ctx context.Context, event model.CallEvent) *model.ProcessingResult
	Targets() []model.Target
}

// TranscriptFetcher loads a call transcript when a webhook arrives without one.
type TranscriptFetcher interface {
	GetCallTranscript(ctx context.Context, callID string) (string, error)
}

const healthCheckTimeout = 3 * time.Second

type RouterConfig struct {
	Environment string

	// JWT Authentication. Empty disables auth on the API routes.
	JWTSecret string

	// Close webhook HMAC secret. Empty disables signature checks.
	CloseWebhookSecret string

	// Transcripts is optional.
	Transcripts TranscriptFetcher

	// Tasks applies task status changes. Nil disables the task routes.
	Tasks TaskLifecycle

	// Readiness is reported by GET /health.
	Readiness []ReadinessCheck
}

// ReadinessCheck is one dependency reported by GET /health. A failing
// required check makes the service unhealthy; an optional one only
// degrades it.
type ReadinessCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

type Router struct {
	cfg      RouterConfig
	logger   *zap.Logger
	proc     Processor
	store    *store.Store
	eventLog *eventlog.Logger
	mux      *http.ServeMux
	handler  http.Handler

	// webhook calls processed after the response was sent
	background sync.WaitGroup
}

func NewRouter(cfg RouterConfig, logger *zap.Logger, proc Processor, s *store.Store, eventLog *eventlog.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		cfg:      cfg,
		logger:   logger.Named("http"),
		proc:     proc,
		store:    s,
		eventLog: eventLog,
		mux:      http.NewServeMux(),
	}

	r.routes()
	r.handler = withSentryRecovery(r.withRequestContext(withCORS(r.mux)))
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Wait blocks until background webhook processing has finished or ctx is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	// Call processing
	r.mux.HandleFunc("POST /process-call", r.withAuth(r.handleProcessCall))

	// Close webhook (no auth - signature verified)
	r.mux.HandleFunc("POST /webhook/close/call-completed", r.handleCloseCallCompleted)

	// Processing history
	r.mux.HandleFunc("GET /calls", r.withAuth(r.handleListCalls))
	r.mux.HandleFunc("GET /calls/{callID}", r.withAuth(r.handleGetCall))
	r.mux.HandleFunc("GET /calls/{callID}/events", r.withAuth(r.handleGetCallEvents))

	// Task lifecycle
	r.mux.HandleFunc("PATCH /calls/{callID}/tasks/{taskID}", r.withAuth(r.handleUpdateTask))
	r.mux.HandleFunc("POST /calls/{callID}/tasks/{taskID}/cancel", r.withAuth(r.handleCancelTask))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleHealth reports readiness. It answers 503 when a required
// dependency is down.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	status, code := "healthy", http.StatusOK
	checks := make(map[string]string, len(r.cfg.Readiness))
	for _, c := range r.cfg.Readiness {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			if !c.Optional {
				status, code = "unhealthy", http.StatusServiceUnavailable
			} else if code == http.StatusOK {
				status = "degraded"
			}
			logging.FromContext(req.Context(), r.logger).Warn("readiness check failed",
				zap.String("check", c.Name), zap.Error(err))
			continue
		}
		checks[c.Name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":      status,
		"checks":      checks,
		"timestamp":   nowUTC(),
		"targets":     r.proc.Targets(),
		"environment": r.cfg.Environment,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Request-ID")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withRequestContext assigns a request id, puts a request-scoped logger in
// the context and records request duration.
func (r *Router) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		requestID := req.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		log := r.logger.With(zap.String("request_id", requestID))
		ctx := logging.WithLogger(req.Context(), log)
		req = req.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		pattern := req.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.RecordHTTPRequestDuration(req.Method, pattern, strconv.Itoa(rec.status), elapsed)
		log.Debug("request handled",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	})
}

func nowUTC() time.Time { return time.Now().UTC() }

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
