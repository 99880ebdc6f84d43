package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RMSTrucks/jakebot/internal/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TaskUpdater changes the status of a task created earlier. remoteID is the
// id the target returned from CreateTask.
type TaskUpdater interface {
	Target() model.Target
	UpdateTask(ctx context.Context, remoteID string, upd model.TaskUpdate) error
}

// Client creates tasks in one target system. CreateTask never returns an
// error: failures are reported in the Outcome.
type Client interface {
	Target() model.Target
	CreateTask(ctx context.Context, req model.TaskRequest) model.Outcome
}

// Options are shared by every client.
type Options struct {
	HTTPClient *http.Client
	Policy     Policy
	Logger     *zap.Logger

	// RateLimit caps requests per second; 0 disables limiting.
	RateLimit float64

	// BreakerFailures is the number of consecutive failed calls that opens
	// the circuit; 0 means 5. BreakerCooldown is how long it stays open.
	BreakerFailures uint32
	BreakerCooldown time.Duration

	// OnAttempt is called after every HTTP attempt, e.g. for metrics.
	OnAttempt func(target model.Target, err error)
}

// endpoint holds the retry, breaker and limiter plumbing for one target.
type endpoint struct {
	target     model.Target
	httpClient *http.Client
	policy     Policy
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	logger     *zap.Logger
	onAttempt  func(model.Target, error)
}

func newEndpoint(target model.Target, opts Options) *endpoint {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("remote").With(zap.String("target", string(target)))

	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := opts.BreakerCooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	e := &endpoint{
		target:     target,
		httpClient: httpClient,
		policy:     opts.Policy,
		logger:     logger,
		onAttempt:  opts.OnAttempt,
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(target),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		// A rejected payload says nothing about the health of the remote.
		IsSuccessful: func(err error) bool {
			return err == nil || model.IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return e
}

func (e *endpoint) Target() model.Target { return e.target }

// dispatch runs send under the breaker and the retry policy and turns the
// result into an Outcome.
func (e *endpoint) dispatch(ctx context.Context, req model.TaskRequest, send func(ctx context.Context) (string, error)) model.Outcome {
	out := model.Outcome{TaskID: req.ID, Target: e.target}

	var remoteID string
	_, err := e.breaker.Execute(func() (interface{}, error) {
		attempts, err := e.policy.Do(ctx, func(actx context.Context) error {
			if e.limiter != nil {
				if err := e.limiter.Wait(actx); err != nil {
					return &model.TransientRemoteError{Target: e.target, Err: fmt.Errorf("rate limit: %w", err)}
				}
			}
			id, err := send(actx)
			err = Classify(e.target, err)
			if e.onAttempt != nil {
				e.onAttempt(e.target, err)
			}
			if err != nil {
				e.logger.Debug("attempt failed", zap.String("task_id", req.ID), zap.Error(err))
				return err
			}
			remoteID = id
			return nil
		})
		out.Attempts = attempts
		return nil, err
	})

	switch {
	case err == nil:
		out.Success = true
		out.RemoteID = remoteID
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		out.ErrorKind = model.ErrorKindCircuitOpen
		out.Error = fmt.Sprintf("%s: circuit open: %v", e.target, err)
	case ctx.Err() != nil:
		out.ErrorKind = model.ErrorKindTimeout
		out.Error = err.Error()
	case model.IsTransient(err):
		out.ErrorKind = model.ErrorKindTransient
		out.Error = err.Error()
	default:
		out.ErrorKind = model.ErrorKindPermanent
		out.Error = err.Error()
	}

	if out.Success {
		e.logger.Info("task created",
			zap.String("task_id", req.ID),
			zap.String("call_id", req.CallID),
			zap.String("remote_id", remoteID),
			zap.Int("attempts", out.Attempts))
	} else {
		e.logger.Warn("task failed",
			zap.String("task_id", req.ID),
			zap.String("call_id", req.CallID),
			zap.Int("attempts", out.Attempts),
			zap.String("error_kind", string(out.ErrorKind)),
			zap.String("error", out.Error))
	}
	return out
}

// postJSON sends body and decodes a 2xx JSON response into dst (if non-nil).
func (e *endpoint) postJSON(ctx context.Context, url string, body any, dst any, setHeaders func(*http.Request)) error {
	return e.sendJSON(ctx, http.MethodPost, url, body, dst, setHeaders)
}

func (e *endpoint) sendJSON(ctx context.Context, method, url string, body any, dst any, setHeaders func(*http.Request)) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return e.doJSON(ctx, method, url, bytes.NewReader(payload), dst, setHeaders)
}

// retry runs a follow-up call (not a task creation) under the retry policy.
// The circuit breaker only guards task creation.
func (e *endpoint) retry(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := e.policy.Do(ctx, func(actx context.Context) error {
		err := Classify(e.target, op(actx))
		if e.onAttempt != nil {
			e.onAttempt(e.target, err)
		}
		return err
	})
	return err
}

func (e *endpoint) getJSON(ctx context.Context, url string, dst any, setHeaders func(*http.Request)) error {
	return e.doJSON(ctx, http.MethodGet, url, nil, dst, setHeaders)
}

func (e *endpoint) doJSON(ctx context.Context, method, url string, body io.Reader, dst any, setHeaders func(*http.Request)) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if setHeaders != nil {
		setHeaders(httpReq)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if dst == nil {
		return nil
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	// The task exists once the remote answered 2xx, so a body we cannot
	// read only costs us the remote id.
	if err := json.Unmarshal(respBody, dst); err != nil {
		e.logger.Warn("undecodable response body", zap.Int("status", resp.StatusCode), zap.Error(err))
	}
	return nil
}
