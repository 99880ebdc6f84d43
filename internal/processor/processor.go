// Package processor runs one call through classification, task building and
// concurrent dispatch to the target systems.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RMSTrucks/jakebot/internal/commitment"
	"github.com/RMSTrucks/jakebot/internal/eventlog"
	"github.com/RMSTrucks/jakebot/internal/logging"
	"github.com/RMSTrucks/jakebot/internal/metrics"
	"github.com/RMSTrucks/jakebot/internal/model"
	"github.com/RMSTrucks/jakebot/internal/notifications"
	"github.com/RMSTrucks/jakebot/internal/remote"
	"github.com/RMSTrucks/jakebot/internal/tasks"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultConcurrency = 8

	dedupeScope   = "process-call"
	notifyTimeout = 10 * time.Second
	storeTimeout  = 5 * time.Second
)

// Deduper remembers call ids that were already processed.
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, id string) bool
	Release(ctx context.Context, scope, id string)
}

// ResultStore persists processing results.
type ResultStore interface {
	SaveResult(ctx context.Context, event model.CallEvent, r *model.ProcessingResult) error
	GetResult(ctx context.Context, callID string) (*model.ProcessingResult, error)
}

// Config wires a Processor. Classifier, Builder and Clients are required.
type Config struct {
	Classifier commitment.Classifier
	Builder    *tasks.Builder
	Clients    []remote.Client

	Notifier notifications.Notifier // optional
	Deduper  Deduper                // optional
	Store    ResultStore            // optional
	EventLog *eventlog.Logger       // optional
	Logger   *zap.Logger

	Timeout       time.Duration // overall deadline per call
	Concurrency   int           // max in-flight task requests per call
	NotifySummary bool
	Now           func() time.Time
}

type Processor struct {
	classifier    commitment.Classifier
	builder       *tasks.Builder
	clients       map[model.Target]remote.Client
	notifier      notifications.Notifier
	deduper       Deduper
	store         ResultStore
	eventLog      *eventlog.Logger
	logger        *zap.Logger
	timeout       time.Duration
	concurrency   int
	notifySummary bool
	now           func() time.Time

	// background notifications
	wg sync.WaitGroup
}

func New(cfg Config) (*Processor, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("processor: classifier is required")
	}
	if cfg.Builder == nil {
		return nil, errors.New("processor: builder is required")
	}
	clients := make(map[model.Target]remote.Client, len(cfg.Clients))
	for _, c := range cfg.Clients {
		clients[c.Target()] = c
	}
	for _, t := range cfg.Builder.Targets() {
		if _, ok := clients[t]; !ok {
			return nil, fmt.Errorf("processor: no client for target %q", t)
		}
	}

	p := &Processor{
		classifier:    cfg.Classifier,
		builder:       cfg.Builder,
		clients:       clients,
		notifier:      cfg.Notifier,
		deduper:       cfg.Deduper,
		store:         cfg.Store,
		eventLog:      cfg.EventLog,
		logger:        cfg.Logger,
		timeout:       cfg.Timeout,
		concurrency:   cfg.Concurrency,
		notifySummary: cfg.NotifySummary,
		now:           cfg.Now,
	}
	if p.notifier == nil {
		p.notifier = notifications.Nop{}
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("processor")
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Process handles one call. It never returns nil. Fatal errors are in
// result.Err; failed dispatches only flip result.Success.
//
// The processor timeout starts once the call is accepted and covers both
// classification and dispatch. Cancelling ctx does not abort the call:
// in-flight remote calls are left to finish, bounded by that timeout.
func (p *Processor) Process(ctx context.Context, event model.CallEvent) *model.ProcessingResult {
	start := p.now()
	log := logging.FromContext(ctx, p.logger).With(zap.String("call_id", event.CallID))
	ctx = context.WithoutCancel(ctx)

	res := &model.ProcessingResult{
		CallID:    event.CallID,
		State:     model.StateReceived,
		Outcomes:  []model.Outcome{},
		Timestamp: start.UTC(),
	}

	if err := event.Validate(); err != nil {
		log.Info("invalid call event", zap.Error(err))
		return p.fail(ctx, log, event, res, err, start)
	}
	p.eventLog.LogAsync(event.CallID, eventlog.EventReceived, map[string]any{
		"lead_id":   event.LeadID,
		"user_id":   event.UserID,
		"duration":  event.Duration,
		"direction": string(event.Direction),
	})

	if p.deduper != nil && !p.deduper.AcquireOnce(ctx, dedupeScope, event.CallID) {
		return p.duplicate(ctx, log, res, start)
	}

	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// classifying
	res.State = model.StateClassifying
	commitments, err := p.classify(dctx, event.Transcript)
	if err != nil {
		p.releaseDedupe(ctx, event.CallID)
		if dctx.Err() != nil {
			return p.timedOut(ctx, log, event, res, p.builder.Targets(), start)
		}
		log.Error("classification failed", zap.Error(err))
		p.eventLog.LogAsync(event.CallID, eventlog.EventClassifierError, map[string]any{"error": err.Error()})
		return p.fail(ctx, log, event, res, err, start)
	}
	res.Commitments = len(commitments)
	for _, c := range commitments {
		metrics.IncrementCommitment(c.Type, string(c.System))
	}
	p.eventLog.LogAsync(event.CallID, eventlog.EventClassified, map[string]any{"commitments": len(commitments)})
	log.Info("transcript classified", zap.Int("commitments", len(commitments)))

	// building
	res.State = model.StateBuilding
	requests, err := p.builder.Build(event, commitments)
	if err != nil {
		log.Error("task build failed", zap.Error(err))
		p.releaseDedupe(ctx, event.CallID)
		return p.fail(ctx, log, event, res, err, start)
	}
	p.eventLog.LogAsync(event.CallID, eventlog.EventTasksBuilt, map[string]any{"tasks": len(requests)})
	p.requestApprovals(event, commitments)

	// dispatching
	res.State = model.StateDispatching
	outcomes, pending := p.dispatch(dctx, log, requests)
	res.Outcomes = outcomes
	for i, o := range outcomes {
		outcomes[i].Status = model.InitialTaskStatus(o, requests[i].RequiresApproval)
		status := "success"
		if !o.Success {
			status = string(o.ErrorKind)
		}
		metrics.IncrementTask(string(o.Target), status)
	}

	if len(pending) > 0 {
		p.releaseDedupe(ctx, event.CallID)
		return p.timedOut(ctx, log, event, res, pending, start)
	}

	res.State = model.StateCompleted
	res.Success = model.AllSucceeded(outcomes)
	if failed := res.Failed(); len(failed) > 0 {
		// a redelivery may retry the failed targets
		p.releaseDedupe(ctx, event.CallID)
		p.notifyFailedTasks(event, failed)
	}
	if p.notifySummary && res.Commitments > 0 {
		p.notifySummaryEvent(event, commitments, res)
	}
	p.finish(ctx, log, event, res, start)
	return res
}

// Wait blocks until background notifications have been delivered.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Targets returns the targets tasks are created in.
func (p *Processor) Targets() []model.Target {
	return p.builder.Targets()
}

func (p *Processor) classify(ctx context.Context, transcript string) (out []model.Commitment, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &model.ClassifierError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out, err = p.classifier.Classify(ctx, transcript)
	if err != nil {
		var ce *model.ClassifierError
		if !errors.As(err, &ce) {
			err = &model.ClassifierError{Err: err}
		}
	}
	return out, err
}

// dispatch sends every request concurrently and waits for all of them or
// the deadline on ctx. Requests still running at the deadline, and requests
// that gave up because of it, are reported as timed out; their targets are
// returned as pending.
func (p *Processor) dispatch(ctx context.Context, log *zap.Logger, requests []model.TaskRequest) ([]model.Outcome, []model.Target) {
	outcomes := make([]model.Outcome, len(requests))
	if len(requests) == 0 {
		return outcomes, nil
	}

	var (
		mu     sync.Mutex
		done   = make([]bool, len(requests))
		closed bool
	)
	record := func(i int, o model.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			log.Warn("task finished after deadline",
				zap.String("task_id", o.TaskID),
				zap.String("target", string(o.Target)),
				zap.Bool("success", o.Success))
			return
		}
		outcomes[i] = o
		done[i] = true
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		var g errgroup.Group
		g.SetLimit(p.concurrency)
		for i, req := range requests {
			g.Go(func() error {
				record(i, p.send(ctx, log, req))
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		// Give outcomes that raced the deadline a chance to land.
		select {
		case <-finished:
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	closed = true
	expired := ctx.Err() != nil

	var pending []model.Target
	seen := make(map[model.Target]bool)
	for i, req := range requests {
		switch {
		case !done[i]:
			outcomes[i] = model.Outcome{
				TaskID:    req.ID,
				Target:    req.Target,
				ErrorKind: model.ErrorKindTimeout,
				Error:     fmt.Sprintf("%s: no response within %s", req.Target, p.timeout),
			}
		case expired && !outcomes[i].Success && outcomes[i].ErrorKind == model.ErrorKindTimeout:
			// the client gave up on the deadline itself
		default:
			continue
		}
		if !seen[req.Target] {
			seen[req.Target] = true
			pending = append(pending, req.Target)
		}
	}
	return outcomes, pending
}

func (p *Processor) send(ctx context.Context, log *zap.Logger, req model.TaskRequest) (out model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in remote client", zap.String("target", string(req.Target)), zap.Any("panic", r))
			out = model.Outcome{
				TaskID:    req.ID,
				Target:    req.Target,
				ErrorKind: model.ErrorKindPermanent,
				Error:     fmt.Sprintf("%s: internal error: %v", req.Target, r),
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		return model.Outcome{TaskID: req.ID, Target: req.Target, ErrorKind: model.ErrorKindTimeout, Error: err.Error()}
	}
	client, ok := p.clients[req.Target]
	if !ok {
		return model.Outcome{
			TaskID:    req.ID,
			Target:    req.Target,
			ErrorKind: model.ErrorKindPermanent,
			Error:     fmt.Sprintf("no client configured for target %q", req.Target),
		}
	}

	out = client.CreateTask(ctx, req)
	data := map[string]any{
		"task_id":   out.TaskID,
		"target":    string(out.Target),
		"attempts":  out.Attempts,
		"remote_id": out.RemoteID,
	}
	if out.Success {
		p.eventLog.LogAsync(req.CallID, eventlog.EventTaskDispatched, data)
	} else {
		data["error"] = out.Error
		data["error_kind"] = string(out.ErrorKind)
		p.eventLog.LogAsync(req.CallID, eventlog.EventTaskFailed, data)
	}
	return out
}

// duplicate answers a redelivery of a call whose dedupe key is still held.
// Keys are released on failure, so a held key without a stored result means
// the earlier run succeeded or is still running.
func (p *Processor) duplicate(ctx context.Context, log *zap.Logger, res *model.ProcessingResult, start time.Time) *model.ProcessingResult {
	log.Info("duplicate call, skipping")
	p.eventLog.LogAsync(res.CallID, eventlog.EventDuplicate, nil)
	metrics.RecordCall("duplicate", p.now().Sub(start))

	if p.store != nil {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		prev, err := p.store.GetResult(sctx, res.CallID)
		cancel()
		if err == nil && prev != nil {
			prev.Duplicate = true
			return prev
		}
	}
	res.State = model.StateCompleted
	res.Success = true
	res.Duplicate = true
	return res
}

func (p *Processor) timedOut(ctx context.Context, log *zap.Logger, event model.CallEvent, res *model.ProcessingResult, pending []model.Target, start time.Time) *model.ProcessingResult {
	err := &model.TimeoutError{After: p.timeout, Pending: pending}
	log.Warn("processing timed out", zap.String("state", string(res.State)), zap.Any("pending", pending))
	p.eventLog.LogAsync(event.CallID, eventlog.EventProcessingTimeout, map[string]any{
		"pending": pending,
		"state":   string(res.State),
	})
	return p.fail(ctx, log, event, res, err, start)
}

func (p *Processor) fail(ctx context.Context, log *zap.Logger, event model.CallEvent, res *model.ProcessingResult, err error, start time.Time) *model.ProcessingResult {
	res.State = model.StateFailed
	res.Success = false
	res.Err = err
	res.Error = err.Error()
	metrics.IncrementError(model.ErrorType(err))

	if !model.IsValidation(err) {
		p.notifyFatal(event, res)
		p.finish(ctx, log, event, res, start)
		return res
	}
	metrics.RecordCall(string(res.State), p.now().Sub(start))
	return res
}

func (p *Processor) finish(ctx context.Context, log *zap.Logger, event model.CallEvent, res *model.ProcessingResult, start time.Time) {
	elapsed := p.now().Sub(start)
	metrics.RecordCall(string(res.State), elapsed)

	eventType := eventlog.EventCompleted
	if res.State == model.StateFailed {
		eventType = eventlog.EventFailed
	}
	p.eventLog.LogAsync(res.CallID, eventType, map[string]any{
		"success":     res.Success,
		"commitments": res.Commitments,
		"tasks":       len(res.Outcomes),
		"error":       res.Error,
		"duration_ms": elapsed.Milliseconds(),
	})

	if p.store != nil {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		if err := p.store.SaveResult(sctx, event, res); err != nil {
			log.Warn("failed to save result", zap.Error(err))
		}
		cancel()
	}

	log.Info("call processed",
		zap.String("state", string(res.State)),
		zap.Bool("success", res.Success),
		zap.Int("commitments", res.Commitments),
		zap.Int("tasks", len(res.Outcomes)),
		zap.Duration("elapsed", elapsed))
}

func (p *Processor) releaseDedupe(ctx context.Context, callID string) {
	if p.deduper != nil {
		p.deduper.Release(ctx, dedupeScope, callID)
	}
}
