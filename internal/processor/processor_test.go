package processor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RMSTrucks/jakebot/internal/commitment"
	"github.com/RMSTrucks/jakebot/internal/model"
	"github.com/RMSTrucks/jakebot/internal/notifications"
	"github.com/RMSTrucks/jakebot/internal/remote"
	"github.com/RMSTrucks/jakebot/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refTime = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

const callbackTranscript = "Agent: I'll call you back tomorrow with a quote."

type fakeClient struct {
	target model.Target
	delay  time.Duration
	fail   bool
	calls  int32
}

func (f *fakeClient) Target() model.Target { return f.target }

func (f *fakeClient) CreateTask(ctx context.Context, req model.TaskRequest) model.Outcome {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return model.Outcome{TaskID: req.ID, Target: f.target, Attempts: 3, ErrorKind: model.ErrorKindTransient, Error: "status 500"}
	}
	return model.Outcome{TaskID: req.ID, Target: f.target, Success: true, Attempts: 1, RemoteID: "r-" + req.ID}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev notifications.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingNotifier) kinds() []notifications.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notifications.Kind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDeduper) AcquireOnce(_ context.Context, scope, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[scope+id] {
		return false
	}
	d.seen[scope+id] = true
	return true
}

func (d *memDeduper) Release(_ context.Context, scope, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, scope+id)
}

func ruleClassifier() commitment.Classifier {
	return commitment.NewRuleClassifier(commitment.RuleConfig{
		Location: time.UTC,
		Now:      func() time.Time { return refTime },
	})
}

func newTestProcessor(t *testing.T, cfg Config) *Processor {
	t.Helper()
	if cfg.Classifier == nil {
		cfg.Classifier = ruleClassifier()
	}
	if cfg.Builder == nil {
		targets := make([]model.Target, 0, len(cfg.Clients))
		for _, c := range cfg.Clients {
			targets = append(targets, c.Target())
		}
		cfg.Builder = tasks.NewBuilder(targets, func() time.Time { return refTime })
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func validEvent() model.CallEvent {
	return model.CallEvent{
		CallID:     "call_1",
		LeadID:     "lead_1",
		UserID:     "user_1",
		UserName:   "Jake",
		Transcript: callbackTranscript,
		Duration:   180,
		Direction:  model.DirectionOutbound,
	}
}

func TestNew_RequiresClientPerTarget(t *testing.T) {
	_, err := New(Config{
		Classifier: ruleClassifier(),
		Builder:    tasks.NewBuilder([]model.Target{model.TargetCRM, model.TargetAgency}, nil),
		Clients:    []remote.Client{&fakeClient{target: model.TargetCRM}},
	})
	assert.Error(t, err)
}

func TestProcess_AllSucceed(t *testing.T) {
	crm := &fakeClient{target: model.TargetCRM}
	agency := &fakeClient{target: model.TargetAgency}
	n := &recordingNotifier{}
	p := newTestProcessor(t, Config{Clients: []remote.Client{crm, agency}, Notifier: n})

	res := p.Process(context.Background(), validEvent())
	p.Wait()

	assert.True(t, res.Success)
	assert.Equal(t, model.StateCompleted, res.State)
	assert.Equal(t, 1, res.Commitments)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, model.TargetCRM, res.Outcomes[0].Target)
	assert.Equal(t, model.TargetAgency, res.Outcomes[1].Target)
	assert.True(t, res.Outcomes[0].Success)
	assert.True(t, res.Outcomes[1].Success)
	assert.Equal(t, model.TaskPending, res.Outcomes[0].Status)
	assert.NoError(t, res.Err)
	assert.Empty(t, n.kinds())
}

func TestProcess_PartialFailureAgainstRemoteAPIs(t *testing.T) {
	var closeCalls, nowCertsCalls int32
	closeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&closeCalls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer closeSrv.Close()
	nowCertsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&nowCertsCalls, 1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"nc-1"}`))
	}))
	defer nowCertsSrv.Close()

	policy := remote.DefaultPolicy()
	policy.BaseDelay, policy.MaxDelay = 0, 0
	closeClient, err := remote.NewClose("close_key", closeSrv.URL, remote.Options{Policy: policy})
	require.NoError(t, err)
	nowCerts, err := remote.NewNowCerts("nc_key", nowCertsSrv.URL, remote.Options{Policy: policy})
	require.NoError(t, err)

	n := &recordingNotifier{}
	p := newTestProcessor(t, Config{Clients: []remote.Client{closeClient, nowCerts}, Notifier: n})

	res := p.Process(context.Background(), validEvent())
	p.Wait()

	assert.False(t, res.Success)
	assert.Equal(t, model.StateCompleted, res.State)
	require.Len(t, res.Outcomes, 2)

	crm, agency := res.Outcomes[0], res.Outcomes[1]
	assert.Equal(t, model.TargetCRM, crm.Target)
	assert.False(t, crm.Success)
	assert.Equal(t, 3, crm.Attempts)
	assert.Equal(t, model.ErrorKindTransient, crm.ErrorKind)
	assert.Equal(t, model.TaskFailed, crm.Status)
	assert.Equal(t, model.TargetAgency, agency.Target)
	assert.True(t, agency.Success)
	assert.Equal(t, "nc-1", agency.RemoteID)

	assert.Equal(t, int32(3), atomic.LoadInt32(&closeCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&nowCertsCalls))
	assert.Equal(t, []notifications.Kind{notifications.KindFailure}, n.kinds())
}

func TestProcess_ConcurrentDispatch(t *testing.T) {
	const latency = 200 * time.Millisecond
	crm := &fakeClient{target: model.TargetCRM, delay: latency}
	agency := &fakeClient{target: model.TargetAgency, delay: latency}
	p := newTestProcessor(t, Config{Clients: []remote.Client{crm, agency}})

	start := time.Now()
	res := p.Process(context.Background(), validEvent())
	elapsed := time.Since(start)

	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, elapsed, latency)
	assert.Less(t, elapsed, 2*latency-50*time.Millisecond, "targets should be dispatched concurrently")
}

func TestProcess_EmptyTranscript(t *testing.T) {
	crm := &fakeClient{target: model.TargetCRM}
	p := newTestProcessor(t, Config{Clients: []remote.Client{crm}})

	ev := validEvent()
	ev.Transcript = "   "
	res := p.Process(context.Background(), ev)

	assert.True(t, res.Success)
	assert.Equal(t, model.StateCompleted, res.State)
	assert.Equal(t, 0, res.Commitments)
	assert.NotNil(t, res.Outcomes)
	assert.Empty(t, res.Outcomes)
	assert.Equal(t, int32(0), atomic.LoadInt32(&crm.calls))
}

func TestProcess_ValidationError(t *testing.T) {
	crm := &fakeClient{target: model.TargetCRM}
	n := &recordingNotifier{}
	p := newTestProcessor(t, Config{Clients: []remote.Client{crm}, Notifier: n})

	ev := validEvent()
	ev.CallID = ""
	res := p.Process(context.Background(), ev)
	p.Wait()

	assert.False(t, res.Success)
	assert.Equal(t, model.StateFailed, res.State)
	assert.True(t, model.IsValidation(res.Err))
	assert.Contains(t, res.Error, "call_id")
	assert.Equal(t, int32(0), atomic.LoadInt32(&crm.calls))
	assert.Empty(t, n.kinds())
}

func TestProcess_ClassifierError(t *testing.T) {
	crm := &fakeClient{target: model.TargetCRM}
	n := &recordingNotifier{}
	d := &memDeduper{}
	p := newTestProcessor(t, Config{
		Clients:  []remote.Client{crm},
		Notifier: n,
		Deduper:  d,
		Classifier: commitment.Func(func(context.Context, string) ([]model.Commitment, error) {
			return nil, errors.New("model unavailable")
		}),
	})

	res := p.Process(context.Background(), validEvent())
	p.Wait()

	assert.Equal(t, model.StateFailed, res.State)
	var ce *model.ClassifierError
	assert.ErrorAs(t, res.Err, &ce)
	assert.Equal(t, int32(0), atomic.LoadInt32(&crm.calls))
	assert.Equal(t, []notifications.Kind{notifications.KindFailure}, n.kinds())

	// The dedupe key is released so a redelivery is processed again.
	assert.True(t, d.AcquireOnce(context.Background(), dedupeScope, "call_1"))
}

func TestProcess_ClassifierPanic(t *testing.T) {
	crm := &fakeClient{target: model.TargetCRM}
	p := newTestProcessor(t, Config{
		Clients: []remote.Client{crm},
		Classifier: commitment.Func(func(context.Context, string) ([]model.Commitment, error) {
			panic("boom")
		}),
	})

	res := p.Process(context.Background(), validEvent())
	assert.Equal(t, model.StateFailed, res.State)
	assert.Equal(t, "classifier", model.ErrorType(res.Err))
}

type blockingClient struct {
	target  model.Target
	release chan struct{}
}

func (b *blockingClient) Target() model.Target { return b.target }

func (b *blockingClient) CreateTask(_ context.Context, req model.TaskRequest) model.Outcome {
	<-b.release
	return model.Outcome{TaskID: req.ID, Target: b.target, Success: true, Attempts: 1}
}

func TestProcess_Timeout(t *testing.T) {
	slow := &blockingClient{target: model.TargetCRM, release: make(chan struct{})}
	defer close(slow.release)
	fast := &fakeClient{target: model.TargetAgency}
	n := &recordingNotifier{}
	p := newTestProcessor(t, Config{
		Clients:  []remote.Client{slow, fast},
		Notifier: n,
		Timeout:  100 * time.Millisecond,
	})

	start := time.Now()
	res := p.Process(context.Background(), validEvent())
	p.Wait()

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, model.StateFailed, res.State)
	var te *model.TimeoutError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, []model.Target{model.TargetCRM}, te.Pending)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, model.ErrorKindTimeout, res.Outcomes[0].ErrorKind)
	assert.True(t, res.Outcomes[1].Success)
	assert.Equal(t, []notifications.Kind{notifications.KindFailure}, n.kinds())
}

func TestProcess_DeadlineAgainstSlowRemote(t *testing.T) {
	closeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"task_late"}`))
	}))
	defer closeSrv.Close()
	nowCertsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"nc-1"}`))
	}))
	defer nowCertsSrv.Close()

	closeClient, err := remote.NewClose("close_key", closeSrv.URL, remote.Options{})
	require.NoError(t, err)
	nowCerts, err := remote.NewNowCerts("nc_key", nowCertsSrv.URL, remote.Options{})
	require.NoError(t, err)

	d := &memDeduper{}
	p := newTestProcessor(t, Config{
		Clients: []remote.Client{closeClient, nowCerts},
		Deduper: d,
		Timeout: 200 * time.Millisecond,
	})

	start := time.Now()
	res := p.Process(context.Background(), validEvent())
	p.Wait()

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, model.StateFailed, res.State)
	assert.False(t, res.Success)
	require.True(t, model.IsTimeout(res.Err), "got %v", res.Err)
	var te *model.TimeoutError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, []model.Target{model.TargetCRM}, te.Pending)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, model.ErrorKindTimeout, res.Outcomes[0].ErrorKind)
	assert.True(t, res.Outcomes[1].Success)
	assert.True(t, d.AcquireOnce(context.Background(), dedupeScope, "call_1"))
}

func TestProcess_DeadlineCoversClassification(t *testing.T) {
	t.Run("classifier honours the deadline", func(t *testing.T) {
		crm := &fakeClient{target: model.TargetCRM}
		p := newTestProcessor(t, Config{
			Clients: []remote.Client{crm},
			Timeout: 100 * time.Millisecond,
			Classifier: commitment.Func(func(ctx context.Context, _ string) ([]model.Commitment, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		})

		res := p.Process(context.Background(), validEvent())
		p.Wait()

		assert.Equal(t, model.StateFailed, res.State)
		var te *model.TimeoutError
		require.ErrorAs(t, res.Err, &te)
		assert.Equal(t, []model.Target{model.TargetCRM}, te.Pending)
		assert.Equal(t, int32(0), atomic.LoadInt32(&crm.calls))
	})

	t.Run("slow classifier leaves no time to dispatch", func(t *testing.T) {
		crm := &fakeClient{target: model.TargetCRM}
		p := newTestProcessor(t, Config{
			Clients: []remote.Client{crm},
			Timeout: 100 * time.Millisecond,
			Classifier: commitment.Func(func(context.Context, string) ([]model.Commitment, error) {
				time.Sleep(150 * time.Millisecond)
				return []model.Commitment{{Description: "call back", Priority: model.PriorityNormal}}, nil
			}),
		})

		res := p.Process(context.Background(), validEvent())
		p.Wait()

		assert.Equal(t, model.StateFailed, res.State)
		assert.True(t, model.IsTimeout(res.Err))
		require.Len(t, res.Outcomes, 1)
		assert.Equal(t, model.ErrorKindTimeout, res.Outcomes[0].ErrorKind)
		assert.Equal(t, int32(0), atomic.LoadInt32(&crm.calls))
	})
}

func TestProcess_ClientDisconnectDoesNotAbortDispatch(t *testing.T) {
	crm := &fakeClient{target: model.TargetCRM, delay: 50 * time.Millisecond}
	p := newTestProcessor(t, Config{Clients: []remote.Client{crm}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Process(ctx, validEvent())

	assert.True(t, res.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&crm.calls))
}

func TestProcess_Duplicate(t *testing.T) {
	crm := &fakeClient{target: model.TargetCRM}
	p := newTestProcessor(t, Config{Clients: []remote.Client{crm}, Deduper: &memDeduper{}})

	first := p.Process(context.Background(), validEvent())
	second := p.Process(context.Background(), validEvent())

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.True(t, second.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&crm.calls))
}

type memStore struct {
	mu      sync.Mutex
	results map[string]*model.ProcessingResult
}

func (s *memStore) SaveResult(_ context.Context, _ model.CallEvent, r *model.ProcessingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		s.results = map[string]*model.ProcessingResult{}
	}
	cp := *r
	s.results[r.CallID] = &cp
	return nil
}

func (s *memStore) GetResult(_ context.Context, callID string) (*model.ProcessingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[callID]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *r
	return &cp, nil
}

func TestProcess_DuplicateReturnsStoredResult(t *testing.T) {
	crm := &fakeClient{target: model.TargetCRM}
	st := &memStore{}
	p := newTestProcessor(t, Config{Clients: []remote.Client{crm}, Deduper: &memDeduper{}, Store: st})

	first := p.Process(context.Background(), validEvent())
	second := p.Process(context.Background(), validEvent())
	p.Wait()

	assert.True(t, first.Success)
	assert.True(t, second.Duplicate)
	assert.True(t, second.Success)
	require.Len(t, second.Outcomes, 1)
	assert.Equal(t, first.Outcomes[0].RemoteID, second.Outcomes[0].RemoteID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&crm.calls))
}

func TestProcess_FailedDispatchReleasesDedupeKey(t *testing.T) {
	crm := &fakeClient{target: model.TargetCRM, fail: true}
	d := &memDeduper{}
	p := newTestProcessor(t, Config{Clients: []remote.Client{crm}, Deduper: d})

	first := p.Process(context.Background(), validEvent())
	p.Wait()
	require.False(t, first.Success)

	// The target recovers and the redelivery is processed, not reported
	// as a successful duplicate.
	crm.fail = false
	second := p.Process(context.Background(), validEvent())
	p.Wait()

	assert.False(t, second.Duplicate)
	assert.True(t, second.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(&crm.calls))

	third := p.Process(context.Background(), validEvent())
	assert.True(t, third.Duplicate)
	assert.Equal(t, int32(2), atomic.LoadInt32(&crm.calls))
}

func TestProcess_ApprovalAndSummaryNotifications(t *testing.T) {
	crm := &fakeClient{target: model.TargetCRM}
	n := &recordingNotifier{err: errors.New("slack down")}
	p := newTestProcessor(t, Config{Clients: []remote.Client{crm}, Notifier: n, NotifySummary: true})

	ev := validEvent()
	ev.Transcript = "Agent: I'll update your policy with the new truck by Friday."
	res := p.Process(context.Background(), ev)
	p.Wait()

	// Notifier failures never change the result.
	assert.True(t, res.Success)
	var statuses []model.TaskStatus
	for _, o := range res.Outcomes {
		statuses = append(statuses, o.Status)
	}
	assert.Contains(t, statuses, model.TaskNeedsApproval)
	assert.ElementsMatch(t, []notifications.Kind{notifications.KindApproval, notifications.KindSummary}, n.kinds())
}

func TestProcess_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak int32
	client := &countingClient{target: model.TargetCRM, inFlight: &inFlight, peak: &peak}
	classifier := commitment.Func(func(context.Context, string) ([]model.Commitment, error) {
		out := make([]model.Commitment, 6)
		for i := range out {
			out[i] = model.Commitment{Description: "task", Priority: model.PriorityNormal}
		}
		return out, nil
	})
	p := newTestProcessor(t, Config{Clients: []remote.Client{client}, Classifier: classifier, Concurrency: 2})

	res := p.Process(context.Background(), validEvent())
	assert.True(t, res.Success)
	assert.Len(t, res.Outcomes, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

type countingClient struct {
	target         model.Target
	inFlight, peak *int32
}

func (c *countingClient) Target() model.Target { return c.target }

func (c *countingClient) CreateTask(_ context.Context, req model.TaskRequest) model.Outcome {
	n := atomic.AddInt32(c.inFlight, 1)
	for {
		p := atomic.LoadInt32(c.peak)
		if n <= p || atomic.CompareAndSwapInt32(c.peak, p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	atomic.AddInt32(c.inFlight, -1)
	return model.Outcome{TaskID: req.ID, Target: c.target, Success: true, Attempts: 1}
}
