package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/RMSTrucks/jakebot/internal/commitment"
	"github.com/RMSTrucks/jakebot/internal/dedupe"
	"github.com/RMSTrucks/jakebot/internal/eventlog"
	"github.com/RMSTrucks/jakebot/internal/httpapi"
	"github.com/RMSTrucks/jakebot/internal/jobs"
	"github.com/RMSTrucks/jakebot/internal/llm"
	"github.com/RMSTrucks/jakebot/internal/metrics"
	"github.com/RMSTrucks/jakebot/internal/model"
	"github.com/RMSTrucks/jakebot/internal/notifications"
	"github.com/RMSTrucks/jakebot/internal/processor"
	"github.com/RMSTrucks/jakebot/internal/remote"
	"github.com/RMSTrucks/jakebot/internal/store"
	"github.com/RMSTrucks/jakebot/internal/tasks"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	cfg        Config
	logger     *zap.Logger
	db         *pgxpool.Pool
	rdb        *redis.Client
	amqp       *notifications.AMQP
	deduper    *dedupe.Deduper
	store      *store.Store
	eventLog   *eventlog.Logger
	processor  *processor.Processor
	router     *httpapi.Router
	retention  *jobs.RetentionJob
	httpClient *http.Client // Shared HTTP client with connection pooling for the remote APIs
}

// New connects the optional infrastructure and wires the pipeline. Postgres,
// Redis and AMQP are only used when configured.
func New(cfg Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	// Shared HTTP client with connection pooling.
	// Close and NowCerts are each a single host hit once per task.
	a.httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	if a.cfg.DatabaseURL != "" {
		db, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return fmt.Errorf("ping postgres: %w", err)
		}
		a.db = db
		// Migrations are applied externally (migrations/*.sql).
	}
	a.store = store.New(a.db)
	a.eventLog = eventlog.New(a.db, a.logger)

	if a.cfg.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			// dedupe fails open, so a cold Redis is not fatal
			a.logger.Warn("redis ping failed", zap.String("addr", a.cfg.RedisAddr), zap.Error(err))
		}
	}

	if a.cfg.AMQPURL != "" {
		pub, err := notifications.NewAMQP(a.cfg.AMQPURL, a.cfg.AMQPExchange)
		if err != nil {
			return err
		}
		a.amqp = pub
	}
	return nil
}

func (a *App) wire() error {
	targets, err := a.cfg.Targets()
	if err != nil {
		return err
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}

	classifier, err := a.classifier(loc)
	if err != nil {
		return err
	}

	clients, err := a.clients(targets)
	if err != nil {
		return err
	}

	pcfg := processor.Config{
		Classifier:    classifier,
		Builder:       tasks.NewBuilder(targets, nil),
		Clients:       clients,
		Notifier:      a.notifier(),
		EventLog:      a.eventLog,
		Logger:        a.logger,
		Timeout:       a.cfg.RequestTimeout,
		Concurrency:   a.cfg.DispatchConcurrency,
		NotifySummary: a.cfg.NotifySummary,
	}
	if a.store.Enabled() {
		pcfg.Store = a.store
	}
	if a.rdb != nil {
		a.deduper = dedupe.New(a.rdb, dedupe.DefaultTTL, a.logger)
		pcfg.Deduper = a.deduper
	}
	proc, err := processor.New(pcfg)
	if err != nil {
		return err
	}
	a.processor = proc

	routerCfg := httpapi.RouterConfig{
		Environment:        a.cfg.Environment,
		JWTSecret:          a.cfg.JWTSecret,
		CloseWebhookSecret: a.cfg.CloseWebhookSecret,
		Readiness:          a.readiness(),
	}
	var updaters []remote.TaskUpdater
	for _, c := range clients {
		if fetcher, ok := c.(httpapi.TranscriptFetcher); ok {
			routerCfg.Transcripts = fetcher
		}
		if u, ok := c.(remote.TaskUpdater); ok {
			updaters = append(updaters, u)
		}
	}
	routerCfg.Tasks = tasks.NewLifecycle(a.store, updaters, a.eventLog, a.logger)
	a.router = httpapi.NewRouter(routerCfg, a.logger, proc, a.store, a.eventLog)

	if a.store.Enabled() && a.cfg.Retention > 0 {
		a.retention = jobs.NewRetentionJob(map[string]jobs.Pruner{
			"processed_calls":   a.store,
			"processing_events": a.eventLog,
		}, a.cfg.Retention, a.cfg.RetentionInterval, a.logger)
	}
	return nil
}

// readiness lists the configured infrastructure for GET /health. Redis and
// AMQP are optional: dedupe fails open and notifications are best effort.
func (a *App) readiness() []httpapi.ReadinessCheck {
	var checks []httpapi.ReadinessCheck
	if a.store.Enabled() {
		checks = append(checks, httpapi.ReadinessCheck{Name: "postgres", Check: a.store.Ping})
	}
	if a.deduper != nil {
		checks = append(checks, httpapi.ReadinessCheck{Name: "redis", Check: a.deduper.Ping, Optional: true})
	}
	if a.amqp != nil {
		checks = append(checks, httpapi.ReadinessCheck{Name: "amqp", Check: a.amqp.Ping, Optional: true})
	}
	return checks
}

// StartJobs starts the background jobs.
func (a *App) StartJobs() {
	if a.retention != nil {
		a.retention.Start()
	}
}

func (a *App) classifier(loc *time.Location) (commitment.Classifier, error) {
	ruleCfg := commitment.RuleConfig{Location: loc}
	if a.cfg.PatternsFile != "" {
		patterns, err := commitment.LoadPatterns(a.cfg.PatternsFile)
		if err != nil {
			return nil, err
		}
		ruleCfg.Patterns = patterns
		a.logger.Info("loaded commitment patterns", zap.String("file", a.cfg.PatternsFile), zap.Int("count", len(patterns)))
	}
	rules := commitment.NewRuleClassifier(ruleCfg)

	if a.cfg.OpenAIAPIKey == "" {
		return rules, nil
	}
	extractor := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:     a.cfg.OpenAIAPIKey,
		Model:      a.cfg.OpenAIModel,
		HTTPClient: a.httpClient,
	})
	a.logger.Info("using LLM classifier with rule fallback", zap.String("model", a.cfg.OpenAIModel))
	return commitment.NewLLMClassifier(extractor, rules, loc), nil
}

func (a *App) clients(targets []model.Target) ([]remote.Client, error) {
	policy := remote.DefaultPolicy()
	policy.MaxAttempts = a.cfg.RetryMaxAttempts
	policy.BaseDelay = a.cfg.RetryBaseDelay
	policy.AttemptTimeout = a.cfg.AttemptTimeout

	opts := remote.Options{
		HTTPClient: a.httpClient,
		Policy:     policy,
		Logger:     a.logger,
		RateLimit:  a.cfg.RateLimitPerSec,
		OnAttempt: func(t model.Target, err error) {
			metrics.RecordAttempt(string(t), err)
		},
	}

	var clients []remote.Client
	for _, t := range targets {
		switch t {
		case model.TargetCRM:
			c, err := remote.NewClose(a.cfg.CloseAPIKey, a.cfg.CloseBaseURL, opts)
			if err != nil {
				return nil, err
			}
			clients = append(clients, c)
		case model.TargetAgency:
			c, err := remote.NewNowCerts(a.cfg.NowCertsAPIKey, a.cfg.NowCertsBaseURL, opts)
			if err != nil {
				return nil, err
			}
			clients = append(clients, c)
		default:
			return nil, fmt.Errorf("unsupported target %q", t)
		}
	}
	return clients, nil
}

func (a *App) notifier() notifications.Notifier {
	var multi notifications.Multi
	if a.cfg.AlertWebhookURL != "" {
		multi = append(multi, notifications.NewSlack(a.cfg.AlertWebhookURL, a.cfg.SlackChannel))
	}
	if a.cfg.DiscordWebhookURL != "" {
		multi = append(multi, notifications.NewDiscord(a.cfg.DiscordWebhookURL))
	}
	if a.amqp != nil {
		multi = append(multi, a.amqp)
	}
	if len(multi) == 0 {
		a.logger.Warn("no notification channel configured, failures are only logged")
		return notifications.Nop{}
	}
	return multi
}

func (a *App) Router() http.Handler {
	return a.router
}

// Shutdown waits for background webhook processing and notifications.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.router.Wait(ctx)

	done := make(chan struct{})
	go func() {
		a.processor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for notifications: %w", ctx.Err()))
	}
	return err
}

func (a *App) Close() error {
	if a.retention != nil {
		a.retention.Stop()
		a.retention = nil
	}
	if a.amqp != nil {
		a.amqp.Close()
	}
	var err error
	if a.rdb != nil {
		err = a.rdb.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	return err
}
