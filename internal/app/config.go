package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RMSTrucks/jakebot/internal/model"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":5000"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	SentryDSN   string `env:"SENTRY_DSN"`

	// Target systems
	CloseAPIKey        string   `env:"CLOSE_API_KEY"`
	CloseBaseURL       string   `env:"CLOSE_BASE_URL" envDefault:"https://api.close.com/api/v1"`
	CloseWebhookSecret string   `env:"CLOSE_WEBHOOK_SECRET"`
	NowCertsAPIKey     string   `env:"NOWCERTS_API_KEY"`
	NowCertsBaseURL    string   `env:"NOWCERTS_BASE_URL" envDefault:"https://api.nowcerts.com/api"`
	TaskTargets        []string `env:"TASK_TARGETS" envDefault:"crm,agency" envSeparator:","`

	// Notifications
	AlertWebhookURL   string `env:"ALERT_WEBHOOK_URL"` // Slack incoming webhook
	SlackChannel      string `env:"SLACK_CHANNEL"`
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`
	AMQPURL           string `env:"AMQP_URL"`
	AMQPExchange      string `env:"AMQP_EXCHANGE" envDefault:"jakebot.events"`
	NotifySummary     bool   `env:"NOTIFY_SUMMARY" envDefault:"false"`

	// Optional infrastructure
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	DatabaseURL   string `env:"DATABASE_URL"`

	// Stored calls and events older than Retention are pruned; 0 keeps them.
	Retention         time.Duration `env:"RETENTION" envDefault:"2160h"`
	RetentionInterval time.Duration `env:"RETENTION_INTERVAL" envDefault:"1h"`

	// JWT Authentication for the API routes
	JWTSecret string `env:"API_JWT_SECRET"`

	// Classification
	PatternsFile string `env:"PATTERNS_FILE"`
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	Timezone     string `env:"TIMEZONE" envDefault:"America/New_York"`

	// Dispatch
	RetryMaxAttempts    int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay      time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	AttemptTimeout      time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"10s"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	DispatchConcurrency int           `env:"DISPATCH_CONCURRENCY" envDefault:"8"`
	RateLimitPerSec     float64       `env:"RATE_LIMIT_PER_SEC" envDefault:"0"`
}

// LoadConfigFromEnv parses the environment and validates the result.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Targets returns the parsed TASK_TARGETS in order, without duplicates.
func (c Config) Targets() ([]model.Target, error) {
	var out []model.Target
	seen := map[model.Target]bool{}
	for _, s := range c.TaskTargets {
		if strings.TrimSpace(s) == "" {
			continue
		}
		t, err := model.ParseTarget(s)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, errors.New("TASK_TARGETS must name at least one target")
	}
	return out, nil
}

// Location loads TIMEZONE.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

func (c Config) Validate() error {
	targets, err := c.Targets()
	if err != nil {
		return err
	}
	for _, t := range targets {
		switch {
		case t == model.TargetCRM && c.CloseAPIKey == "":
			return errors.New("CLOSE_API_KEY is required when crm is a task target")
		case t == model.TargetAgency && c.NowCertsAPIKey == "":
			return errors.New("NOWCERTS_API_KEY is required when agency is a task target")
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.RetryMaxAttempts < 1 {
		return errors.New("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	if c.DispatchConcurrency < 1 {
		return errors.New("DISPATCH_CONCURRENCY must be at least 1")
	}
	if c.Retention < 0 || c.RetentionInterval < 0 {
		return errors.New("RETENTION and RETENTION_INTERVAL must not be negative")
	}
	if c.RateLimitPerSec < 0 {
		return errors.New("RATE_LIMIT_PER_SEC must not be negative")
	}
	return nil
}
