// Package remote creates follow-up tasks in the CRM and agency systems.
package remote

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy controls retries of a single remote call.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
	Retryable      func(error) bool
}

// DefaultPolicy is 3 attempts spaced 1s and 2s apart, 10s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 10 * time.Second,
		Retryable:      IsRetryable,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}
	return p
}

// Delays returns the waits between attempts, for logging and tests.
func (p Policy) Delays() []time.Duration {
	p = p.withDefaults()
	b := p.backOff()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. Each attempt gets its own AttemptTimeout.
// It returns the number of attempts made and the last error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	p = p.withDefaults()

	var bo backoff.BackOff = backoff.WithMaxRetries(p.backOff(), uint64(p.MaxAttempts-1))
	bo = backoff.WithContext(bo, ctx)

	attempts := 0
	var lastErr error
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++

		actx := ctx
		cancel := context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := op(actx)
		cancel()

		if err == nil {
			lastErr = nil
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)

	if lastErr != nil {
		return attempts, lastErr
	}
	return attempts, err
}
