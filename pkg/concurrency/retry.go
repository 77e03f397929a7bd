package concurrency

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrCancelled is returned when a retry loop is cut short by a
// cancellation probe.
var ErrCancelled = errors.New("operation cancelled")

// RetryConfig controls Retry. The caller decides which error classes are
// retryable; everything else aborts the loop immediately. The operation
// must be safe to re-run: Retry guarantees nothing about partial side
// effects of failed attempts.
type RetryConfig struct {
	MaxAttempts int           // total attempts, minimum 1
	BaseDelay   time.Duration // first back-off delay (default 1s)
	MaxDelay    time.Duration // per-attempt delay cap (default 60s)
	Multiplier  float64       // back-off factor (default 2)

	// Retryable reports whether the error warrants another attempt.
	// Nil means every error is retryable.
	Retryable func(error) bool

	// DelayFor, when set, may supply an explicit wait for a failed
	// attempt, such as a server-mandated Retry-After. Returning false
	// falls back to the exponential schedule. Optional.
	DelayFor func(err error) (time.Duration, bool)

	// OnError is called after each failed attempt with the 1-based
	// attempt number. Optional.
	OnError func(err error, attempt int)

	// Cancelled is probed before each attempt and during back-off
	// sleeps. Optional.
	Cancelled func() bool
}

// Retry runs fn until it succeeds, the attempt budget is exhausted, a
// non-retryable error occurs, or the loop is cancelled. It returns the
// last error on failure.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = cfg.Multiplier
	bo.RandomizationFactor = 0.1
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if cfg.Cancelled != nil && cfg.Cancelled() {
			return zero, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.OnError != nil {
			cfg.OnError(err, attempt)
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if cfg.DelayFor != nil {
			if d, ok := cfg.DelayFor(err); ok {
				delay = d
			}
		}
		if !InterruptibleSleep(delay, cfg.Cancelled) {
			return zero, ErrCancelled
		}
	}
	return zero, lastErr
}
