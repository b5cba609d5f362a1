// Package retry wraps side-effecting calls with bounded exponential backoff.
// Every external provider call in this service goes through an Executor.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Classification decides whether a failed attempt is worth repeating.
type Classification int

const (
	// Retriable errors (rate limits, transient network failures) consume an
	// attempt and back off before the next one.
	Retriable Classification = iota
	// Fatal errors (auth failures, malformed input, permanent 4xx) abort
	// immediately without consuming remaining attempts.
	Fatal
)

// Classifier maps an error to a Classification. A nil Classifier treats every
// error as Retriable.
type Classifier func(error) Classification

// Policy holds the backoff parameters. It is stateless and reentrant; one
// Policy value can serve any number of concurrent Execute calls.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// SleepFunc replaces the real backoff sleep in tests. Nil means a
	// context-aware time.Timer sleep.
	SleepFunc func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy mirrors the backoff the provider clients were tuned with:
// three attempts, 4s base delay, doubling, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   4 * time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
	}
}

// Execute runs op up to MaxAttempts times, backing off between Retriable
// failures. Fatal failures and context cancellation return immediately. After
// the attempts are exhausted the last error is wrapped with the attempt count.
func (p Policy) Execute(ctx context.Context, op func(context.Context) error, classify Classifier) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if classify != nil && classify(lastErr) == Fatal {
			return lastErr
		}

		if attempt < attempts {
			if err := p.sleep(ctx, p.delay(attempt)); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), classify Classifier) (T, error) {
	var result T
	err := p.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	}, classify)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// delay computes the backoff before the attempt following failed attempt n.
func (p Policy) delay(failedAttempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < failedAttempt; i++ {
		d *= p.Multiplier
	}
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.SleepFunc != nil {
		return p.SleepFunc(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
