// Package resilience provides the retry policy shared by every external call.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// BackoffFunc returns the delay to wait after the given zero-based attempt.
type BackoffFunc func(attempt int) time.Duration

// Policy controls retry behavior for one kind of external call.
type Policy struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// Backoff computes the sleep between attempts. Default:
	// ExponentialBackoff(500ms, 30s, 2.0, 0.25).
	Backoff BackoffFunc

	// ShouldRetry decides whether an error is worth another attempt.
	// If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy returns a sensible policy for API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff(500*time.Millisecond, 30*time.Second, 2.0, 0.25),
	}
}

// RateLimitPolicy retries only rate-limit signals and network-level
// failures. Any other upstream status is terminal.
func RateLimitPolicy(maxAttempts int, backoff BackoffFunc) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		ShouldRetry: IsRetryableUpstream,
	}
}

// ExponentialBackoff grows the delay by multiplier each attempt, capped at
// maxDelay, with ±jitterFraction random jitter.
func ExponentialBackoff(initial, maxDelay time.Duration, multiplier, jitterFraction float64) BackoffFunc {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return func(attempt int) time.Duration {
		delay := float64(initial) * math.Pow(multiplier, float64(attempt))
		if maxDelay > 0 && delay > float64(maxDelay) {
			delay = float64(maxDelay)
		}

		// Apply jitter: ±jitterFraction of delay.
		if jitterFraction > 0 {
			jitterRange := delay * jitterFraction
			delay += (rand.Float64()*2 - 1) * jitterRange
		}

		if delay < 0 {
			delay = 0
		}
		return time.Duration(delay)
	}
}

// LinearBackoff waits step, 2*step, 3*step, ...
func LinearBackoff(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt+1)
	}
}

// Do executes fn according to p. Context cancellation stops retries
// immediately, including during a backoff sleep.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for calls that return a value.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = applyDefaults(p)

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}

		if !p.ShouldRetry(lastErr) {
			return zero, lastErr
		}

		// Don't sleep after the last attempt.
		if attempt >= p.MaxAttempts-1 {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, lastErr)
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func applyDefaults(p Policy) Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Backoff == nil {
		p.Backoff = ExponentialBackoff(500*time.Millisecond, 30*time.Second, 2.0, 0.25)
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsTransient
	}
	return p
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Bool("rate_limited", IsRateLimited(err)),
			zap.Error(err),
		)
	}
}
