package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// Backoff controls delay timing between retry attempts.
type Backoff struct {
	InitialDelay time.Duration // default 200ms
	Factor       float64       // default 2.0
	MaxDelay     time.Duration // default 10s
	Jitter       bool          // full jitter in [0, delay]
}

// DelayForAttempt calculates the delay after the given attempt (0-indexed).
// The formula is: InitialDelay * Factor^attempt, capped at MaxDelay.
func (b Backoff) DelayForAttempt(attempt int) time.Duration {
	factor := b.Factor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(b.InitialDelay) * math.Pow(factor, float64(attempt))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	d := time.Duration(delay)
	if b.Jitter && d > 0 {
		d = time.Duration(rand.Int64N(int64(d) + 1))
	}
	return d
}

// RetryPolicy bounds the number of attempts made for one stage call.
type RetryPolicy struct {
	MaxAttempts int // minimum 1 (1 = no retries)
	Backoff     Backoff

	// OnRetry is invoked before sleeping ahead of the next attempt. attempt
	// is the 1-indexed attempt that just failed.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns 3 attempts with 200ms exponential backoff
// capped at 10s and jitter enabled.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: Backoff{
			InitialDelay: 200 * time.Millisecond,
			Factor:       2.0,
			MaxDelay:     10 * time.Second,
			Jitter:       true,
		},
	}
}

// NoRetry returns a single-attempt policy.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. Only retryable capability errors are retried, so
// validation failures and open circuits return after the attempt that
// produced them. It reports the number of attempts made.
//
// If ctx ends while waiting between attempts the last error is returned
// joined with the context error.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == maxAttempts || !core.IsRetryable(lastErr) {
			return attempt, lastErr
		}

		delay := p.Backoff.DelayForAttempt(attempt - 1)
		if p.OnRetry != nil {
			p.OnRetry(lastErr, attempt, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			return attempt, errors.Join(lastErr, err)
		}
	}

	return maxAttempts, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
