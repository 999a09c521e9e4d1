package llm

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether and how long to wait between attempts at
// the same provider. The gateway applies it to the current provider
// before fallback kicks in.
type RetryPolicy struct {
	MaxRetries        int           // retry attempts after the initial call
	BaseDelay         time.Duration // delay before the first retry
	MaxDelay          time.Duration // cap on any single wait, server-requested or not
	BackoffMultiplier float64       // growth factor per attempt
	Jitter            bool          // randomize delays to spread concurrent retriers
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy is what the gateway uses when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// backoff is the exponential delay for attempt n (0-indexed), before any
// server-requested wait is considered.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if cap := float64(p.MaxDelay); d > cap {
		d = cap
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64() // [0.5x, 1.5x)
	}
	return time.Duration(d)
}

// NextDelay resolves the wait before retry attempt n after err. A
// rate-limited provider names its own wait; that wait wins over backoff,
// but a wait beyond MaxDelay is not worth serving — the second return is
// false and the caller should surface the error instead.
func (p RetryPolicy) NextDelay(err error, attempt int) (time.Duration, bool) {
	if rl, ok := err.(*RateLimitError); ok && rl.WaitTime > 0 {
		if rl.WaitTime > p.MaxDelay {
			return 0, false
		}
		return rl.WaitTime, true
	}
	return p.backoff(attempt), true
}

// Retry executes fn under the policy. Only retryable errors are retried;
// context cancellation during a wait surfaces as an AbortError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}

		delay, serveable := policy.NextDelay(err, attempt)
		if !serveable {
			return zero, err
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		select {
		case <-ctx.Done():
			return zero, &AbortError{GatewayError: GatewayError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}
