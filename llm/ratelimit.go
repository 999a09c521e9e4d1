package llm

import (
	"fmt"
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most maxCalls calls within any rolling
// period. It does not sleep: a call over budget is rejected with a
// RateLimitError whose WaitTime is the time until the oldest call in the
// window expires. Callers decide whether to wait and retry or surface the
// error.
type SlidingWindowLimiter struct {
	maxCalls int
	period   time.Duration

	mu    sync.Mutex
	calls []time.Time
	now   func() time.Time // test hook
}

// NewSlidingWindowLimiter builds a limiter admitting maxCalls per period.
func NewSlidingWindowLimiter(maxCalls int, period time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		maxCalls: maxCalls,
		period:   period,
		now:      time.Now,
	}
}

// Acquire records one call, or rejects it when the window is full.
func (l *SlidingWindowLimiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	kept := l.calls[:0]
	for _, t := range l.calls {
		if now.Sub(t) < l.period {
			kept = append(kept, t)
		}
	}
	l.calls = kept

	if len(l.calls) >= l.maxCalls {
		wait := l.period - now.Sub(l.calls[0])
		return &RateLimitError{
			ProviderError: ProviderError{
				GatewayError: GatewayError{
					Message: fmt.Sprintf("rate limit exceeded: max %d calls per %s", l.maxCalls, l.period),
				},
				Provider:  "gateway",
				Retryable: true,
			},
			WaitTime: wait,
		}
	}

	l.calls = append(l.calls, now)
	return nil
}

// Remaining reports how many calls the current window can still admit.
func (l *SlidingWindowLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	active := 0
	for _, t := range l.calls {
		if now.Sub(t) < l.period {
			active++
		}
	}
	return l.maxCalls - active
}
