package llm

import (
	"context"
	"slices"
	"time"
)

// RetryPolicy is a bounded, fixed-delay retry policy for inference calls.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Delay between attempts.
	Delay time.Duration

	// RetryableStatuses limits retries to these HTTP codes. Empty means every
	// non-2xx status is retried. Transport failures (status 0) are always
	// retried.
	RetryableStatuses []int

	// Sleep waits between attempts; nil uses a timer. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each sleep.
	OnRetry func(model string, attempt int, err error)
}

// DefaultRetryPolicy retries ten times, thirty seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		Delay:       30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

func (p RetryPolicy) retryable(status int) bool {
	if status == 0 || len(p.RetryableStatuses) == 0 {
		return true
	}
	return slices.Contains(p.RetryableStatuses, status)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
