// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes how an operation is retried
type Policy struct {
	// Attempts is the total number of tries, including the first
	Attempts int
	// Delay is the pause between consecutive attempts
	Delay time.Duration
	// Retryable decides whether an error deserves another attempt; nil retries everything
	Retryable func(error) bool
	// OnRetry is called after a failed attempt that will be retried
	OnRetry func(attempt int, err error)
	// Sleep waits between attempts; nil uses a context-aware timer
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op until it succeeds, the attempt budget is exhausted or the error
// is not retryable. The last error is returned unchanged. Context errors are
// never retried.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context, attempt int) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = wait
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt == attempts || !retryable(ctx, policy, err) {
			return err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
		if policy.Delay > 0 {
			if serr := sleep(ctx, policy.Delay); serr != nil {
				return serr
			}
		}
	}
	return err
}

func retryable(ctx context.Context, policy Policy, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return false
	}
	if policy.Retryable == nil {
		return true
	}
	return policy.Retryable(err)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
