package backoff

import (
	"context"
	"time"
)

// SleepWithContext blocks for duration, returning early with ctx.Err() if
// ctx is canceled first. A non-positive duration returns immediately.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepWithBackoff computes the delay for attempt under policy and sleeps
// that long, or until ctx is canceled.
func SleepWithBackoff(ctx context.Context, policy BackoffPolicy, attempt int) error {
	return SleepWithContext(ctx, ComputeBackoff(policy, attempt))
}
