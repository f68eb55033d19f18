package llm

import (
	"context"

	"github.com/chatd-agent/chatd/internal/backoff"
)

// openWithRetry attempts to open a provider stream, retrying with jittered
// exponential backoff (internal/backoff.DefaultPolicy) while the error is
// classified as retryable, and returning immediately otherwise. It never
// retries once the stream itself has started: only the initial connection
// is retried, since re-issuing a request mid-stream would risk duplicating
// already-emitted tokens.
func openWithRetry[T any](ctx context.Context, maxAttempts int, open func() (T, error)) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := open()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
		if attempt < maxAttempts {
			if serr := backoff.SleepWithContext(ctx, backoff.ComputeBackoff(backoff.DefaultPolicy(), attempt)); serr != nil {
				return zero, serr
			}
		}
	}
	return zero, lastErr
}
