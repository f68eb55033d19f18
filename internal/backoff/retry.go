package backoff

import (
	"context"
	"errors"
)

// ErrMaxAttemptsExhausted is returned when fn never succeeds within maxAttempts.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// RetryResult holds the outcome of a RetryWithBackoff call.
type RetryResult[T any] struct {
	Value     T
	Attempts  int   // number of attempts made, 1-indexed
	LastError error // the error from the final attempt, if any
}

// RetryWithBackoff calls fn up to maxAttempts times, sleeping according to
// policy between failures. fn receives the current attempt number
// (1-indexed) and returns (value, nil) on success or (zero, error) to
// trigger another attempt. Context cancellation is checked before each
// attempt and during the sleep between attempts.
func RetryWithBackoff[T any](
	ctx context.Context,
	policy BackoffPolicy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	var result RetryResult[T]
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		// Check context before each attempt
		if err := ctx.Err(); err != nil {
			result.LastError = lastErr
			return result, err
		}

		// Execute the function
		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}

		lastErr = err
		result.LastError = err

		// Don't sleep after the last attempt
		if attempt < maxAttempts {
			if err := SleepWithBackoff(ctx, policy, attempt); err != nil {
				return result, err
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}

// RetryFunc wraps RetryWithBackoff with DefaultPolicy, discarding the
// attempt count for callers that only care about the final value.
func RetryFunc[T any](
	ctx context.Context,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (T, error) {
	result, err := RetryWithBackoff(ctx, DefaultPolicy(), maxAttempts, fn)
	return result.Value, err
}
