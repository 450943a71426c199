// Package retry wraps calls to unreliable backends with bounded, jittered
// exponential backoff. Retryability is a pure match over fault kinds; attempts
// for one logical call are strictly sequential.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("carecore/retry")

// Policy holds the knobs for one class of calls. It is stateless and safe to
// share across goroutines.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 behave as 1.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterMax   time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil means DefaultRetryable.
	Retryable func(error) bool

	// OnAttempt, when set, observes each failed attempt (0-indexed) before
	// the backoff sleep. The final failure is not reported here; it reaches
	// the caller as the returned error.
	OnAttempt func(attempt int, err error)

	// randInt64 pins the jitter source in tests.
	randInt64 func(int64) int64
}

// ExhaustedError reports that every allowed attempt failed. It wraps the last
// underlying error.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op under the policy. Non-retryable failures propagate unchanged and
// immediately; once attempts are exhausted the last error is returned wrapped
// in *ExhaustedError.
func Do(ctx context.Context, policy Policy, operation string, op func(context.Context) error) error {
	_, err := DoValue(ctx, policy, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a result.
func DoValue[T any](ctx context.Context, policy Policy, operation string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	ctx, span := tracer.Start(ctx, "retry."+operation,
		trace.WithAttributes(attribute.Int("retry.max_attempts", attempts)))
	defer span.End()

	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			span.SetAttributes(attribute.Int("retry.attempts_used", attempt+1))
			return v, nil
		}

		if !retryable(err) {
			// Propagate unchanged so callers can match the origin kind.
			return zero, err
		}
		if attempt == attempts-1 {
			return zero, &ExhaustedError{Operation: operation, Attempts: attempts, Err: err}
		}

		if policy.OnAttempt != nil {
			policy.OnAttempt(attempt, err)
		}
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("retry.attempt", attempt),
			attribute.String("retry.error", err.Error()),
		))

		delay := delayFor(attempt, policy.BaseDelay, policy.MaxDelay, policy.JitterMax, policy.randInt64)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
