package retry

import (
	"context"
	"fmt"

	"github.com/jzx17/triageflow/pkg/types"
)

// AttemptFunc is notified after every failed attempt
type AttemptFunc func(attempt int, err error)

// Do runs fn until it succeeds, the policy gives up, or ctx is cancelled.
// Delays are measured on clock so tests can drive them.
func Do[T any](ctx context.Context, policy Policy, clock types.Clock, onFailure AttemptFunc, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if policy == nil {
		policy = Never()
	}
	clock = types.OrRealClock(clock)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, types.Interrupted(err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if onFailure != nil {
			onFailure(attempt, err)
		}

		if !policy.ShouldRetry(err, attempt) {
			if attempt > 1 {
				return zero, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
			}
			return zero, err
		}

		delay := policy.NextDelay(attempt)
		if delay <= 0 {
			continue
		}

		timer := clock.NewTimer(delay)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return zero, types.Interrupted(ctx.Err())
		}
	}
}
