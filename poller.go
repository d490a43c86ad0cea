package redisipc

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
)

// tryFunc is a single non-blocking probe. ok reports whether a value was
// found; err is a store or decode failure and is never retried.
type tryFunc[T any] func(ctx context.Context) (T, bool, error)

// pollUntil turns a non-blocking probe into a blocking call bounded by
// timeout. A zero timeout means exactly one try. Absence is retried after
// sleeping interval; errors fail fast. Elapsed time is measured with clk so
// tests can substitute a deterministic clock and sleep.
func pollUntil[T any](
	ctx context.Context,
	clk xclock.Clock,
	sleep func(ctx context.Context, d time.Duration) error,
	interval, timeout time.Duration,
	try tryFunc[T],
) (T, error) {
	var zero T
	start := clk.Now()

	for {
		v, ok, err := try(ctx)
		if err != nil {
			return zero, err
		}
		if ok {
			return v, nil
		}

		elapsed := clk.Since(start)
		if elapsed >= timeout {
			return zero, ErrTimeout
		}

		wait := interval
		if remaining := timeout - elapsed; remaining < wait {
			wait = remaining
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}
