package retryutil

import (
	"context"
	"log/slog"
	"time"
)

// Do runs op up to attempts times with a fixed delay between failures,
// returning nil on the first success and the last error otherwise.
// there is deliberately no backoff or jitter, each call site picks its
// own bound and spacing.
func Do(ctx context.Context, attempts int, delay time.Duration, op func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = op()
		if err == nil {
			return nil
		}
		slog.DebugContext(ctx, "retryable operation failed", "attempt", attempt, "of", attempts, "err", err)
	}
	return err
}
