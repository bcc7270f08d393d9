package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	conflictRetries   = 3
	conflictBaseDelay = 50 * time.Millisecond
)

// RetryOnConflict runs fn, retrying with exponential backoff (50ms, 100ms)
// while it fails with a SQLite concurrency error. Other errors are returned
// immediately. The wait is abandoned if ctx is done.
func RetryOnConflict(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsSQLiteConflictError(err) {
			return err
		}
		if i == conflictRetries-1 {
			break
		}

		delay := conflictBaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, conflictRetries, err)
}
