// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do invokes fn up to maxAttempts times, sleeping between attempts with
// exponential backoff. The context deadline bounds the whole sequence: a
// cancelled or expired context stops retrying immediately and returns the
// context error wrapped with the last attempt's failure.
func Do(ctx context.Context, fn func(ctx context.Context) error, maxAttempts int, initialDelay time.Duration, multiplier float64) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if multiplier < 1 {
		multiplier = 1
	}

	var lastErr error
	delay := initialDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last attempt: %v)", err, lastErr)
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last attempt: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * multiplier)
	}
	return lastErr
}
