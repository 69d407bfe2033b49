// Package clock holds the cancellable waits shared by the client, the server
// and the experiment runner.
package clock

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is done, and reports whether the full wait
// elapsed. A non-positive d returns at once with ctx's state.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Until caps d at the time left before deadline, never going below zero.
func Until(deadline time.Time, d time.Duration) time.Duration {
	left := time.Until(deadline)
	if left < d {
		d = left
	}
	if d < 0 {
		return 0
	}
	return d
}
