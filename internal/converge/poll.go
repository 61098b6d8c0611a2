package converge

import (
	"context"
	"time"
)

// Until evaluates cond every interval until it returns true or timeout elapses.
// The first check happens after one interval. It returns false on timeout or
// when ctx is done.
func Until(ctx context.Context, interval, timeout time.Duration, cond func() bool) bool {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return cond()
		case <-tick.C:
			if cond() {
				return true
			}
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
