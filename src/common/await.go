package common

import (
	"errors"
	"time"
)

// ErrAwaitTimeout is returned by Await when the predicate does not become true
// before the deadline.
var ErrAwaitTimeout = errors.New("await timeout")

// DefaultAwaitInterval is the polling interval used by Await when the caller
// passes a non-positive interval.
const DefaultAwaitInterval = 100 * time.Millisecond

// Await polls pred at the given interval until it returns true, the timeout
// expires, or the stop channel is closed. It never spins; the interval bounds
// how often pred is evaluated. A nil stop channel disables cancellation.
func Await(pred func() bool, timeout time.Duration, interval time.Duration, stop <-chan struct{}) error {
	if interval <= 0 {
		interval = DefaultAwaitInterval
	}

	if pred() {
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if pred() {
				return nil
			}
		case <-deadline.C:
			return ErrAwaitTimeout
		case <-stop:
			return ErrAwaitTimeout
		}
	}
}
