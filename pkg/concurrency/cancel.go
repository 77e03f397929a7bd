package concurrency

import (
	"sync/atomic"
	"time"
)

// CancelToken carries a single cancelled flag updated atomically.
// Long-running loops probe it between iterations and before every sleep.
type CancelToken struct {
	flag atomic.Bool
}

// NewCancelToken returns a fresh, uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel marks the token cancelled. Idempotent.
func (t *CancelToken) Cancel() {
	t.flag.Store(true)
}

// Cancelled reports whether the token has been cancelled.
func (t *CancelToken) Cancelled() bool {
	return t.flag.Load()
}

// sleepProbeInterval bounds how long a cancellation can go unobserved
// inside an interruptible sleep.
const sleepProbeInterval = 500 * time.Millisecond

// InterruptibleSleep sleeps up to d, probing the cancel check every
// 500 ms. Returns true when the sleep completed, false when it was cut
// short by cancellation. A nil probe degrades to a plain sleep.
func InterruptibleSleep(d time.Duration, cancelled func() bool) bool {
	if cancelled == nil {
		time.Sleep(d)
		return true
	}
	deadline := time.Now().Add(d)
	for {
		if cancelled() {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining > sleepProbeInterval {
			remaining = sleepProbeInterval
		}
		time.Sleep(remaining)
	}
}
