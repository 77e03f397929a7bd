package concurrency

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SubmitGate serializes remote submissions process-wide and enforces a
// minimum interval between consecutive submits. The holder keeps the gate
// over the submit RPC and the immediately-following first-poll delay, so
// two concurrent tasks can never hit the judge inside the same interval.
type SubmitGate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewSubmitGate creates a gate with the given minimum interval between
// submissions (default 1s when non-positive).
func NewSubmitGate(minInterval time.Duration) *SubmitGate {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &SubmitGate{
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Acquire takes exclusive hold of the gate, waiting out the minimum
// interval since the previous submission. Release must be called when the
// submit plus first poll sequence is finished.
func (g *SubmitGate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if err := g.limiter.Wait(ctx); err != nil {
		g.mu.Unlock()
		return err
	}
	return nil
}

// Release gives up the gate.
func (g *SubmitGate) Release() {
	g.mu.Unlock()
}

// RateLimitGate is the process-wide cooldown shared across tasks: when
// any task is told by the judge to slow down, every task waits out the
// cooldown before its next submission instead of each discovering the
// limit on its own. Disabled gates are no-ops.
type RateLimitGate struct {
	enabled bool

	mu            sync.Mutex
	cooldownUntil time.Time
	hits          int
}

// NewRateLimitGate creates a gate. Pass enabled=false to let each task
// discover rate limits on its own.
func NewRateLimitGate(enabled bool) *RateLimitGate {
	return &RateLimitGate{enabled: enabled}
}

// SetCooldown extends the global cooldown to now+d if that is later than
// the current deadline.
func (g *RateLimitGate) SetCooldown(d time.Duration) {
	if !g.enabled {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(g.cooldownUntil) {
		g.cooldownUntil = until
		g.hits++
	}
}

// Wait blocks until the cooldown has elapsed or the probe reports
// cancellation. Returns false on cancellation.
func (g *RateLimitGate) Wait(cancelled func() bool) bool {
	if !g.enabled {
		return true
	}
	g.mu.Lock()
	remaining := time.Until(g.cooldownUntil)
	g.mu.Unlock()
	if remaining <= 0 {
		return true
	}
	return InterruptibleSleep(remaining, cancelled)
}

// Stats reports hit count and whether the gate is currently cooling.
func (g *RateLimitGate) Stats() (hits int, cooling bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits, time.Now().Before(g.cooldownUntil)
}
