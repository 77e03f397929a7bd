// Package concurrency provides the shared execution primitives: named
// semaphores for global resource slots, cancellation tokens,
// interruptible sleeps, retry with back-off, and the submit/rate-limit
// gates that serialize traffic against remote judges.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrAcquireTimeout is returned when a slot could not be acquired within
// the caller's timeout. Callers treat it as a retryable attempt failure.
var ErrAcquireTimeout = errors.New("semaphore acquire timeout")

// Slot names of the process-wide semaphore pool.
const (
	SlotLLM         = "llm"
	SlotRemoteRead  = "remote_read"
	SlotRemoteWrite = "remote_write"
	SlotCompile     = "compile"
)

// SemaphorePool holds the process-global named slots:
// LLM calls, remote reads, remote writes, and compile-heavy validation.
// The write slot is kept strictly smaller than the read slot to stay
// within judge rate limits.
type SemaphorePool struct {
	slots map[string]*semaphore.Weighted
}

// PoolLimits configures the pool. Zero values fall back to defaults.
type PoolLimits struct {
	LLM         int64
	RemoteRead  int64
	RemoteWrite int64
	Compile     int64
}

// NewSemaphorePool builds the pool, clamping every limit to at least 1
// and the write limit to below the read limit.
func NewSemaphorePool(l PoolLimits) *SemaphorePool {
	if l.LLM < 1 {
		l.LLM = 2
	}
	if l.RemoteRead < 1 {
		l.RemoteRead = 2
	}
	if l.RemoteWrite < 1 {
		l.RemoteWrite = 1
	}
	if l.RemoteWrite >= l.RemoteRead {
		l.RemoteWrite = l.RemoteRead - 1
		if l.RemoteWrite < 1 {
			l.RemoteWrite = 1
			l.RemoteRead = 2
		}
	}
	if l.Compile < 1 {
		l.Compile = 1
	}
	return &SemaphorePool{
		slots: map[string]*semaphore.Weighted{
			SlotLLM:         semaphore.NewWeighted(l.LLM),
			SlotRemoteRead:  semaphore.NewWeighted(l.RemoteRead),
			SlotRemoteWrite: semaphore.NewWeighted(l.RemoteWrite),
			SlotCompile:     semaphore.NewWeighted(l.Compile),
		},
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned
// release function must be called exactly once.
func (p *SemaphorePool) Acquire(ctx context.Context, name string) (release func(), err error) {
	sem, ok := p.slots[name]
	if !ok {
		return nil, fmt.Errorf("unknown semaphore slot %q", name)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// AcquireTimeout acquires a slot with its own timeout, independent of the
// caller's context deadline. On timeout it returns ErrAcquireTimeout.
func (p *SemaphorePool) AcquireTimeout(ctx context.Context, name string, timeout time.Duration) (release func(), err error) {
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	release, err = p.Acquire(acquireCtx, name)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: slot %q after %v", ErrAcquireTimeout, name, timeout)
		}
		return nil, err
	}
	return release, nil
}
