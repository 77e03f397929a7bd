package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ojobatch/ojo/pkg/config"
	"github.com/ojobatch/ojo/pkg/database"
	"github.com/ojobatch/ojo/pkg/events"
)

// WorkerPool manages the task queue workers and the cancel registry.
type WorkerPool struct {
	store    *database.TaskStore
	cfg      config.QueueConfig
	executor TaskExecutor
	bus      *events.Bus
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once

	// Task cancel registry: task id → cancel hook.
	mu          sync.RWMutex
	activeTasks map[int64]func()
	started     bool
}

// NewWorkerPool creates a pool; Start spawns the workers.
func NewWorkerPool(store *database.TaskStore, cfg config.QueueConfig, executor TaskExecutor, bus *events.Bus) *WorkerPool {
	return &WorkerPool{
		store:       store,
		cfg:         cfg,
		executor:    executor,
		bus:         bus,
		workers:     make([]*Worker, 0, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
		activeTasks: make(map[int64]func()),
	}
}

// Start spawns worker goroutines. Safe to call twice; the second call is
// a no-op.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "worker_count", p.cfg.WorkerCount,
		"max_global_tasks", p.cfg.MaxGlobalTasks)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.store, p.cfg, p.executor, p, p.bus)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
	return nil
}

// Stop signals all workers to stop and waits for them. Workers finish
// their current tasks before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	if n := p.activeCount(); n > 0 {
		slog.Info("Waiting for active tasks to complete", "count", n)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	slog.Info("Worker pool stopped")
}

// CancelAll triggers cancellation on every running task, without waiting.
func (p *WorkerPool) CancelAll() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, cancel := range p.activeTasks {
		cancel()
	}
}

// RegisterTask stores a cancel hook for API-triggered cancellation.
func (p *WorkerPool) RegisterTask(taskID int64, cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTasks[taskID] = cancel
}

// UnregisterTask removes the cancel hook when processing ends.
func (p *WorkerPool) UnregisterTask(taskID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeTasks, taskID)
}

// CancelTask triggers cancellation of a running task. Returns false when
// the task is not running here.
func (p *WorkerPool) CancelTask(taskID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeTasks[taskID]; ok {
		cancel()
		return true
	}
	return false
}

// IsRunning reports whether a task is currently executing on this pool.
func (p *WorkerPool) IsRunning(taskID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.activeTasks[taskID]
	return ok
}

// Health returns the pool health snapshot.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.store.CountPending(ctx)
	running, errR := p.store.CountRunning(ctx)

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		workerStats[i] = worker.Health()
		if workerStats[i].Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil && errR == nil
	var dbError string
	if errQ != nil {
		dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
	} else if errR != nil {
		dbError = fmt.Sprintf("running tasks query failed: %v", errR)
	}

	return &PoolHealth{
		IsHealthy:     len(p.workers) > 0 && dbHealthy && running <= p.cfg.MaxGlobalTasks,
		DBReachable:   dbHealthy,
		DBError:       dbError,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		RunningTasks:  running,
		MaxConcurrent: p.cfg.MaxGlobalTasks,
		QueueDepth:    queueDepth,
		WorkerStats:   workerStats,
	}
}

func (p *WorkerPool) activeCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.activeTasks)
}
