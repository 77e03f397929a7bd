package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ojobatch/ojo/pkg/concurrency"
	"github.com/ojobatch/ojo/pkg/config"
	"github.com/ojobatch/ojo/pkg/database"
	"github.com/ojobatch/ojo/pkg/events"
	"github.com/ojobatch/ojo/pkg/metrics"
	"github.com/ojobatch/ojo/pkg/models"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// TaskRegistry is the subset of WorkerPool used by Worker for task
// registration.
type TaskRegistry interface {
	RegisterTask(taskID int64, cancel func())
	UnregisterTask(taskID int64)
}

// Worker is a single queue worker that polls for and processes tasks.
type Worker struct {
	id       string
	store    *database.TaskStore
	cfg      config.QueueConfig
	executor TaskExecutor
	pool     TaskRegistry
	bus      *events.Bus
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  int64
	tasksProcessed int
	lastActivity   time.Time
}

// NewWorker creates a queue worker.
func NewWorker(id string, store *database.TaskStore, cfg config.QueueConfig, executor TaskExecutor, pool TaskRegistry, bus *events.Bus) *Worker {
	return &Worker{
		id:           id,
		store:        store,
		cfg:          cfg,
		executor:     executor,
		pool:         pool,
		bus:          bus,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// task. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing task", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// pollInterval returns the base interval plus random jitter, spreading
// concurrent workers' claim attempts.
func (w *Worker) pollInterval() time.Duration {
	d := w.cfg.PollInterval
	if j := w.cfg.PollIntervalJitter; j > 0 {
		d += time.Duration(rand.Int64N(int64(2*j))) - j
	}
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next task and runs it to a terminal state.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	task, err := w.store.ClaimNextPending(ctx, w.cfg.MaxGlobalTasks)
	if err != nil {
		return err
	}

	log := slog.With("task_id", task.ID, "worker_id", w.id, "problem_id", task.ProblemID)
	log.Info("Task claimed")
	metrics.RunningTasks.Inc()
	defer metrics.RunningTasks.Dec()

	w.setStatus(WorkerStatusWorking, task.ID)
	defer w.setStatus(WorkerStatusIdle, 0)

	taskCtx, cancelTask := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancelTask()

	// The token carries API-triggered cancellation; the context carries
	// timeout and shutdown. The executor probes both.
	token := concurrency.NewCancelToken()
	cancelled := func() bool {
		return token.Cancelled() || taskCtx.Err() != nil
	}
	w.pool.RegisterTask(task.ID, func() {
		token.Cancel()
		cancelTask()
	})
	defer w.pool.UnregisterTask(task.ID)

	start := time.Now()
	result := w.executor.Execute(taskCtx, task, cancelled)
	metrics.TaskDuration.Observe(time.Since(start).Seconds())

	if result == nil {
		switch {
		case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
			result = &ExecutionResult{
				Status:       models.TaskStatusFailed,
				Stage:        "failed",
				ErrorMessage: fmt.Sprintf("task timed out after %v", w.cfg.TaskTimeout),
			}
		case token.Cancelled() || errors.Is(taskCtx.Err(), context.Canceled):
			result = &ExecutionResult{
				Status:       models.TaskStatusFailed,
				Stage:        "cancelled",
				ErrorMessage: "任务被取消",
			}
		default:
			result = &ExecutionResult{
				Status:       models.TaskStatusFailed,
				Stage:        "failed",
				ErrorMessage: "executor returned nil result",
			}
		}
	}

	// Terminal write uses a background context: the task context may
	// already be cancelled.
	if err := w.finishTask(context.Background(), task, result); err != nil {
		log.Error("Failed to update task terminal status", "error", err)
		return err
	}

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("Task processing complete", "status", result.Status.String(), "stage", result.Stage)
	return nil
}

// finishTask persists the terminal row state and records metrics.
func (w *Worker) finishTask(ctx context.Context, task *models.Task, result *ExecutionResult) error {
	if result.UploadedURL != "" {
		if err := w.store.SetUploadedURL(ctx, task.ID, result.UploadedURL); err != nil {
			slog.Warn("Failed to persist uploaded URL", "task_id", task.ID, "error", err)
		}
	}
	if err := w.store.SetProgress(ctx, task.ID, result.Stage, finalProgress(result.Status)); err != nil {
		slog.Warn("Failed to persist final stage", "task_id", task.ID, "error", err)
	}
	if err := w.store.Finish(ctx, task.ID, result.Status, result.ErrorMessage); err != nil {
		return err
	}

	metrics.TasksFinished.WithLabelValues(terminalLabel(result)).Inc()

	if w.bus != nil {
		w.bus.Publish(models.ProgressEvent{
			Type:      TerminalEventType(result),
			TaskID:    task.ID,
			UserID:    task.UserID,
			ProblemID: task.ProblemID,
			Stage:     result.Stage,
			Message:   result.ErrorMessage,
		})
	}
	return nil
}

func finalProgress(status models.TaskStatus) int {
	if status == models.TaskStatusCompleted {
		return 100
	}
	return 0
}

func terminalLabel(result *ExecutionResult) string {
	if result.Stage == "cancelled" {
		return "cancelled"
	}
	return result.Status.String()
}

// TerminalEventType maps a result onto its bus event type.
func TerminalEventType(result *ExecutionResult) string {
	switch {
	case result.Stage == "cancelled":
		return events.EventTaskCancelled
	case result.Status == models.TaskStatusCompleted:
		return events.EventTaskCompleted
	default:
		return events.EventTaskFailed
	}
}

func (w *Worker) setStatus(status WorkerStatus, taskID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}
