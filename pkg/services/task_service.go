// Package services implements the application layer between the HTTP API
// and the queue/pipeline machinery: batch task creation, ownership-scoped
// reads, cancellation, in-place retries, and background artifact cleanup.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ojobatch/ojo/pkg/database"
	"github.com/ojobatch/ojo/pkg/events"
	"github.com/ojobatch/ojo/pkg/models"
	"github.com/ojobatch/ojo/pkg/pipeline"
	"github.com/ojobatch/ojo/pkg/problemid"
	"github.com/ojobatch/ojo/pkg/queue"
	"github.com/ojobatch/ojo/pkg/workspace"
)

// Service-level errors surfaced to the API layer.
var (
	// ErrTaskRunning is returned when an operation requires a task that
	// is not currently executing.
	ErrTaskRunning = errors.New("task is currently running")

	// ErrRetryInFlight is returned when a retry of the same task has
	// been requested but not yet requeued.
	ErrRetryInFlight = errors.New("a retry of this task is already in flight")

	// ErrInvalidModule is returned for an unknown retry module name.
	ErrInvalidModule = errors.New("invalid module name")

	// ErrNotRetryable is returned when the task is not in a terminal state.
	ErrNotRetryable = errors.New("only finished tasks can be retried")

	// ErrShuttingDown is returned when the service no longer accepts work.
	ErrShuttingDown = errors.New("service is shutting down")
)

// executeTasksPollInterval is how often ExecuteTasks re-reads task rows
// while waiting for them to reach a terminal state.
const executeTasksPollInterval = 500 * time.Millisecond

// TaskService owns the task lifecycle: creation, visibility, cancel,
// retry, delete, and shutdown draining. Execution itself is driven by the
// worker pool claiming pending rows.
type TaskService struct {
	store    *database.TaskStore
	pool     *queue.WorkerPool
	ws       *workspace.Manager
	resolver *problemid.Resolver
	bus      *events.Bus

	// defaultTarget fills TaskConfig.TargetAdapter when the caller
	// picked no destination.
	defaultTarget string

	shuttingDown atomic.Bool

	// Per-task retry guard: a second retry request is rejected while the
	// first is still being requeued.
	retryMu  sync.Mutex
	retrying map[int64]struct{}
}

// NewTaskService creates the task service.
func NewTaskService(store *database.TaskStore, pool *queue.WorkerPool, ws *workspace.Manager, resolver *problemid.Resolver, bus *events.Bus, defaultTarget string) *TaskService {
	return &TaskService{
		store:         store,
		pool:          pool,
		ws:            ws,
		resolver:      resolver,
		bus:           bus,
		defaultTarget: defaultTarget,
		retrying:      make(map[int64]struct{}),
	}
}

// CreateResult is the per-problem outcome of a batch creation.
type CreateResult struct {
	TaskID    int64  `json:"task_id,omitempty"`
	ProblemID string `json:"problem_id"`
	Error     string `json:"error,omitempty"`
}

// CreateTasks allocates one pending task row per problem. A failure on
// one problem degrades to a per-item error and never fails the batch.
// Created rows are picked up by the worker pool without further action.
func (s *TaskService) CreateTasks(ctx context.Context, userID int64, problemIDs []string, cfg models.TaskConfig) []CreateResult {
	if cfg.TargetAdapter == "" {
		cfg.TargetAdapter = s.defaultTarget
	}
	results := make([]CreateResult, 0, len(problemIDs))
	for _, raw := range problemIDs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			results = append(results, CreateResult{ProblemID: raw, Error: "empty problem id"})
			continue
		}
		if s.shuttingDown.Load() {
			results = append(results, CreateResult{ProblemID: raw, Error: ErrShuttingDown.Error()})
			continue
		}

		canonical := s.resolver.Canonicalize(raw)
		task, err := s.store.Create(ctx, userID, canonical, cfg)
		if err != nil {
			slog.Warn("Failed to create task", "user_id", userID, "problem_id", canonical, "error", err)
			results = append(results, CreateResult{ProblemID: canonical, Error: err.Error()})
			continue
		}
		results = append(results, CreateResult{TaskID: task.ID, ProblemID: canonical})
	}
	return results
}

// CreateManualTask creates a task for a pasted statement. The statement
// is written into the workspace under a generated "manual_<timestamp>"
// id, so the fetch stage finds it without touching any network origin.
func (s *TaskService) CreateManualTask(ctx context.Context, userID int64, title, statement string, cfg models.TaskConfig) (*models.Task, error) {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return nil, errors.New("empty statement")
	}
	if title == "" {
		title = firstLine(statement)
	}
	if cfg.TargetAdapter == "" {
		cfg.TargetAdapter = s.defaultTarget
	}

	canonical := fmt.Sprintf("manual_%d", time.Now().UnixMilli())
	dir := s.ws.Dir(userID, canonical)
	if err := s.ws.Save(dir, &models.ProblemData{
		ID:          canonical,
		Source:      "manual",
		Title:       title,
		Description: statement,
	}); err != nil {
		return nil, fmt.Errorf("saving pasted statement: %w", err)
	}

	task, err := s.store.Create(ctx, userID, canonical, cfg)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ExecuteTasks blocks until every listed task reaches a terminal state,
// the context is cancelled, or the service starts shutting down.
func (s *TaskService) ExecuteTasks(ctx context.Context, taskIDs []int64) error {
	remaining := make(map[int64]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		remaining[id] = struct{}{}
	}

	ticker := time.NewTicker(executeTasksPollInterval)
	defer ticker.Stop()

	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if s.shuttingDown.Load() {
			return ErrShuttingDown
		}

		for id := range remaining {
			task, err := s.store.Get(ctx, id)
			if errors.Is(err, database.ErrNotFound) {
				// Deleted while waiting counts as finished.
				delete(remaining, id)
				continue
			}
			if err != nil {
				return err
			}
			if task.Status.IsTerminal() {
				delete(remaining, id)
			}
		}
	}
	return nil
}

// GetTask returns a task visible to the caller. Rows owned by other
// users are indistinguishable from missing rows unless the caller is an
// admin.
func (s *TaskService) GetTask(ctx context.Context, taskID, callerID int64, isAdmin bool) (*models.Task, error) {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != callerID && !isAdmin {
		return nil, database.ErrNotFound
	}
	return task, nil
}

// GetUserTasks lists one user's tasks with server-side filtering.
// userID 0 lists across all users (admin listing).
func (s *TaskService) GetUserTasks(ctx context.Context, userID int64, f models.TaskFilter) ([]*models.Task, error) {
	return s.store.List(ctx, userID, f)
}

// GetTaskLogs returns the current pipeline.log contents for a task, or
// "" when the log does not exist yet.
func (s *TaskService) GetTaskLogs(ctx context.Context, taskID, callerID int64, isAdmin bool) (string, error) {
	task, err := s.GetTask(ctx, taskID, callerID, isAdmin)
	if err != nil {
		return "", err
	}
	dir := s.ws.Dir(task.UserID, task.ProblemID)
	data, err := os.ReadFile(workspace.LogPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading pipeline log: %w", err)
	}
	return string(data), nil
}

// CancelTask requests cancellation. Running tasks unwind at their next
// cancellation check and the worker writes the terminal state; pending
// tasks are failed directly here.
func (s *TaskService) CancelTask(ctx context.Context, taskID, callerID int64, isAdmin bool) error {
	task, err := s.GetTask(ctx, taskID, callerID, isAdmin)
	if err != nil {
		return err
	}

	if s.pool.CancelTask(taskID) {
		slog.Info("Cancellation requested for running task", "task_id", taskID)
		return nil
	}

	switch task.Status {
	case models.TaskStatusPending, models.TaskStatusRunning:
		// Pending, or claimed by a previous process that died. Fail in
		// place; there is no worker to write the terminal state.
		if err := s.store.SetProgress(ctx, taskID, "cancelled", 0); err != nil {
			return err
		}
		if err := s.store.Finish(ctx, taskID, models.TaskStatusFailed, pipeline.CancelledMessage); err != nil {
			return err
		}
		if s.bus != nil {
			s.bus.Publish(models.ProgressEvent{
				Type:      events.EventTaskCancelled,
				TaskID:    task.ID,
				UserID:    task.UserID,
				ProblemID: task.ProblemID,
				Stage:     "cancelled",
				Message:   pipeline.CancelledMessage,
			})
		}
		return nil
	default:
		return fmt.Errorf("task %d already finished", taskID)
	}
}

// RetryTask requeues a finished task in place, re-running the selected
// module. Running tasks cannot be retried, a second retry is rejected
// while one is in flight, and an admin retry keeps the owner's stored
// configuration, recording the acting admin on the row.
func (s *TaskService) RetryTask(ctx context.Context, taskID, callerID int64, moduleName string, isAdmin bool) error {
	if s.shuttingDown.Load() {
		return ErrShuttingDown
	}

	sel, ok := models.ParseModule(moduleName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidModule, moduleName)
	}

	task, err := s.GetTask(ctx, taskID, callerID, isAdmin)
	if err != nil {
		return err
	}
	if task.Status == models.TaskStatusRunning || s.pool.IsRunning(taskID) {
		return ErrTaskRunning
	}

	if !s.beginRetry(taskID) {
		return ErrRetryInFlight
	}
	defer s.endRetry(taskID)

	// The stored config is the owner's; an admin retry reuses it as-is,
	// only the module selection changes.
	cfg, err := s.store.Config(ctx, taskID)
	if err != nil {
		return err
	}
	cfg.EnableFetch = sel.Fetch
	cfg.EnableGeneration = sel.Gen
	cfg.EnableUpload = sel.Upload
	cfg.EnableSolve = sel.Solve

	var retriedBy *int64
	if isAdmin && callerID != task.UserID {
		retriedBy = &callerID
	}

	if err := s.store.Requeue(ctx, taskID, cfg, retriedBy); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotRetryable
		}
		return err
	}
	slog.Info("Task requeued for retry", "task_id", taskID, "module", moduleName,
		"caller_id", callerID, "owner_id", task.UserID)
	return nil
}

// DeleteTask removes the row immediately and schedules artifact deletion
// in the background. Running tasks are cancelled first.
func (s *TaskService) DeleteTask(ctx context.Context, taskID, callerID int64, isAdmin bool) error {
	task, err := s.GetTask(ctx, taskID, callerID, isAdmin)
	if err != nil {
		return err
	}

	if s.pool.CancelTask(taskID) {
		slog.Info("Cancelled running task before delete", "task_id", taskID)
	}
	if err := s.store.Delete(ctx, taskID); err != nil {
		return err
	}

	go s.DeleteTaskData(task.UserID, task.ProblemID)
	return nil
}

// DeleteTaskData removes a task's artifact set, unless it is
// AC-confirmed: a verified problem's tests and solution are kept for
// reuse even after the row is gone.
func (s *TaskService) DeleteTaskData(userID int64, problemID string) {
	dir := s.ws.Dir(userID, problemID)
	if s.ws.IsCompleted(dir) {
		slog.Info("Keeping AC-confirmed artifact set", "user_id", userID, "problem_id", problemID)
		return
	}
	if err := s.ws.Delete(dir); err != nil {
		slog.Warn("Failed to delete artifact set", "user_id", userID,
			"problem_id", problemID, "error", err)
		return
	}
	slog.Info("Artifact set deleted", "user_id", userID, "problem_id", problemID)
}

// Shutdown stops accepting work and cancels every in-flight task. With
// wait set it also blocks until the workers have drained.
func (s *TaskService) Shutdown(wait bool) {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	slog.Info("Task service shutting down", "wait", wait)
	s.pool.CancelAll()
	if wait {
		s.pool.Stop()
	}
}

func (s *TaskService) beginRetry(taskID int64) bool {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	if _, inFlight := s.retrying[taskID]; inFlight {
		return false
	}
	s.retrying[taskID] = struct{}{}
	return true
}

func (s *TaskService) endRetry(taskID int64) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	delete(s.retrying, taskID)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(strings.TrimLeft(s, "# "))
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		s = "Untitled problem"
	}
	return s
}
