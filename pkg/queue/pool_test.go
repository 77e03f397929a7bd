package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ojobatch/ojo/pkg/config"
	"github.com/ojobatch/ojo/pkg/database"
	"github.com/ojobatch/ojo/pkg/events"
	"github.com/ojobatch/ojo/pkg/models"
)

// stubExecutor delegates to a function, standing in for the pipeline.
type stubExecutor struct {
	fn func(ctx context.Context, task *models.Task, cancelled func() bool) *ExecutionResult
}

func (s *stubExecutor) Execute(ctx context.Context, task *models.Task, cancelled func() bool) *ExecutionResult {
	return s.fn(ctx, task, cancelled)
}

func newTestStore(t *testing.T) (*database.TaskStore, int64) {
	t.Helper()
	c, err := database.NewClient(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	userID, err := database.NewUserStore(c).Ensure(context.Background(), "tester")
	require.NoError(t, err)
	return database.NewTaskStore(c), userID
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		WorkerCount:    1,
		MaxGlobalTasks: 10,
		PollInterval:   20 * time.Millisecond,
		TaskTimeout:    5 * time.Second,
	}
}

// eventRecorder collects bus events across goroutines.
type eventRecorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *eventRecorder) handle(ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func TestPoolProcessesTask(t *testing.T) {
	store, userID := newTestStore(t)
	bus := events.NewBus()
	var rec eventRecorder
	bus.Subscribe(events.EventTaskCompleted, rec.handle)

	executor := &stubExecutor{fn: func(ctx context.Context, task *models.Task, cancelled func() bool) *ExecutionResult {
		return &ExecutionResult{
			Status:      models.TaskStatusCompleted,
			Stage:       "solve",
			UploadedURL: "https://hydro.ac/d/system/p/P77",
		}
	}}

	pool := NewWorkerPool(store, testQueueConfig(), executor, bus)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	task, err := store.Create(context.Background(), userID, "luogu_P1001", models.TaskConfig{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), task.ID)
		return err == nil && got.Status == models.TaskStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "https://hydro.ac/d/system/p/P77", got.UploadedURL)
	// The terminal event publishes just after the row write.
	require.Eventually(t, func() bool {
		for _, typ := range rec.types() {
			if typ == events.EventTaskCompleted {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestPoolCancelTask(t *testing.T) {
	store, userID := newTestStore(t)
	bus := events.NewBus()
	var rec eventRecorder
	bus.Subscribe(events.EventTaskCancelled, rec.handle)

	started := make(chan int64, 1)
	executor := &stubExecutor{fn: func(ctx context.Context, task *models.Task, cancelled func() bool) *ExecutionResult {
		started <- task.ID
		for !cancelled() {
			time.Sleep(5 * time.Millisecond)
		}
		// A nil result after cancellation lets the worker synthesize
		// the cancelled terminal state.
		return nil
	}}

	pool := NewWorkerPool(store, testQueueConfig(), executor, bus)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	task, err := store.Create(context.Background(), userID, "luogu_P1001", models.TaskConfig{})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task never started")
	}
	require.Eventually(t, func() bool { return pool.IsRunning(task.ID) }, time.Second, 5*time.Millisecond)
	assert.True(t, pool.CancelTask(task.ID))

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), task.ID)
		return err == nil && got.Status == models.TaskStatusFailed
	}, 3*time.Second, 20*time.Millisecond)

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "任务被取消", got.ErrorMessage)
	require.Eventually(t, func() bool {
		for _, typ := range rec.types() {
			if typ == events.EventTaskCancelled {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !pool.IsRunning(task.ID) }, time.Second, 10*time.Millisecond,
		"the finished task unregisters from the cancel registry")
}

func TestPoolRegistry(t *testing.T) {
	store, _ := newTestStore(t)
	pool := NewWorkerPool(store, testQueueConfig(), &stubExecutor{}, events.NewBus())

	called := false
	pool.RegisterTask(5, func() { called = true })
	assert.True(t, pool.IsRunning(5))
	assert.False(t, pool.IsRunning(6))

	pool.CancelAll()
	assert.True(t, called)

	pool.UnregisterTask(5)
	assert.False(t, pool.IsRunning(5))
	assert.False(t, pool.CancelTask(5))
}

func TestPoolHealth(t *testing.T) {
	store, userID := newTestStore(t)
	_, err := store.Create(context.Background(), userID, "p_1", models.TaskConfig{})
	require.NoError(t, err)

	pool := NewWorkerPool(store, testQueueConfig(), &stubExecutor{}, events.NewBus())
	h := pool.Health()
	assert.False(t, h.IsHealthy, "a pool with no workers is unhealthy")
	assert.True(t, h.DBReachable)
	assert.Equal(t, 1, h.QueueDepth)
	assert.Equal(t, 10, h.MaxConcurrent)
}

func TestTerminalEventType(t *testing.T) {
	assert.Equal(t, events.EventTaskCancelled,
		TerminalEventType(&ExecutionResult{Stage: "cancelled", Status: models.TaskStatusFailed}))
	assert.Equal(t, events.EventTaskCompleted,
		TerminalEventType(&ExecutionResult{Stage: "solve", Status: models.TaskStatusCompleted}))
	assert.Equal(t, events.EventTaskFailed,
		TerminalEventType(&ExecutionResult{Stage: "gen", Status: models.TaskStatusFailed}))
}

func TestFinalProgress(t *testing.T) {
	assert.Equal(t, 100, finalProgress(models.TaskStatusCompleted))
	assert.Equal(t, 0, finalProgress(models.TaskStatusFailed))
}
