// Package queue provides the bounded worker pool that claims pending
// tasks from the database and drives their pipeline execution.
package queue

import (
	"context"
	"time"

	"github.com/ojobatch/ojo/pkg/models"
)

// TaskExecutor runs one claimed task to a terminal state.
//
// The executor owns the entire pipeline lifecycle internally and writes
// intermediate progress progressively during execution. The worker only
// handles claiming, cancellation plumbing, the terminal status write, and
// the terminal event.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.Task, cancelled func() bool) *ExecutionResult
}

// ExecutionResult is just the terminal state; intermediate state was
// already persisted by the executor during processing.
type ExecutionResult struct {
	Status       models.TaskStatus
	Stage        string
	ErrorMessage string
	UploadedURL  string
}

// PoolHealth is the worker pool's health snapshot.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	DBReachable   bool           `json:"db_reachable"`
	DBError       string         `json:"db_error,omitempty"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	RunningTasks  int            `json:"running_tasks"`
	MaxConcurrent int            `json:"max_concurrent"`
	QueueDepth    int            `json:"queue_depth"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"` // "idle" or "working"
	CurrentTaskID  int64     `json:"current_task_id,omitempty"`
	TasksProcessed int       `json:"tasks_processed"`
	LastActivity   time.Time `json:"last_activity"`
}
