package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/ojobatch/ojo/pkg/database"
	"github.com/ojobatch/ojo/pkg/metrics"
	"github.com/ojobatch/ojo/pkg/models"
	"github.com/ojobatch/ojo/pkg/pipeline"
	"github.com/ojobatch/ojo/pkg/session"
)

// PipelineExecutor adapts the pipeline runner to the worker contract:
// it loads the task's stored config, tracks the owner's in-flight count,
// and persists live progress.
type PipelineExecutor struct {
	runner   *pipeline.Runner
	store    *database.TaskStore
	sessions *session.Manager
}

// NewPipelineExecutor creates the executor.
func NewPipelineExecutor(runner *pipeline.Runner, store *database.TaskStore, sessions *session.Manager) *PipelineExecutor {
	return &PipelineExecutor{runner: runner, store: store, sessions: sessions}
}

// Execute runs the pipeline for one claimed task.
func (e *PipelineExecutor) Execute(ctx context.Context, task *models.Task, cancelled func() bool) *ExecutionResult {
	taskCfg, err := e.store.Config(ctx, task.ID)
	if err != nil {
		return &ExecutionResult{
			Status:       models.TaskStatusFailed,
			Stage:        "failed",
			ErrorMessage: "loading task config: " + err.Error(),
		}
	}

	user := e.sessions.Get(task.UserID)
	user.IncActive()
	defer user.DecActive()

	stageStart := time.Now()
	lastStage := ""

	outcome := e.runner.Run(ctx, task, taskCfg, cancelled, pipeline.Hooks{
		OnProgress: func(stage string, progress int) {
			if stage != lastStage {
				if lastStage != "" {
					metrics.StageDuration.WithLabelValues(lastStage).Observe(time.Since(stageStart).Seconds())
				}
				lastStage = stage
				stageStart = time.Now()
			}
			if err := e.store.SetProgress(context.Background(), task.ID, stage, progress); err != nil {
				slog.Warn("Failed to persist task progress",
					"task_id", task.ID, "stage", stage, "error", err)
			}
		},
	})

	return &ExecutionResult{
		Status:       outcome.Status,
		Stage:        outcome.Stage,
		ErrorMessage: outcome.ErrorMessage,
		UploadedURL:  outcome.UploadedURL,
	}
}
