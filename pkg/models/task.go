// Package models defines the core domain types shared across services,
// the pipeline runner, and the API layer.
package models

import "time"

// TaskStatus is the persisted integer status of a task row.
type TaskStatus int

// Task status values. The numeric values are part of the stored schema
// and of the external API contract; do not renumber.
const (
	TaskStatusPending   TaskStatus = 0
	TaskStatusRunning   TaskStatus = 1
	TaskStatusCompleted TaskStatus = 4
	TaskStatusFailed    TaskStatus = -1
)

// String returns the API-facing name for a status.
func (s TaskStatus) String() string {
	switch s {
	case TaskStatusPending:
		return "pending"
	case TaskStatusRunning:
		return "running"
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseTaskStatus maps an API-facing status name to its integer value.
// Returns false when the name is not a valid status.
func ParseTaskStatus(name string) (TaskStatus, bool) {
	switch name {
	case "pending":
		return TaskStatusPending, true
	case "running":
		return TaskStatusRunning, true
	case "completed":
		return TaskStatusCompleted, true
	case "failed":
		return TaskStatusFailed, true
	default:
		return 0, false
	}
}

// IsTerminal reports whether the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is one user request for one problem.
type Task struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	ProblemID    string     `json:"problem_id"` // canonical <adapter>_<id>
	Status       TaskStatus `json:"status"`
	Stage        string     `json:"stage"`
	Progress     int        `json:"progress"` // 0-100
	SourceJudge  string     `json:"source_judge,omitempty"`
	DestJudge    string     `json:"dest_judge,omitempty"`
	UploadedURL  string     `json:"uploaded_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetriedBy    *int64     `json:"retried_by,omitempty"` // acting admin on proxy retries
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ModuleSelection selects which pipeline stages run for a task.
// Stages always execute in fetch → gen → upload → solve order; any
// subset may be enabled.
type ModuleSelection struct {
	Fetch  bool `json:"fetch"`
	Gen    bool `json:"gen"`
	Upload bool `json:"upload"`
	Solve  bool `json:"solve"`
}

// All returns a selection with every stage enabled.
func AllModules() ModuleSelection {
	return ModuleSelection{Fetch: true, Gen: true, Upload: true, Solve: true}
}

// ParseModule converts a retry-module name into a selection.
// "all" enables every stage; stage names enable just that stage.
func ParseModule(name string) (ModuleSelection, bool) {
	switch name {
	case "all":
		return AllModules(), true
	case "fetch":
		return ModuleSelection{Fetch: true}, true
	case "gen":
		return ModuleSelection{Gen: true}, true
	case "upload":
		return ModuleSelection{Upload: true}, true
	case "solve":
		return ModuleSelection{Solve: true}, true
	default:
		return ModuleSelection{}, false
	}
}

// None reports whether no stage is selected.
func (m ModuleSelection) None() bool {
	return !m.Fetch && !m.Gen && !m.Upload && !m.Solve
}

// TaskConfig is the per-batch execution configuration supplied by the caller.
type TaskConfig struct {
	EnableFetch      bool              `json:"enable_fetch"`
	EnableGeneration bool              `json:"enable_generation"`
	EnableUpload     bool              `json:"enable_upload"`
	EnableSolve      bool              `json:"enable_solve"`
	SourceAdapter    string            `json:"source_adapter,omitempty"`
	TargetAdapter    string            `json:"target_adapter,omitempty"`
	ProblemAdapters  map[string]string `json:"problem_adapters,omitempty"` // per-problem fetch override; "auto" means unset
	LLMProvider      string            `json:"llm_provider"`
}

// Modules returns the stage selection encoded in the config flags.
func (c TaskConfig) Modules() ModuleSelection {
	return ModuleSelection{
		Fetch:  c.EnableFetch,
		Gen:    c.EnableGeneration,
		Upload: c.EnableUpload,
		Solve:  c.EnableSolve,
	}
}

// FetchAdapterFor resolves the fetch adapter for one problem:
// task-level override first, then the global source adapter.
// An "auto" override means unset.
func (c TaskConfig) FetchAdapterFor(problemID string) string {
	if name, ok := c.ProblemAdapters[problemID]; ok && name != "" && name != "auto" {
		return name
	}
	return c.SourceAdapter
}

// TaskFilter is the server-side filter set for task listings.
type TaskFilter struct {
	Search      string
	Status      *TaskStatus
	SourceJudge string
	DestJudge   string
	Limit       int
}
