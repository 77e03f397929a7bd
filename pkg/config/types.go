// Package config loads and validates service configuration from a YAML
// file merged over built-in defaults, with Go-template environment
// expansion.
package config

import "time"

// Config is the fully resolved service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Queue       QueueConfig       `yaml:"queue"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	LLM         LLMConfig         `yaml:"llm"`
	Adapters    AdaptersConfig    `yaml:"adapters"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// AllowedWSOrigins restricts WebSocket upgrades. Empty allows the
	// serving host only.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// DatabaseConfig holds the SQLite database settings.
type DatabaseConfig struct {
	// Path is the SQLite file path. ":memory:" is accepted for tests.
	Path string `yaml:"path"`
}

// WorkspaceConfig holds the artifact root settings.
type WorkspaceConfig struct {
	// BaseDir is the workspace root. Empty falls back to the
	// OJO_WORKSPACE environment variable, then /app/workspace when it
	// exists, then ./workspace.
	BaseDir string `yaml:"base_dir"`
}

// QueueConfig controls how tasks are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines.
	WorkerCount int `yaml:"worker_count"`

	// MaxGlobalTasks caps tasks processing concurrently across the
	// whole service, enforced by a database count check at claim time.
	MaxGlobalTasks int `yaml:"max_global_tasks"`

	// PollInterval is the base interval for checking pending tasks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes the actual interval:
	// PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// TaskTimeout is the maximum wall time for one task's pipeline run.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// GracefulShutdownTimeout is the max wait for active tasks to
	// finish during shutdown. Should match TaskTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// ConcurrencyConfig sets the shared resource slots and gates.
type ConcurrencyConfig struct {
	LLMSlots         int `yaml:"llm_slots"`
	RemoteReadSlots  int `yaml:"remote_read_slots"`
	RemoteWriteSlots int `yaml:"remote_write_slots"`
	CompileSlots     int `yaml:"compile_slots"`

	// CompileAcquireTimeout bounds the wait for a compile slot during
	// local validation.
	CompileAcquireTimeout time.Duration `yaml:"compile_acquire_timeout"`

	// MinSubmitInterval is the process-global floor between remote
	// submissions. Held across the submit and its first status poll.
	MinSubmitInterval time.Duration `yaml:"min_submit_interval"`

	// RateLimitGateEnabled turns on the shared submit cooldown: one
	// task hitting a remote rate limit pauses submissions for all.
	RateLimitGateEnabled  bool          `yaml:"rate_limit_gate_enabled"`
	RateLimitGateCooldown time.Duration `yaml:"rate_limit_gate_cooldown"`
}

// PipelineConfig sets per-stage attempt budgets and temperature policy.
type PipelineConfig struct {
	GenAttempts    int `yaml:"gen_attempts"`
	SolveAttempts  int `yaml:"solve_attempts"`
	UploadAttempts int `yaml:"upload_attempts"`

	TemperatureStart float32 `yaml:"temperature_start"`

	// ReuseExistingSolution reuses a stored non-trivial solution.cpp
	// for the first solve attempt instead of regenerating.
	ReuseExistingSolution *bool `yaml:"reuse_existing_solution"`

	// GeneratorTimeout bounds one gen.py execution.
	GeneratorTimeout time.Duration `yaml:"generator_timeout"`

	// SolvePollInterval and SolvePollDeadline control verdict polling
	// after a submission.
	SolvePollInterval time.Duration `yaml:"solve_poll_interval"`
	SolvePollDeadline time.Duration `yaml:"solve_poll_deadline"`

	// RetryWaitBase is the base wait between failed stage attempts.
	RetryWaitBase time.Duration `yaml:"retry_wait_base"`
}

// ReuseExisting resolves the pointer field with its default of true.
func (p PipelineConfig) ReuseExisting() bool {
	if p.ReuseExistingSolution == nil {
		return true
	}
	return *p.ReuseExistingSolution
}

// LLMProviderConfig adjusts a built-in provider or defines a new one.
type LLMProviderConfig struct {
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	Vision       bool   `yaml:"vision"`
}

// LLMConfig selects the default provider and carries overrides.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// RequestTimeout bounds a single completion call, streaming included.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AdaptersConfig holds adapter-wide settings.
type AdaptersConfig struct {
	// Default names the adapter used for bare numeric problem IDs.
	Default string `yaml:"default"`

	// DefaultBaseURL is the base used to construct problem URLs for
	// bare numeric IDs: <base>/problem/<id>.
	DefaultBaseURL string `yaml:"default_base_url"`

	// DefaultTarget names the destination adapter used when a task
	// config does not pick one.
	DefaultTarget string `yaml:"default_target"`
}
