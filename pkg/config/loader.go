package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, expands environment variables,
// merges the result over built-in defaults, applies environment
// overrides, and validates. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("No config file found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			var user Config
			if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
			if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merging config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides honors the direct environment knobs that predate the
// YAML file and still win over it.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OJO_WORKSPACE"); v != "" {
		cfg.Workspace.BaseDir = v
	}
	if v := os.Getenv("OJO_DATABASE"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("OJO_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

func validate(cfg *Config) error {
	if cfg.Queue.WorkerCount < 1 {
		return fmt.Errorf("queue.worker_count must be >= 1, got %d", cfg.Queue.WorkerCount)
	}
	if cfg.Queue.MaxGlobalTasks < cfg.Queue.WorkerCount {
		return fmt.Errorf("queue.max_global_tasks (%d) must be >= queue.worker_count (%d)",
			cfg.Queue.MaxGlobalTasks, cfg.Queue.WorkerCount)
	}
	if cfg.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be positive")
	}
	if cfg.Concurrency.LLMSlots < 1 || cfg.Concurrency.RemoteReadSlots < 1 ||
		cfg.Concurrency.RemoteWriteSlots < 1 || cfg.Concurrency.CompileSlots < 1 {
		return fmt.Errorf("concurrency slot counts must all be >= 1")
	}
	// A write slot count at or above the read count lets bulk uploads
	// starve fetches; keep the ordering the pools assume.
	if cfg.Concurrency.RemoteWriteSlots >= cfg.Concurrency.RemoteReadSlots+2 {
		return fmt.Errorf("concurrency.remote_write_slots (%d) is implausibly high relative to remote_read_slots (%d)",
			cfg.Concurrency.RemoteWriteSlots, cfg.Concurrency.RemoteReadSlots)
	}
	if cfg.Pipeline.GenAttempts < 1 || cfg.Pipeline.SolveAttempts < 1 || cfg.Pipeline.UploadAttempts < 1 {
		return fmt.Errorf("pipeline attempt budgets must all be >= 1")
	}
	if cfg.Pipeline.TemperatureStart <= 0 || cfg.Pipeline.TemperatureStart > 2 {
		return fmt.Errorf("pipeline.temperature_start must be in (0, 2], got %v", cfg.Pipeline.TemperatureStart)
	}
	if cfg.Pipeline.GeneratorTimeout <= 0 || cfg.Pipeline.SolvePollInterval <= 0 ||
		cfg.Pipeline.SolvePollDeadline <= 0 || cfg.Pipeline.RetryWaitBase <= 0 {
		return fmt.Errorf("pipeline timing values must all be positive")
	}
	if cfg.LLM.RequestTimeout <= 0 {
		return fmt.Errorf("llm.request_timeout must be positive")
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	return nil
}
