package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.Queue.MaxGlobalTasks)
	assert.Equal(t, 2, cfg.Concurrency.LLMSlots)
	assert.Equal(t, 1, cfg.Concurrency.RemoteWriteSlots)
	assert.Equal(t, time.Second, cfg.Concurrency.MinSubmitInterval)
	assert.Equal(t, 3, cfg.Pipeline.GenAttempts)
	assert.InDelta(t, 0.3, cfg.Pipeline.TemperatureStart, 1e-6)
	assert.True(t, cfg.Pipeline.ReuseExisting())
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.GeneratorTimeout)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.SolvePollInterval)
	assert.Equal(t, 240*time.Second, cfg.Pipeline.SolvePollDeadline)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.RetryWaitBase)
	assert.Equal(t, 5*time.Minute, cfg.LLM.RequestTimeout)
	assert.Equal(t, "luogu", cfg.Adapters.Default)
	assert.Equal(t, "hydro", cfg.Adapters.DefaultTarget)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
queue:
  worker_count: 3
pipeline:
  reuse_existing_solution: false
  generator_timeout: 90s
  solve_poll_deadline: 10m
llm:
  request_timeout: 2m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Queue.WorkerCount)
	assert.False(t, cfg.Pipeline.ReuseExisting())
	assert.Equal(t, 90*time.Second, cfg.Pipeline.GeneratorTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.SolvePollDeadline)
	assert.Equal(t, 2*time.Minute, cfg.LLM.RequestTimeout)
	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.Queue.MaxGlobalTasks)
	assert.Equal(t, 3, cfg.Pipeline.GenAttempts)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.SolvePollInterval)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_OJO_ADDR", ":7070")
	path := writeConfig(t, `
server:
  addr: "{{.TEST_OJO_ADDR}}"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoadEnvOverridesWin(t *testing.T) {
	t.Setenv("OJO_DATABASE", "/tmp/override.db")
	path := writeConfig(t, `
database:
  path: "/tmp/from-yaml.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"zero workers", "queue:\n  worker_count: -1\n"},
		{"cap below workers", "queue:\n  worker_count: 10\n  max_global_tasks: 5\n"},
		{"temperature out of range", "pipeline:\n  temperature_start: 3.0\n"},
		{"write slots too high", "concurrency:\n  remote_write_slots: 9\n"},
		{"negative generator timeout", "pipeline:\n  generator_timeout: -5s\n"},
		{"negative llm timeout", "llm:\n  request_timeout: -1s\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestExpandEnvLeavesMalformedInput(t *testing.T) {
	in := []byte("value: {{.unclosed")
	assert.Equal(t, in, ExpandEnv(in))
}
