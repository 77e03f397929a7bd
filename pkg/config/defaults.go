package config

import "time"

// Default returns the built-in configuration. User YAML merges on top,
// non-zero values overriding.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "data/ojo.db",
		},
		Queue: QueueConfig{
			WorkerCount:             5,
			MaxGlobalTasks:          50,
			PollInterval:            1 * time.Second,
			PollIntervalJitter:      500 * time.Millisecond,
			TaskTimeout:             60 * time.Minute,
			GracefulShutdownTimeout: 60 * time.Minute,
		},
		Concurrency: ConcurrencyConfig{
			LLMSlots:              2,
			RemoteReadSlots:       2,
			RemoteWriteSlots:      1,
			CompileSlots:          1,
			CompileAcquireTimeout: 120 * time.Second,
			MinSubmitInterval:     1 * time.Second,
			RateLimitGateCooldown: 75 * time.Second,
		},
		Pipeline: PipelineConfig{
			GenAttempts:       3,
			SolveAttempts:     3,
			UploadAttempts:    3,
			TemperatureStart:  0.3,
			GeneratorTimeout:  5 * time.Minute,
			SolvePollInterval: 3 * time.Second,
			SolvePollDeadline: 240 * time.Second,
			RetryWaitBase:     30 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider: "deepseek",
			RequestTimeout:  5 * time.Minute,
		},
		Adapters: AdaptersConfig{
			Default:        "luogu",
			DefaultBaseURL: "https://www.luogu.com.cn",
			DefaultTarget:  "hydro",
		},
	}
}
