// ojod is the batch-processing service daemon: it accepts problem
// batches over HTTP, runs the fetch/gen/upload/solve pipeline through
// the worker pool, and streams progress over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ojobatch/ojo/pkg/adapter"
	"github.com/ojobatch/ojo/pkg/api"
	"github.com/ojobatch/ojo/pkg/concurrency"
	"github.com/ojobatch/ojo/pkg/config"
	"github.com/ojobatch/ojo/pkg/database"
	"github.com/ojobatch/ojo/pkg/events"
	"github.com/ojobatch/ojo/pkg/llm"
	"github.com/ojobatch/ojo/pkg/pipeline"
	"github.com/ojobatch/ojo/pkg/problemid"
	"github.com/ojobatch/ojo/pkg/prompt"
	"github.com/ojobatch/ojo/pkg/queue"
	"github.com/ojobatch/ojo/pkg/services"
	"github.com/ojobatch/ojo/pkg/session"
	"github.com/ojobatch/ojo/pkg/version"
	"github.com/ojobatch/ojo/pkg/workspace"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("OJO_CONFIG"), "path to the config YAML")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	slog.Info("Starting ojod", "version", version.Full())

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()

	db, err := database.NewClient(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	taskStore := database.NewTaskStore(db)
	userStore := database.NewUserStore(db)
	adapterCfgStore := database.NewAdapterConfigStore(db)
	sysStore := database.NewSystemConfigStore(db)

	// Rows left running by a previous crash are marked failed before the
	// pool starts claiming; their workspace artifacts survive for retry.
	if n, err := taskStore.ResetOrphanedRunning(ctx); err != nil {
		return fmt.Errorf("resetting orphaned tasks: %w", err)
	} else if n > 0 {
		slog.Info("Marked orphaned running tasks as failed", "count", n)
	}

	enc, err := services.BootstrapEncryptor(ctx, sysStore)
	if err != nil {
		return fmt.Errorf("bootstrapping encryption: %w", err)
	}
	configService := services.NewConfigService(adapterCfgStore, enc)

	ws := workspace.NewManager(cfg.Workspace.BaseDir)
	bus := events.NewBus()
	conns := events.NewConnectionManager(bus, 10*time.Second)
	sessions := session.NewManager()

	registry := adapter.NewRegistry()
	adapterCtx := &adapter.Context{Config: configService, Bus: bus}
	for _, a := range []adapter.Adapter{
		adapter.NewManualAdapter(),
		adapter.NewLuoguAdapter(),
		adapter.NewHydroAdapter(),
	} {
		if err := registry.Register(a, adapterCtx); err != nil {
			return fmt.Errorf("registering adapter %s: %w", a.Name(), err)
		}
	}

	resolver := problemid.NewResolver(registry, ws, cfg.Adapters.Default, cfg.Adapters.DefaultBaseURL)

	overrides := make(map[string]llm.ProviderOverride, len(cfg.LLM.Providers))
	for name, p := range cfg.LLM.Providers {
		overrides[name] = llm.ProviderOverride{
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
			Vision:       p.Vision,
		}
	}
	factory := llm.NewFactory(configService, overrides)
	factory.SetRequestTimeout(cfg.LLM.RequestTimeout)

	semPool := concurrency.NewSemaphorePool(concurrency.PoolLimits{
		LLM:         int64(cfg.Concurrency.LLMSlots),
		RemoteRead:  int64(cfg.Concurrency.RemoteReadSlots),
		RemoteWrite: int64(cfg.Concurrency.RemoteWriteSlots),
		Compile:     int64(cfg.Concurrency.CompileSlots),
	})
	submitGate := concurrency.NewSubmitGate(cfg.Concurrency.MinSubmitInterval)
	rateGate := concurrency.NewRateLimitGate(cfg.Concurrency.RateLimitGateEnabled)
	if cfg.Concurrency.RateLimitGateCooldown > 0 {
		rateGate.SetCooldown(cfg.Concurrency.RateLimitGateCooldown)
	}

	runner := pipeline.NewRunner(pipeline.Deps{
		Workspace:     ws,
		Registry:      registry,
		Resolver:      resolver,
		LLM:           factory,
		Prompts:       prompt.NewBuilder(prompt.DefaultProvider{}),
		Sessions:      sessions,
		Pool:          semPool,
		SubmitGate:    submitGate,
		RateGate:      rateGate,
		Bus:           bus,
		AdapterConfig: configService,
	}, pipeline.Config{
		GenAttempts:           cfg.Pipeline.GenAttempts,
		SolveAttempts:         cfg.Pipeline.SolveAttempts,
		UploadAttempts:        cfg.Pipeline.UploadAttempts,
		TemperatureStart:      cfg.Pipeline.TemperatureStart,
		ReuseExistingSolution: cfg.Pipeline.ReuseExisting(),
		GeneratorTimeout:      cfg.Pipeline.GeneratorTimeout,
		CompileAcquireTimeout: cfg.Concurrency.CompileAcquireTimeout,
		SolvePollInterval:     cfg.Pipeline.SolvePollInterval,
		SolvePollDeadline:     cfg.Pipeline.SolvePollDeadline,
		RetryWaitBase:         cfg.Pipeline.RetryWaitBase,
	})

	executor := queue.NewPipelineExecutor(runner, taskStore, sessions)
	workerPool := queue.NewWorkerPool(taskStore, cfg.Queue, executor, bus)
	if err := workerPool.Start(ctx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	taskService := services.NewTaskService(taskStore, workerPool, ws, resolver, bus, cfg.Adapters.DefaultTarget)

	server := api.NewServer(cfg.Server, taskService, configService, userStore, workerPool, registry, conns)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("HTTP server listening", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	taskService.Shutdown(true)
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	registry.Shutdown()
	slog.Info("Shutdown complete")
	return nil
}
