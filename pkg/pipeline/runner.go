// Package pipeline implements the four-stage state machine executing one
// task: fetch → gen → upload → solve. The runner owns retries,
// temperature annealing, local validation, and cancellation; stage errors
// never escape it, they map onto stage outcomes.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ojobatch/ojo/pkg/adapter"
	"github.com/ojobatch/ojo/pkg/concurrency"
	"github.com/ojobatch/ojo/pkg/events"
	"github.com/ojobatch/ojo/pkg/llm"
	"github.com/ojobatch/ojo/pkg/models"
	"github.com/ojobatch/ojo/pkg/problemid"
	"github.com/ojobatch/ojo/pkg/prompt"
	"github.com/ojobatch/ojo/pkg/session"
	"github.com/ojobatch/ojo/pkg/workspace"
)

// ClientProvider resolves a per-user LLM client by provider name.
type ClientProvider interface {
	ClientFor(ctx context.Context, userID int64, provider string) (llm.Client, error)
}

// SolutionSearcher is the optional reference-solution hook. The returned
// text is appended to gen/solve prompts verbatim; "" means nothing found.
// Presence or absence never affects correctness, only prompt quality.
type SolutionSearcher interface {
	SearchSolutions(ctx context.Context, p *models.ProblemData) (string, error)
}

// Config holds the runner's tunables.
type Config struct {
	GenAttempts    int
	SolveAttempts  int
	UploadAttempts int

	TemperatureStart      float32
	ReuseExistingSolution bool

	GeneratorTimeout      time.Duration
	CompileAcquireTimeout time.Duration

	// SolvePollInterval and SolvePollDeadline pace verdict polling;
	// FirstPollDelay is the grace before the first status read.
	SolvePollInterval time.Duration
	SolvePollDeadline time.Duration
	FirstPollDelay    time.Duration

	// RetryWaitBase spaces out failed stage attempts;
	// ValidationWaitBase applies after a local validation failure.
	// Both carry a derived ±5% jitter so parallel tasks desynchronize.
	RetryWaitBase      time.Duration
	ValidationWaitBase time.Duration
}

// StageValidator runs the local toolchain steps of the gen and upload
// stages: generator syntax check and execution, solution compilation,
// and output validation against the generated tests.
type StageValidator interface {
	CheckGeneratorSyntax(ctx context.Context, dir string) error
	RunGenerator(ctx context.Context, dir string, timeout time.Duration) error
	CompileSolution(ctx context.Context, dir string) (string, error)
	ValidateSolution(ctx context.Context, dir, binPath string) ([]CaseFailure, error)
}

// Hooks are the executor's callbacks for persisting live progress.
type Hooks struct {
	OnProgress    func(stage string, progress int)
	OnUploadedURL func(url string)
}

// Outcome is the terminal result of one run.
type Outcome struct {
	Status       models.TaskStatus
	Stage        string
	ErrorMessage string
	UploadedURL  string
}

// Runner executes pipelines. One instance serves all tasks; per-run state
// lives in the runContext.
type Runner struct {
	ws            *workspace.Manager
	registry      *adapter.Registry
	resolver      *problemid.Resolver
	llm           ClientProvider
	prompts       *prompt.Builder
	sessions      *session.Manager
	pool          *concurrency.SemaphorePool
	submitGate    *concurrency.SubmitGate
	rateGate      *concurrency.RateLimitGate
	bus           *events.Bus
	adapterConfig adapter.ConfigProvider
	searcher      SolutionSearcher
	validator     StageValidator
	logins        *session.LoginLimiter
	cfg           Config
}

// Deps bundles the runner's collaborators.
type Deps struct {
	Workspace     *workspace.Manager
	Registry      *adapter.Registry
	Resolver      *problemid.Resolver
	LLM           ClientProvider
	Prompts       *prompt.Builder
	Sessions      *session.Manager
	Pool          *concurrency.SemaphorePool
	SubmitGate    *concurrency.SubmitGate
	RateGate      *concurrency.RateLimitGate
	Bus           *events.Bus
	AdapterConfig adapter.ConfigProvider
	Searcher      SolutionSearcher      // optional
	Validator     StageValidator        // optional, built from Workspace when nil
	Logins        *session.LoginLimiter // optional, created when nil
}

// NewRunner creates a runner. Zero config fields fall back to defaults.
func NewRunner(d Deps, cfg Config) *Runner {
	if cfg.GenAttempts < 1 {
		cfg.GenAttempts = 3
	}
	if cfg.SolveAttempts < 1 {
		cfg.SolveAttempts = 3
	}
	if cfg.UploadAttempts < 1 {
		cfg.UploadAttempts = 3
	}
	if cfg.TemperatureStart <= 0 {
		cfg.TemperatureStart = 0.3
	}
	if cfg.GeneratorTimeout <= 0 {
		cfg.GeneratorTimeout = 5 * time.Minute
	}
	if cfg.CompileAcquireTimeout <= 0 {
		cfg.CompileAcquireTimeout = 120 * time.Second
	}
	if cfg.SolvePollInterval <= 0 {
		cfg.SolvePollInterval = 3 * time.Second
	}
	if cfg.SolvePollDeadline <= 0 {
		cfg.SolvePollDeadline = 240 * time.Second
	}
	if cfg.FirstPollDelay <= 0 {
		cfg.FirstPollDelay = 2 * time.Second
	}
	if cfg.RetryWaitBase <= 0 {
		cfg.RetryWaitBase = 30 * time.Second
	}
	if cfg.ValidationWaitBase <= 0 {
		cfg.ValidationWaitBase = 20 * time.Second
	}
	v := d.Validator
	if v == nil {
		v = NewValidator(d.Workspace)
	}
	logins := d.Logins
	if logins == nil {
		logins = session.NewLoginLimiter()
	}
	return &Runner{
		ws:            d.Workspace,
		registry:      d.Registry,
		resolver:      d.Resolver,
		llm:           d.LLM,
		prompts:       d.Prompts,
		sessions:      d.Sessions,
		pool:          d.Pool,
		submitGate:    d.SubmitGate,
		rateGate:      d.RateGate,
		bus:           d.Bus,
		adapterConfig: d.AdapterConfig,
		searcher:      d.Searcher,
		validator:     v,
		logins:        logins,
		cfg:           cfg,
	}
}

// runContext is the per-run state shared by the stage functions.
type runContext struct {
	task    *models.Task
	taskCfg models.TaskConfig
	modules models.ModuleSelection

	canonicalID string
	dir         string

	cc      *adapter.Context
	user    *session.UserContext
	batcher *events.LogBatcher

	cancelled func() bool
	hooks     Hooks
}

func (rc *runContext) checkCancelled() error {
	if rc.cancelled != nil && rc.cancelled() {
		return ErrCancelled
	}
	return nil
}

func (rc *runContext) progress(stage string, pct int) {
	if rc.hooks.OnProgress != nil {
		rc.hooks.OnProgress(stage, pct)
	}
}

// Run executes the pipeline for one task. It always returns a terminal
// outcome; infrastructure failures (workspace unwritable) surface as
// failed outcomes, never as panics.
func (r *Runner) Run(ctx context.Context, task *models.Task, taskCfg models.TaskConfig, cancelled func() bool, hooks Hooks) Outcome {
	rc := &runContext{
		task:      task,
		taskCfg:   taskCfg,
		modules:   taskCfg.Modules(),
		cancelled: cancelled,
		hooks:     hooks,
	}
	rc.canonicalID = r.resolver.Canonicalize(task.ProblemID)
	rc.dir = r.ws.Dir(task.UserID, rc.canonicalID)
	rc.cc = &adapter.Context{UserID: task.UserID, Config: r.adapterConfig, Bus: r.bus}
	rc.user = r.sessions.Get(task.UserID)

	if err := r.ws.EnsureDir(rc.dir); err != nil {
		return Outcome{Status: models.TaskStatusFailed, Stage: "failed",
			ErrorMessage: fmt.Sprintf("workspace unavailable: %v", err)}
	}

	batcher, err := events.NewLogBatcher(r.bus, task.ID, task.UserID, rc.canonicalID, workspace.LogPath(rc.dir))
	if err != nil {
		return Outcome{Status: models.TaskStatusFailed, Stage: "failed",
			ErrorMessage: fmt.Sprintf("opening pipeline log: %v", err)}
	}
	rc.batcher = batcher
	defer batcher.Close()

	r.bus.Publish(models.ProgressEvent{
		Type:      events.EventTaskStarted,
		TaskID:    task.ID,
		UserID:    task.UserID,
		ProblemID: rc.canonicalID,
	})

	outcome := r.runStages(ctx, rc)
	batcher.Flush()
	return outcome
}

type stageDef struct {
	name    string
	enabled bool
	pct     int
	run     func(context.Context, *runContext) error
}

func (r *Runner) runStages(ctx context.Context, rc *runContext) Outcome {
	var uploadedURL string
	rc.hooks.OnUploadedURL = wrapUploadedURL(rc.hooks.OnUploadedURL, &uploadedURL)

	fail := func(stage, msg string) Outcome {
		return Outcome{Status: models.TaskStatusFailed, Stage: stage,
			ErrorMessage: msg, UploadedURL: uploadedURL}
	}
	done := func() Outcome {
		rc.progress("completed", 100)
		return Outcome{Status: models.TaskStatusCompleted, Stage: "completed", UploadedURL: uploadedURL}
	}

	if out, stop := r.runOne(ctx, rc,
		stageDef{"fetch", rc.modules.Fetch, 25, r.runFetch}, fail); stop {
		return out
	}

	// The title short-circuit runs once, between fetch and gen, when the
	// destination can answer an exact-title search. A hit records every
	// downstream stage as done.
	if rc.modules.Upload {
		if err := rc.checkCancelled(); err != nil {
			rc.batcher.Logf("⚠ %s", CancelledMessage)
			return fail("cancelled", CancelledMessage)
		}
		hit, err := r.tryShortCircuit(ctx, rc)
		if err != nil {
			rc.batcher.Logf("[upload] 远端题目检索失败，继续常规流程: %v", err)
		} else if hit {
			return done()
		}
	}

	rest := []stageDef{
		{"gen", rc.modules.Gen, 55, r.runGen},
		{"upload", rc.modules.Upload, 80, r.runUpload},
		{"solve", rc.modules.Solve, 100, r.runSolve},
	}
	for _, s := range rest {
		if out, stop := r.runOne(ctx, rc, s, fail); stop {
			return out
		}
	}
	return done()
}

// runOne executes a single stage, honoring its enabled flag. A true stop
// flag carries a terminal outcome.
func (r *Runner) runOne(ctx context.Context, rc *runContext, s stageDef, fail func(string, string) Outcome) (Outcome, bool) {
	if err := rc.checkCancelled(); err != nil {
		rc.batcher.Logf("⚠ %s", CancelledMessage)
		return fail("cancelled", CancelledMessage), true
	}
	if !s.enabled {
		return Outcome{}, false
	}

	rc.batcher.SetStage(s.name)
	rc.progress(s.name, s.pct-20)

	if err := s.run(ctx, rc); err != nil {
		if Classify(err) == KindCancelled {
			rc.batcher.Logf("⚠ %s", CancelledMessage)
			return fail("cancelled", CancelledMessage), true
		}
		rc.batcher.Logf("✗ [%s] %v", s.name, err)
		return fail(s.name, err.Error()), true
	}
	rc.progress(s.name, s.pct)
	return Outcome{}, false
}

func wrapUploadedURL(inner func(string), slot *string) func(string) {
	return func(url string) {
		*slot = url
		if inner != nil {
			inner(url)
		}
	}
}

// destAdapter resolves the upload/submit destination adapter.
func (r *Runner) destAdapter(rc *runContext) (adapter.Adapter, error) {
	name := rc.taskCfg.TargetAdapter
	if name == "" {
		return nil, NewStageError(KindInvalidInput, "no target adapter configured", nil)
	}
	a, ok := r.registry.Get(name)
	if !ok {
		return nil, NewStageError(KindInvalidInput, fmt.Sprintf("unknown target adapter %q", name), nil)
	}
	return a, nil
}

// waitJitter sleeps base ± jitter, probing cancellation. Returns
// ErrCancelled when cut short.
func (r *Runner) waitJitter(rc *runContext, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int63n(int64(2*jitter))) - jitter
	}
	if !concurrency.InterruptibleSleep(d, rc.cancelled) {
		return ErrCancelled
	}
	return nil
}

// retryWait sleeps the configured inter-attempt wait with ±5% jitter.
func (r *Runner) retryWait(rc *runContext) error {
	return r.waitJitter(rc, r.cfg.RetryWaitBase, r.cfg.RetryWaitBase/20)
}

// validationWait sleeps the post-validation-failure wait with ±5% jitter.
func (r *Runner) validationWait(rc *runContext) error {
	return r.waitJitter(rc, r.cfg.ValidationWaitBase, r.cfg.ValidationWaitBase/20)
}

// waitRange sleeps a uniform duration in [lo, hi], probing cancellation.
func (r *Runner) waitRange(rc *runContext, lo, hi time.Duration) error {
	d := lo
	if hi > lo {
		d += time.Duration(rand.Int63n(int64(hi - lo)))
	}
	if !concurrency.InterruptibleSleep(d, rc.cancelled) {
		return ErrCancelled
	}
	return nil
}
