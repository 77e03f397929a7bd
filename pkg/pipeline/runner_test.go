package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// fakeJudge is a scriptable in-memory judge serving as both the fetch
// source and the upload/submit destination. Runs are single-goroutine,
// so plain counters suffice.
type fakeJudge struct {
	base      string
	problem   *models.ProblemData
	fetches   int
	uploads   int
	logins    int
	submitted []string
	verdicts  []adapter.SubmissionStatus
}

func (j *fakeJudge) Name() string { return "judge" }
func (j *fakeJudge) Capabilities() []adapter.Capability {
	return []adapter.Capability{adapter.CapFetchProblem, adapter.CapUploadData, adapter.CapSubmitSolution}
}
func (j *fakeJudge) Priority() int                      { return adapter.DefaultPriority }
func (j *fakeJudge) BaseURL() string                    { return j.base }
func (j *fakeJudge) Initialize(*adapter.Context) error  { return nil }
func (j *fakeJudge) Shutdown() error                    { return nil }
func (j *fakeJudge) HealthCheck(context.Context) adapter.Health {
	return adapter.Health{Healthy: true, Status: adapter.HealthReady}
}

func (j *fakeJudge) SupportsURL(url string) bool { return strings.HasPrefix(url, j.base) }
func (j *fakeJudge) ParseProblemID(input string) string {
	if rest, ok := strings.CutPrefix(input, j.base+"/problem/"); ok {
		return rest
	}
	return ""
}
func (j *fakeJudge) ProblemURL(id string) string { return j.base + "/p/" + id }

func (j *fakeJudge) FetchProblem(context.Context, *adapter.Context, string) (*models.ProblemData, error) {
	j.fetches++
	return j.problem, nil
}

func (j *fakeJudge) UploadTestcase(context.Context, *adapter.Context, string, string, *session.Auth, bool) (*adapter.UploadResult, error) {
	j.uploads++
	return &adapter.UploadResult{RealID: "P500", Created: true}, nil
}
func (j *fakeJudge) SupportsFormat(kind string) bool { return kind == "zip" }

func (j *fakeJudge) Authenticate(context.Context, *adapter.Context) (*session.Auth, error) {
	j.logins++
	return &session.Auth{Token: "cookie", CreatedAt: time.Now()}, nil
}

func (j *fakeJudge) SubmitSolution(_ context.Context, _ *adapter.Context, _ string, code, _ string, _ *session.Auth) (*adapter.SubmitResult, error) {
	j.submitted = append(j.submitted, code)
	return &adapter.SubmitResult{SubmissionID: fmt.Sprintf("sub-%d", len(j.submitted))}, nil
}

func (j *fakeJudge) GetSubmissionStatus(context.Context, *adapter.Context, string, *session.Auth) (*adapter.SubmissionStatus, error) {
	if len(j.verdicts) == 0 {
		return &adapter.SubmissionStatus{Status: "Accepted", Score: 100, IsAccepted: true, IsFinal: true}, nil
	}
	v := j.verdicts[0]
	j.verdicts = j.verdicts[1:]
	return &v, nil
}

func (j *fakeJudge) SupportedLanguages() []string  { return []string{"cc"} }
func (j *fakeJudge) DefaultLanguage(string) string { return "cc" }

// scriptedLLM pops canned completions in order and records the
// temperature of every call. It doubles as its own ClientProvider.
type scriptedLLM struct {
	responses []string
	temps     []float32
}

func (s *scriptedLLM) ClientFor(context.Context, int64, string) (llm.Client, error) {
	return s, nil
}

func (s *scriptedLLM) ChatCompletion(_ context.Context, req llm.Request, onChunk llm.ChunkHandler) (*llm.Result, error) {
	s.temps = append(s.temps, req.Temperature)
	if len(s.responses) == 0 {
		return nil, llm.ErrEmptyResponse
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	if onChunk != nil {
		onChunk("", resp)
	}
	return &llm.Result{Content: resp}, nil
}

func (s *scriptedLLM) SupportsVision() bool { return false }

// stubToolchain replaces the python/g++ validator. RunGenerator writes a
// complete test set so the gen stage can normalize and package it.
type stubToolchain struct {
	genTimeouts []time.Duration
	compiles    int
}

func (v *stubToolchain) CheckGeneratorSyntax(context.Context, string) error { return nil }

func (v *stubToolchain) RunGenerator(_ context.Context, dir string, timeout time.Duration) error {
	v.genTimeouts = append(v.genTimeouts, timeout)
	testsDir := filepath.Join(dir, workspace.TestsDir)
	if err := os.MkdirAll(testsDir, 0o755); err != nil {
		return err
	}
	for i := 0; i < workspace.TestCaseCount; i++ {
		in := fmt.Sprintf("%d %d\n", i, i+1)
		out := fmt.Sprintf("%d\n", 2*i+1)
		if err := os.WriteFile(filepath.Join(testsDir, fmt.Sprintf("%d.in", i)), []byte(in), 0o644); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(testsDir, fmt.Sprintf("%d.out", i)), []byte(out), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (v *stubToolchain) CompileSolution(_ context.Context, dir string) (string, error) {
	v.compiles++
	return filepath.Join(dir, "solution_bin"), nil
}

func (v *stubToolchain) ValidateSolution(context.Context, string, string) ([]CaseFailure, error) {
	return nil, nil
}

type emptyAdapterConfig struct{}

func (emptyAdapterConfig) AdapterConfig(context.Context, int64, string) (map[string]string, error) {
	return map[string]string{}, nil
}

const generatorResponse = "```python\nimport random\nfor i in range(10):\n    print(i)\n```"

const storedSolution = `#include <iostream>
int main() {
    int a, b;
    std::cin >> a >> b;
    std::cout << a + b;
    return 0;
}
`

const regeneratedSolution = `#include <cstdio>
int main() {
    int a, b;
    scanf("%d %d", &a, &b);
    printf("%d\n", a + b);
    return 0;
}
`

func scenarioProblem() *models.ProblemData {
	return &models.ProblemData{
		ID:            "1001",
		Source:        "judge",
		Title:         "A+B Problem",
		Description:   "Read two integers and print their sum.",
		Samples:       []models.Sample{{Input: "1 2", Output: "3"}},
		TimeLimitMS:   1000,
		MemoryLimitMB: 128,
	}
}

type runnerFixture struct {
	runner *Runner
	judge  *fakeJudge
	llm    *scriptedLLM
	tools  *stubToolchain
	ws     *workspace.Manager
	dir    string
	task   *models.Task
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()

	ws := workspace.NewManager(t.TempDir())
	judge := &fakeJudge{base: "https://judge.test", problem: scenarioProblem()}
	registry := adapter.NewRegistry()
	require.NoError(t, registry.Register(judge, &adapter.Context{}))

	llmStub := &scriptedLLM{}
	tools := &stubToolchain{}

	runner := NewRunner(Deps{
		Workspace:     ws,
		Registry:      registry,
		Resolver:      problemid.NewResolver(registry, ws, "judge", judge.base),
		LLM:           llmStub,
		Prompts:       prompt.NewBuilder(prompt.DefaultProvider{}),
		Sessions:      session.NewManager(),
		Pool:          concurrency.NewSemaphorePool(concurrency.PoolLimits{}),
		SubmitGate:    concurrency.NewSubmitGate(time.Millisecond),
		RateGate:      concurrency.NewRateLimitGate(false),
		Bus:           events.NewBus(),
		AdapterConfig: emptyAdapterConfig{},
		Validator:     tools,
	}, Config{
		TemperatureStart:      0.3,
		ReuseExistingSolution: true,
		GeneratorTimeout:      45 * time.Second,
		CompileAcquireTimeout: time.Second,
		SolvePollInterval:     time.Millisecond,
		SolvePollDeadline:     5 * time.Second,
		FirstPollDelay:        time.Millisecond,
		RetryWaitBase:         time.Millisecond,
		ValidationWaitBase:    time.Millisecond,
	})

	task := &models.Task{ID: 1, UserID: 7, ProblemID: "1001"}
	return &runnerFixture{
		runner: runner,
		judge:  judge,
		llm:    llmStub,
		tools:  tools,
		ws:     ws,
		dir:    ws.Dir(task.UserID, "judge_1001"),
		task:   task,
	}
}

func never() bool { return false }

func TestRunnerFullPipeline(t *testing.T) {
	fx := newRunnerFixture(t)
	fx.llm.responses = []string{
		generatorResponse,
		"```cpp\n" + storedSolution + "```",
	}
	taskCfg := models.TaskConfig{
		EnableFetch:      true,
		EnableGeneration: true,
		EnableUpload:     true,
		EnableSolve:      true,
		TargetAdapter:    "judge",
	}

	var uploadedURL string
	outcome := fx.runner.Run(context.Background(), fx.task, taskCfg, never, Hooks{
		OnUploadedURL: func(u string) { uploadedURL = u },
	})

	require.Equal(t, models.TaskStatusCompleted, outcome.Status, outcome.ErrorMessage)
	assert.Equal(t, "completed", outcome.Stage)
	assert.Equal(t, "https://judge.test/p/P500", outcome.UploadedURL)
	assert.Equal(t, outcome.UploadedURL, uploadedURL)

	assert.Equal(t, 1, fx.judge.fetches)
	assert.Equal(t, 1, fx.judge.uploads)
	require.Len(t, fx.judge.submitted, 1)
	assert.Contains(t, fx.judge.submitted[0], "a + b")

	st, err := fx.ws.GetProcessingStatus(fx.dir)
	require.NoError(t, err)
	assert.True(t, st.OkFetch)
	assert.True(t, st.OkGen)
	assert.True(t, st.OkUpload)
	assert.True(t, st.OkSolve)

	id, ok := fx.ws.GetUploadRealID(fx.dir, "judge")
	require.True(t, ok)
	assert.Equal(t, "P500", id)
	assert.True(t, fx.ws.HasArchive(fx.dir, "judge_1001"), "gen packaged the testcase archive")

	// One generator call, one solution call, both at the start temperature.
	assert.Equal(t, []float32{0.3, 0.3}, fx.llm.temps)
	// The configured generator timeout reaches the toolchain unchanged.
	assert.Equal(t, []time.Duration{45 * time.Second}, fx.tools.genTimeouts)
}

func TestRunnerCompileErrorForcesRegeneration(t *testing.T) {
	fx := newRunnerFixture(t)

	require.NoError(t, fx.ws.Save(fx.dir, scenarioProblem()))
	require.NoError(t, fx.ws.SetUploadRealID(fx.dir, "judge", "P500"))
	require.NoError(t, fx.ws.WriteSolution(fx.dir, storedSolution))

	fx.judge.verdicts = []adapter.SubmissionStatus{
		{Status: "Compile Error", IsFinal: true, ErrorText: "expected ';' before '}' token"},
	}
	fx.llm.responses = []string{"```cpp\n" + regeneratedSolution + "```"}

	taskCfg := models.TaskConfig{EnableSolve: true, TargetAdapter: "judge"}
	outcome := fx.runner.Run(context.Background(), fx.task, taskCfg, never, Hooks{})

	require.Equal(t, models.TaskStatusCompleted, outcome.Status, outcome.ErrorMessage)
	require.Len(t, fx.judge.submitted, 2)
	assert.Equal(t, storedSolution, fx.judge.submitted[0], "first attempt reuses the stored solution")
	assert.Equal(t, regeneratedSolution, fx.judge.submitted[1])

	// The compile error overrides solution reuse and anneals 0.3 → 0.1.
	require.Len(t, fx.llm.temps, 1)
	assert.InDelta(t, 0.1, fx.llm.temps[0], 1e-6)

	assert.Equal(t, regeneratedSolution, fx.ws.ReadSolution(fx.dir))
	st, err := fx.ws.GetProcessingStatus(fx.dir)
	require.NoError(t, err)
	assert.True(t, st.OkSolve)
	assert.Equal(t, 1, fx.judge.logins, "auth is cached across solve attempts")
}

func TestRunnerFetchReusesExistingData(t *testing.T) {
	fx := newRunnerFixture(t)
	require.NoError(t, fx.ws.Save(fx.dir, scenarioProblem()))

	taskCfg := models.TaskConfig{EnableFetch: true}
	outcome := fx.runner.Run(context.Background(), fx.task, taskCfg, never, Hooks{})

	require.Equal(t, models.TaskStatusCompleted, outcome.Status, outcome.ErrorMessage)
	assert.Zero(t, fx.judge.fetches, "a populated workspace is never re-crawled")
}

func TestRunnerCancelledBetweenStages(t *testing.T) {
	fx := newRunnerFixture(t)
	require.NoError(t, fx.ws.Save(fx.dir, scenarioProblem()))

	taskCfg := models.TaskConfig{
		EnableFetch:      true,
		EnableGeneration: true,
		TargetAdapter:    "judge",
	}
	calls := 0
	cancelled := func() bool {
		calls++
		return calls > 1 // cancel right after the fetch stage
	}
	outcome := fx.runner.Run(context.Background(), fx.task, taskCfg, cancelled, Hooks{})

	require.Equal(t, models.TaskStatusFailed, outcome.Status)
	assert.Equal(t, "cancelled", outcome.Stage)
	assert.Equal(t, CancelledMessage, outcome.ErrorMessage)
	assert.Empty(t, fx.llm.temps, "no LLM call after cancellation")
}
