package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ojobatch/ojo/pkg/workspace"
)

// Tool commands. Overridable for tests through Validator fields.
const (
	defaultPython   = "python3"
	defaultCompiler = "g++"

	compileTimeout = 60 * time.Second
	runCaseTimeout = 10 * time.Second
)

// Validator compiles solution.cpp and checks it against the generated
// tests. Callers serialize compilation through the compile slot; the
// validator itself does no slot management.
type Validator struct {
	ws *workspace.Manager

	// Python and Compiler override the tool commands.
	Python   string
	Compiler string
}

// NewValidator creates a validator over the workspace manager.
func NewValidator(ws *workspace.Manager) *Validator {
	return &Validator{ws: ws, Python: defaultPython, Compiler: defaultCompiler}
}

// CheckGeneratorSyntax compile-checks gen.py without executing it.
func (v *Validator) CheckGeneratorSyntax(ctx context.Context, dir string) error {
	cctx, cancel := context.WithTimeout(ctx, compileTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, v.Python, "-m", "py_compile", workspace.GeneratorFile)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("generator syntax check failed: %s", firstLines(stderr.String(), 5))
	}
	return nil
}

// RunGenerator executes gen.py inside the tests directory with a wall
// clock limit. The generator writes 0.in..9.out into its working dir.
func (v *Validator) RunGenerator(ctx context.Context, dir string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	testsDir := filepath.Join(dir, workspace.TestsDir)
	if err := os.MkdirAll(testsDir, 0o755); err != nil {
		return fmt.Errorf("creating tests dir: %w", err)
	}

	genPath, err := filepath.Abs(filepath.Join(dir, workspace.GeneratorFile))
	if err != nil {
		return fmt.Errorf("resolving generator path: %w", err)
	}

	cmd := exec.CommandContext(rctx, v.Python, genPath)
	cmd.Dir = testsDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if rctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("generator timed out after %v", timeout)
		}
		return fmt.Errorf("generator execution failed: %s", firstLines(stderr.String(), 5))
	}
	return nil
}

// CompileSolution compiles solution.cpp to a binary inside the workspace
// and returns the binary path. Compile errors carry the compiler output.
func (v *Validator) CompileSolution(ctx context.Context, dir string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, compileTimeout)
	defer cancel()

	binPath := filepath.Join(dir, "solution_bin")
	cmd := exec.CommandContext(cctx, v.Compiler,
		"-O2", "-std=c++17", "-o", binPath, workspace.SolutionFile)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("compile error: %s", firstLines(stderr.String(), 10))
	}
	return binPath, nil
}

// CaseFailure describes one failed validation case.
type CaseFailure struct {
	Case   int
	Reason string
}

// ValidateSolution runs the compiled binary against every generated test
// pair and diffs normalized output. A nil slice means every case passed.
func (v *Validator) ValidateSolution(ctx context.Context, dir, binPath string) ([]CaseFailure, error) {
	testsDir := filepath.Join(dir, workspace.TestsDir)
	var failures []CaseFailure

	for i := 0; i < workspace.TestCaseCount; i++ {
		input, err := os.ReadFile(filepath.Join(testsDir, fmt.Sprintf("%d.in", i)))
		if err != nil {
			return nil, fmt.Errorf("reading case %d input: %w", i, err)
		}
		expected, err := os.ReadFile(filepath.Join(testsDir, fmt.Sprintf("%d.out", i)))
		if err != nil {
			return nil, fmt.Errorf("reading case %d output: %w", i, err)
		}

		actual, runErr := v.runCase(ctx, binPath, input)
		if runErr != nil {
			failures = append(failures, CaseFailure{Case: i, Reason: runErr.Error()})
			continue
		}
		if !workspace.CompareOutput(string(expected), actual) {
			failures = append(failures, CaseFailure{
				Case:   i,
				Reason: fmt.Sprintf("output mismatch: expected %q, got %q", truncate(string(expected), 80), truncate(actual, 80)),
			})
		}
	}
	return failures, nil
}

func (v *Validator) runCase(ctx context.Context, binPath string, input []byte) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, runCaseTimeout)
	defer cancel()

	cmd := exec.CommandContext(rctx, binPath)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if rctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("time limit exceeded (%v)", runCaseTimeout)
		}
		return "", fmt.Errorf("runtime error: %s", firstLines(stderr.String(), 3))
	}
	return stdout.String(), nil
}

// summarizeFailures renders failures for the retry context.
func summarizeFailures(failures []CaseFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("case %d: %s", f.Case, f.Reason))
	}
	return strings.Join(parts, "; ")
}

func firstLines(s string, n int) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
