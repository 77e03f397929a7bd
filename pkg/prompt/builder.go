package prompt

import (
	"fmt"
	"strings"

	"github.com/ojobatch/ojo/pkg/models"
)

// snippetLimit truncates failed-attempt code snippets rendered into retry
// context.
const snippetLimit = 500

// maxRenderedRetries caps how many previous failures are rendered into
// the next prompt. Older entries are kept in memory but not rendered.
const maxRenderedRetries = 2

// RetryEntry is one failed-attempt summary fed back into the next prompt
// so the model is biased away from repeating the same mistake.
type RetryEntry struct {
	Attempt     int
	Summary     string // verdict or error summary
	CodeSnippet string // truncated to snippetLimit on render
	Temperature float32
}

// Builder assembles prompts for the gen and solve stages. Instruction
// texts come from the configured Provider so operators can tune wording
// without rebuilding.
type Builder struct {
	provider Provider
}

// Provider supplies the task-instruction texts. Exact wording is an
// external collaborator; DefaultProvider carries a workable baseline.
type Provider interface {
	GeneratorInstruction() string
	SolutionInstruction() string
}

// NewBuilder creates a Builder over the given provider, defaulting when nil.
func NewBuilder(p Provider) *Builder {
	if p == nil {
		p = DefaultProvider{}
	}
	return &Builder{provider: p}
}

// Generator builds the prompt asking for a test-data generator.
// referenceSolutions is opaque text from the solution searcher; "" means
// none.
func (b *Builder) Generator(p *models.ProblemData, retries []RetryEntry, referenceSolutions string) string {
	var sb strings.Builder
	writeStatement(&sb, p)
	if referenceSolutions != "" {
		sb.WriteString("\n## Reference solutions\n\n")
		sb.WriteString(referenceSolutions)
		sb.WriteString("\n")
	}
	writeRetryContext(&sb, retries)
	sb.WriteString("\n## Task\n\n")
	sb.WriteString(b.provider.GeneratorInstruction())
	return sb.String()
}

// Solution builds the prompt asking for a reference solution.
func (b *Builder) Solution(p *models.ProblemData, retries []RetryEntry, referenceSolutions string) string {
	var sb strings.Builder
	writeStatement(&sb, p)
	if referenceSolutions != "" {
		sb.WriteString("\n## Reference solutions\n\n")
		sb.WriteString(referenceSolutions)
		sb.WriteString("\n")
	}
	writeRetryContext(&sb, retries)
	sb.WriteString("\n## Task\n\n")
	sb.WriteString(b.provider.SolutionInstruction())
	return sb.String()
}

func writeStatement(sb *strings.Builder, p *models.ProblemData) {
	fmt.Fprintf(sb, "# %s\n\n%s\n", p.Title, p.Description)
	if p.InputFormat != "" {
		fmt.Fprintf(sb, "\n## Input format\n\n%s\n", p.InputFormat)
	}
	if p.OutputFormat != "" {
		fmt.Fprintf(sb, "\n## Output format\n\n%s\n", p.OutputFormat)
	}
	for i, s := range p.Samples {
		fmt.Fprintf(sb, "\n## Sample %d\n\nInput:\n```\n%s\n```\nOutput:\n```\n%s\n```\n", i+1, s.Input, s.Output)
	}
	if p.TimeLimitMS > 0 {
		fmt.Fprintf(sb, "\nTime limit: %d ms\n", p.TimeLimitMS)
	}
	if p.MemoryLimitMB > 0 {
		fmt.Fprintf(sb, "Memory limit: %d MB\n", p.MemoryLimitMB)
	}
}

// writeRetryContext renders at most the two most recent failures.
func writeRetryContext(sb *strings.Builder, retries []RetryEntry) {
	if len(retries) == 0 {
		return
	}
	recent := retries
	if len(recent) > maxRenderedRetries {
		recent = recent[len(recent)-maxRenderedRetries:]
	}
	sb.WriteString("\n## Previous failed attempts\n\n")
	sb.WriteString("Avoid repeating these mistakes.\n")
	for _, e := range recent {
		fmt.Fprintf(sb, "\n**Attempt %d** (temperature %.2f): %s\n", e.Attempt, e.Temperature, e.Summary)
		if e.CodeSnippet != "" {
			snippet := e.CodeSnippet
			if len(snippet) > snippetLimit {
				snippet = snippet[:snippetLimit] + "..."
			}
			fmt.Fprintf(sb, "```\n%s\n```\n", snippet)
		}
	}
}

// DefaultProvider is the built-in instruction set.
type DefaultProvider struct{}

func (DefaultProvider) GeneratorInstruction() string {
	return strings.TrimSpace(`
Write a single self-contained Python 3 script that generates test data for this problem.

Requirements:
- Produce exactly 10 test cases named 0.in/0.out through 9.in/9.out in the current directory.
- Solve the problem internally to compute each .out from its .in.
- Cover edge cases (minimum sizes, boundary values) in the low-numbered cases and larger random cases afterwards.
- Use only the Python standard library. No network access, no subprocesses, no reading stdin.
- Print nothing except optional progress messages to stderr.

Respond with exactly one fenced python code block.`) + "\n"
}

func (DefaultProvider) SolutionInstruction() string {
	return strings.TrimSpace(`
Write a correct and efficient C++17 solution for this problem.

Requirements:
- Read from standard input and write to standard output exactly as the statement specifies.
- Stay within the stated time and memory limits.
- No extra output, prompts, or debugging text.

Respond with exactly one fenced cpp code block.`) + "\n"
}
