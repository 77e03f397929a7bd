package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NormalizeTestContent strips leading and trailing blank lines, trims
// trailing whitespace on every line, and guarantees exactly one trailing
// newline. Empty content becomes a single newline so downstream judges
// that reject zero-byte inputs still accept the file.
func NormalizeTestContent(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")

	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}

	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}

	if start == end {
		return "\n"
	}
	return strings.Join(lines[start:end], "\n") + "\n"
}

// NormalizeTestFiles rewrites every .in/.out file in the workspace tests
// directory with normalized content.
func (m *Manager) NormalizeTestFiles(dir string) error {
	testsPath := filepath.Join(dir, TestsDir)
	entries, err := os.ReadDir(testsPath)
	if err != nil {
		return fmt.Errorf("reading tests dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".in") && !strings.HasSuffix(name, ".out") {
			continue
		}
		path := filepath.Join(testsPath, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		normalized := NormalizeTestContent(string(data))
		if normalized != string(data) {
			if err := writeFileAtomic(path, []byte(normalized), 0o644); err != nil {
				return fmt.Errorf("rewriting %s: %w", name, err)
			}
		}
	}
	return nil
}

// ValidateTestsComplete checks that exactly the set {0..9}.in/.out exists.
func (m *Manager) ValidateTestsComplete(dir string) error {
	testsPath := filepath.Join(dir, TestsDir)
	for i := 0; i < TestCaseCount; i++ {
		for _, ext := range []string{".in", ".out"} {
			path := filepath.Join(testsPath, fmt.Sprintf("%d%s", i, ext))
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("missing test file %d%s", i, ext)
			}
		}
	}

	entries, err := os.ReadDir(testsPath)
	if err != nil {
		return fmt.Errorf("reading tests dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !isExpectedTestFile(name) {
			return fmt.Errorf("unexpected file in tests directory: %s", name)
		}
	}
	return nil
}

func isExpectedTestFile(name string) bool {
	for i := 0; i < TestCaseCount; i++ {
		if name == fmt.Sprintf("%d.in", i) || name == fmt.Sprintf("%d.out", i) {
			return true
		}
	}
	return false
}

// CompareOutput reports whether actual matches expected after the same
// normalization applied to generated test files, so whitespace-only
// differences never fail validation.
func CompareOutput(expected, actual string) bool {
	return NormalizeTestContent(expected) == NormalizeTestContent(actual)
}
