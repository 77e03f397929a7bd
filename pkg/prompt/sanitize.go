package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Patterns a generated Python generator must not contain. Generators run
// in a subprocess on the service host; network and interactive input are
// never legitimate for test-data generation.
var forbiddenGenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*(import|from)\s+(socket|requests|urllib|http\.client|subprocess)\b`),
	regexp.MustCompile(`\binput\s*\(`),
	regexp.MustCompile(`\bos\.system\s*\(`),
}

// SanitizeGeneratorCode normalizes and vets LLM-produced generator code.
// It strips stray fence remnants, normalizes newlines, and rejects code
// that reaches for the network, spawns processes, or blocks on stdin.
func SanitizeGeneratorCode(code string) (string, error) {
	code = stripFenceRemnants(code)
	code = strings.ReplaceAll(code, "\r\n", "\n")
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("generator code is empty")
	}
	for _, pat := range forbiddenGenPatterns {
		if loc := pat.FindString(code); loc != "" {
			return "", fmt.Errorf("generator code contains forbidden construct: %s", strings.TrimSpace(loc))
		}
	}
	return code + "\n", nil
}

// SanitizeSolutionCode normalizes LLM-produced solution code.
func SanitizeSolutionCode(code string) (string, error) {
	code = stripFenceRemnants(code)
	code = strings.ReplaceAll(code, "\r\n", "\n")
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("solution code is empty")
	}
	return code + "\n", nil
}

// IsTrivialSolution reports whether stored solution code is too small to
// be worth reusing (placeholder files, failed extractions).
func IsTrivialSolution(code string) bool {
	return len(strings.TrimSpace(code)) < 30
}

// stripFenceRemnants removes markdown fence lines that survived block
// extraction, e.g. when a model nests fences.
func stripFenceRemnants(code string) string {
	lines := strings.Split(code, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
