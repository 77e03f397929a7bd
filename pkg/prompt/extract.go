// Package prompt assembles LLM prompts for the gen and solve stages and
// post-processes model responses: fenced code-block extraction and code
// sanitation.
package prompt

import (
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```([a-zA-Z0-9+#_-]*)[ \t]*\n(.*?)```")

// CodeBlock is one extracted fenced block.
type CodeBlock struct {
	Language string
	Code     string
}

// ExtractCodeBlocks returns every fenced code block in order.
func ExtractCodeBlocks(text string) []CodeBlock {
	matches := fencedBlock.FindAllStringSubmatch(text, -1)
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, CodeBlock{
			Language: strings.ToLower(strings.TrimSpace(m[1])),
			Code:     m[2],
		})
	}
	return blocks
}

// ExtractCode returns the first fenced block matching one of the wanted
// languages, falling back to the first block of any language, falling
// back to the raw text when it looks like bare code (no prose markers).
// Returns "" when nothing plausible is found.
func ExtractCode(text string, languages ...string) string {
	blocks := ExtractCodeBlocks(text)
	for _, want := range languages {
		for _, b := range blocks {
			if b.Language == want {
				return strings.TrimSpace(b.Code) + "\n"
			}
		}
	}
	if len(blocks) > 0 {
		return strings.TrimSpace(blocks[0].Code) + "\n"
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	// Heuristic: responses that are pure code tend not to open with prose.
	if looksLikeCode(trimmed) {
		return trimmed + "\n"
	}
	return ""
}

// ExtractLastCode returns the LAST fenced block, preferring the wanted
// languages. Reasoning models sometimes emit several drafts; the last one
// is the survivor.
func ExtractLastCode(text string, languages ...string) string {
	blocks := ExtractCodeBlocks(text)
	if len(blocks) == 0 {
		return ""
	}
	for _, want := range languages {
		for i := len(blocks) - 1; i >= 0; i-- {
			if blocks[i].Language == want {
				return strings.TrimSpace(blocks[i].Code) + "\n"
			}
		}
	}
	return strings.TrimSpace(blocks[len(blocks)-1].Code) + "\n"
}

func looksLikeCode(text string) bool {
	head := text
	if idx := strings.IndexByte(head, '\n'); idx > 0 {
		head = head[:idx]
	}
	codeStarts := []string{"#include", "import ", "from ", "def ", "int ", "using ", "#!", "package ", "// ", "#"}
	for _, s := range codeStarts {
		if strings.HasPrefix(head, s) {
			return true
		}
	}
	return false
}
