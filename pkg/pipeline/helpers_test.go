package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ojobatch/ojo/pkg/adapter"
)

func TestExtractRealID(t *testing.T) {
	assert.Equal(t, "P55",
		extractRealID(&adapter.UploadResult{RealID: "P55"}))

	assert.Equal(t, "P77",
		extractRealID(&adapter.UploadResult{Response: map[string]any{"real_id": "P77"}}))

	// JSON numbers decode as float64.
	assert.Equal(t, "1234",
		extractRealID(&adapter.UploadResult{Response: map[string]any{"real_id": float64(1234)}}))

	assert.Equal(t, "P88",
		extractRealID(&adapter.UploadResult{Response: map[string]any{"url": "https://hydro.ac/d/system/p/P88"}}))
	assert.Equal(t, "P88",
		extractRealID(&adapter.UploadResult{Response: map[string]any{"url": "https://hydro.ac/d/system/p/P88/"}}))

	assert.Equal(t, "", extractRealID(&adapter.UploadResult{}))
}

func TestPublicProblemURL(t *testing.T) {
	l := adapter.NewLuoguAdapter()
	assert.Equal(t, "https://www.luogu.com.cn/problem/P1001", publicProblemURL(l, "P1001"))

	h := adapter.NewHydroAdapter()
	assert.Equal(t, "https://hydro.ac/problem/P55", publicProblemURL(h, "P55"),
		"non-fetchers fall back to base URL")
}

func TestAnneal(t *testing.T) {
	assert.InDelta(t, 0.15, anneal(0.3, tempStepValidation), 1e-6)
	assert.InDelta(t, 0.1, anneal(0.3, tempStepCE), 1e-6, "clamped at the floor")
	assert.InDelta(t, 0.1, anneal(0.1, tempStepValidation), 1e-6)
}

func TestChunkLines(t *testing.T) {
	assert.Nil(t, chunkLines("  \n\t"))
	assert.Equal(t, []string{"a", "b"}, chunkLines("a\r\nb"))
	assert.Equal(t, []string{"code line"}, chunkLines("\n\ncode line\n"))
}

func TestIsCompileError(t *testing.T) {
	assert.True(t, isCompileError("Compile Error"))
	assert.True(t, isCompileError("CE"))
	assert.False(t, isCompileError("Wrong Answer"))
	assert.False(t, isCompileError("Accepted"))
}

func TestSummarizeAndTruncate(t *testing.T) {
	s := summarizeFailures([]CaseFailure{
		{Case: 0, Reason: "wrong answer"},
		{Case: 3, Reason: "runtime error"},
	})
	assert.Equal(t, "case 0: wrong answer; case 3: runtime error", s)

	assert.Equal(t, "abc", truncate("abc", 5))
	long := strings.Repeat("x", 10)
	assert.Equal(t, "xxxxx...", truncate(long, 5))

	assert.Equal(t, "1\n2", firstLines("1\n2\n3\n", 2))
}

func TestRetryContextAccumulates(t *testing.T) {
	var rc retryContext
	rc.add(1, "validation failed", "int main(){}", 0.3)
	rc.add(2, "compile error", "", 0.15)
	assert.Len(t, rc.entries, 2)
	assert.Equal(t, 2, rc.entries[1].Attempt)
	assert.Equal(t, "compile error", rc.entries[1].Summary)
}
