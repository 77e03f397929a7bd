package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ojobatch/ojo/pkg/models"
)

func testProblem() *models.ProblemData {
	return &models.ProblemData{
		ID:          "luogu_P1001",
		Source:      "luogu",
		Title:       "A+B Problem",
		Description: "Compute a+b.",
		Samples:     []models.Sample{{Input: "1 2", Output: "3"}},
		TimeLimitMS: 1000,
		Tags:        []string{},
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a_b_c", Sanitize("a/b:c"))
	assert.Equal(t, "x_y", Sanitize("x y"))
	assert.Equal(t, "plain-id_123", Sanitize("plain-id_123"))
}

func TestDirLayout(t *testing.T) {
	m := NewManager(t.TempDir())
	dir := m.Dir(7, "luogu_P1001")
	assert.Contains(t, dir, "user_7")
	assert.Contains(t, dir, "problem_luogu_P1001")
}

func TestSaveLoadRoundtrip(t *testing.T) {
	m := NewManager(t.TempDir())
	dir := m.Dir(1, "luogu_P1001")

	require.NoError(t, m.Save(dir, testProblem()))
	assert.True(t, m.HasProblemData(dir))

	p, err := m.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "A+B Problem", p.Title)
	assert.Len(t, p.Samples, 1)

	// The rendered statement is refreshed alongside the JSON.
	rendered, err := os.ReadFile(filepath.Join(dir, StatementFile))
	require.NoError(t, err)
	assert.Contains(t, string(rendered), "# A+B Problem")
	assert.Contains(t, string(rendered), "1 2")
}

func TestLoadMissing(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.Load(m.Dir(1, "nope"))
	assert.ErrorIs(t, err, ErrNoProblemData)
}

func TestProcessingStatusMerge(t *testing.T) {
	m := NewManager(t.TempDir())
	dir := m.Dir(1, "luogu_P1001")
	require.NoError(t, m.EnsureDir(dir))

	now := time.Now()
	require.NoError(t, m.SetProcessingStatus(dir, models.StatusPatch{
		LastStage: models.StringPtr("fetch"),
		OkFetch:   models.BoolPtr(true),
		FetchedAt: models.TimePtr(now),
	}))
	require.NoError(t, m.SetProcessingStatus(dir, models.StatusPatch{
		LastStage: models.StringPtr("gen"),
		OkGen:     models.BoolPtr(true),
	}))

	st, err := m.GetProcessingStatus(dir)
	require.NoError(t, err)
	assert.Equal(t, "gen", st.LastStage)
	assert.True(t, st.OkFetch, "earlier stage result must survive the merge")
	assert.True(t, st.OkGen)
	assert.False(t, st.OkSolve)
	require.NotNil(t, st.FetchedAt)
}

func TestIsCompleted(t *testing.T) {
	m := NewManager(t.TempDir())
	dir := m.Dir(1, "luogu_P1001")
	require.NoError(t, m.EnsureDir(dir))

	assert.False(t, m.IsCompleted(dir))
	require.NoError(t, m.SetProcessingStatus(dir, models.StatusPatch{OkSolve: models.BoolPtr(true)}))
	assert.True(t, m.IsCompleted(dir))
}

func TestUploadRealIDs(t *testing.T) {
	m := NewManager(t.TempDir())
	dir := m.Dir(1, "luogu_P1001")
	require.NoError(t, m.EnsureDir(dir))

	_, ok := m.GetUploadRealID(dir, "hydro")
	assert.False(t, ok)

	require.NoError(t, m.SetUploadRealID(dir, "hydro", "P42"))
	id, ok := m.GetUploadRealID(dir, "hydro")
	require.True(t, ok)
	assert.Equal(t, "P42", id)

	// A second destination does not clobber the first.
	require.NoError(t, m.SetUploadRealID(dir, "other", "X9"))
	id, ok = m.GetUploadRealID(dir, "hydro")
	require.True(t, ok)
	assert.Equal(t, "P42", id)
}

func TestClearGenArtifacts(t *testing.T) {
	m := NewManager(t.TempDir())
	dir := m.Dir(1, "luogu_P1001")
	require.NoError(t, m.Save(dir, testProblem()))
	require.NoError(t, m.WriteSolution(dir, "int main(){}"))
	writeTestPairs(t, dir, 10)

	_, err := m.PackTestcases(dir, "luogu_P1001")
	require.NoError(t, err)
	require.True(t, m.HasArchive(dir, "luogu_P1001"))

	require.NoError(t, m.ClearGenArtifacts(dir, "luogu_P1001"))
	assert.False(t, m.HasArchive(dir, "luogu_P1001"))
	assert.True(t, m.HasProblemData(dir), "statement must survive a gen reset")
	assert.NotEmpty(t, m.ReadSolution(dir), "solution must survive a gen reset")

	// The tests dir is recreated empty.
	entries, err := os.ReadDir(filepath.Join(dir, TestsDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadSolutionMissing(t *testing.T) {
	m := NewManager(t.TempDir())
	assert.Equal(t, "", m.ReadSolution(m.Dir(1, "nope")))
}
