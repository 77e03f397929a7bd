// Package workspace manages per-(user, problem) artifact directories:
// the canonical statement, processing status, generated tests, packaged
// archives, solution code, and pipeline logs.
//
// Layout: <base>/user_<id>/problem_<sanitized_canonical_id>/
//
// All JSON writes are atomic (temp file + rename) so concurrent readers
// of processing_status.json never observe a half-written file.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ojobatch/ojo/pkg/models"
)

// Well-known file names inside a problem workspace.
const (
	ProblemDataFile      = "problem_data.json"
	ProcessingStatusFile = "processing_status.json"
	StatementFile        = "problem_statement.md"
	GeneratorFile        = "gen.py"
	SolutionFile         = "solution.cpp"
	PipelineLogFile      = "pipeline.log"
	TestsDir             = "tests"
)

// TestCaseCount is the fixed number of generated test pairs, numbered 0..9.
const TestCaseCount = 10

// ErrNoProblemData is returned by Load when the workspace has no statement.
var ErrNoProblemData = errors.New("no problem data in workspace")

// Manager provides the only legitimate access path to artifact sets.
type Manager struct {
	base string

	// statusMu serializes read-merge-write cycles on processing_status.json.
	statusMu sync.Mutex
}

// NewManager creates a manager rooted at base. Resolution order for an
// empty base: $OJO_WORKSPACE → /app/workspace (if present) → ./workspace.
func NewManager(base string) *Manager {
	if base == "" {
		base = DefaultBase()
	}
	return &Manager{base: base}
}

// DefaultBase resolves the workspace root from the environment.
func DefaultBase() string {
	if env := os.Getenv("OJO_WORKSPACE"); env != "" {
		return env
	}
	if info, err := os.Stat("/app/workspace"); err == nil && info.IsDir() {
		return "/app/workspace"
	}
	return "workspace"
}

// Base returns the workspace root.
func (m *Manager) Base() string {
	return m.base
}

// Sanitize replaces filesystem-illegal characters with underscores.
func Sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
}

// Dir returns the problem workspace directory for a canonical id.
// The directory is not created; use EnsureDir before writing.
func (m *Manager) Dir(userID int64, canonicalID string) string {
	return filepath.Join(m.base,
		fmt.Sprintf("user_%d", userID),
		"problem_"+Sanitize(canonicalID))
}

// EnsureDir creates the problem workspace (and its tests subdirectory).
func (m *Manager) EnsureDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, TestsDir), 0o755)
}

// ArchivePath returns the packaged-testcase zip path for a canonical id.
func ArchivePath(dir, canonicalID string) string {
	return filepath.Join(dir, "problem_"+Sanitize(canonicalID)+"_testcase.zip")
}

// LogPath returns the pipeline log path inside a workspace.
func LogPath(dir string) string {
	return filepath.Join(dir, PipelineLogFile)
}

// Load reads problem_data.json. Returns ErrNoProblemData when absent.
func (m *Manager) Load(dir string) (*models.ProblemData, error) {
	data, err := os.ReadFile(filepath.Join(dir, ProblemDataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoProblemData
		}
		return nil, fmt.Errorf("reading problem data: %w", err)
	}
	var p models.ProblemData
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing problem data: %w", err)
	}
	return &p, nil
}

// Save writes problem_data.json atomically and refreshes the rendered
// statement alongside it.
func (m *Manager) Save(dir string, p *models.ProblemData) error {
	if err := m.EnsureDir(dir); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, ProblemDataFile), p); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, StatementFile), []byte(RenderStatement(p)), 0o644)
}

// HasProblemData reports whether a statement is present.
func (m *Manager) HasProblemData(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ProblemDataFile))
	return err == nil
}

// GetProcessingStatus reads processing_status.json, returning a zero
// status when the file does not exist yet.
func (m *Manager) GetProcessingStatus(dir string) (models.ProcessingStatus, error) {
	var st models.ProcessingStatus
	data, err := os.ReadFile(filepath.Join(dir, ProcessingStatusFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("reading processing status: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parsing processing status: %w", err)
	}
	return st, nil
}

// SetProcessingStatus merges the patch into the stored status.
func (m *Manager) SetProcessingStatus(dir string, patch models.StatusPatch) error {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	st, err := m.GetProcessingStatus(dir)
	if err != nil {
		return err
	}
	patch.Apply(&st)
	return m.writeStatusLocked(dir, st)
}

// IsCompleted reports whether the artifact set is AC-confirmed
// (processing_status.ok_solve == true).
func (m *Manager) IsCompleted(dir string) bool {
	st, err := m.GetProcessingStatus(dir)
	return err == nil && st.Completed()
}

// SetUploadRealID records the destination judge's internal problem id
// under the adapter name.
func (m *Manager) SetUploadRealID(dir, adapterName, realID string) error {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	st, err := m.GetProcessingStatus(dir)
	if err != nil {
		return err
	}
	if st.UploadRealIDs == nil {
		st.UploadRealIDs = make(map[string]string)
	}
	st.UploadRealIDs[adapterName] = realID
	return m.writeStatusLocked(dir, st)
}

// GetUploadRealID returns the recorded remote id for an adapter, if any.
func (m *Manager) GetUploadRealID(dir, adapterName string) (string, bool) {
	st, err := m.GetProcessingStatus(dir)
	if err != nil {
		return "", false
	}
	id, ok := st.UploadRealIDs[adapterName]
	return id, ok && id != ""
}

// SetValidationResult records the local-validation outcome.
func (m *Manager) SetValidationResult(dir string, passed bool) error {
	return m.SetProcessingStatus(dir, models.StatusPatch{ValidationPassed: models.BoolPtr(passed)})
}

// ClearGenArtifacts removes the tests directory and packaged archive so a
// re-entered gen stage starts from a clean slate. problem_data.json and
// solution.cpp survive.
func (m *Manager) ClearGenArtifacts(dir, canonicalID string) error {
	if err := os.RemoveAll(filepath.Join(dir, TestsDir)); err != nil {
		return fmt.Errorf("clearing tests: %w", err)
	}
	if err := os.Remove(ArchivePath(dir, canonicalID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing archive: %w", err)
	}
	return os.MkdirAll(filepath.Join(dir, TestsDir), 0o755)
}

// ReadSolution returns the stored solution code, or "" when absent.
func (m *Manager) ReadSolution(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, SolutionFile))
	if err != nil {
		return ""
	}
	return string(data)
}

// WriteSolution persists solution code atomically.
func (m *Manager) WriteSolution(dir, code string) error {
	if err := m.EnsureDir(dir); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, SolutionFile), []byte(code), 0o644)
}

// WriteGenerator persists generator code atomically.
func (m *Manager) WriteGenerator(dir, code string) error {
	if err := m.EnsureDir(dir); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, GeneratorFile), []byte(code), 0o644)
}

// Delete removes the whole problem workspace.
func (m *Manager) Delete(dir string) error {
	return os.RemoveAll(dir)
}

// RenderStatement produces the human-readable markdown rendering of a
// problem statement.
func RenderStatement(p *models.ProblemData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	if p.TimeLimitMS > 0 {
		fmt.Fprintf(&b, "Time limit: %d ms\n\n", p.TimeLimitMS)
	}
	if p.MemoryLimitMB > 0 {
		fmt.Fprintf(&b, "Memory limit: %d MB\n\n", p.MemoryLimitMB)
	}
	b.WriteString(p.Description)
	b.WriteString("\n")
	if p.InputFormat != "" {
		fmt.Fprintf(&b, "\n## Input\n\n%s\n", p.InputFormat)
	}
	if p.OutputFormat != "" {
		fmt.Fprintf(&b, "\n## Output\n\n%s\n", p.OutputFormat)
	}
	for i, s := range p.Samples {
		fmt.Fprintf(&b, "\n## Sample %d\n\nInput:\n```\n%s\n```\n\nOutput:\n```\n%s\n```\n", i+1, s.Input, s.Output)
	}
	if p.Hints != "" {
		fmt.Fprintf(&b, "\n## Hints\n\n%s\n", p.Hints)
	}
	if p.URL != "" {
		fmt.Fprintf(&b, "\nSource: %s\n", p.URL)
	}
	return b.String()
}

// writeStatusLocked persists the processing status; callers must hold
// statusMu.
func (m *Manager) writeStatusLocked(dir string, st models.ProcessingStatus) error {
	return writeJSONAtomic(filepath.Join(dir, ProcessingStatusFile), st)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// writeFileAtomic writes to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}
