package services

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ojobatch/ojo/pkg/workspace"
)

// ErrNoArtifacts is returned when a task's workspace has nothing to
// download yet.
var ErrNoArtifacts = errors.New("no artifacts for this task yet")

// WriteWorkspaceZip streams a task's artifact set as a ZIP: the rendered
// statement, the generated test files, and the solution when present.
func (s *TaskService) WriteWorkspaceZip(ctx context.Context, w io.Writer, taskID, callerID int64, isAdmin bool) error {
	task, err := s.GetTask(ctx, taskID, callerID, isAdmin)
	if err != nil {
		return err
	}
	dir := s.ws.Dir(task.UserID, task.ProblemID)

	zw := zip.NewWriter(w)
	wrote := 0

	if p, err := s.ws.Load(dir); err == nil {
		if err := addZipEntry(zw, workspace.StatementFile, []byte(workspace.RenderStatement(p))); err != nil {
			return err
		}
		wrote++
	}

	testsPath := filepath.Join(dir, workspace.TestsDir)
	for i := 0; i < workspace.TestCaseCount; i++ {
		for _, ext := range []string{".in", ".out"} {
			name := fmt.Sprintf("%d%s", i, ext)
			data, err := os.ReadFile(filepath.Join(testsPath, name))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return fmt.Errorf("reading %s: %w", name, err)
			}
			if err := addZipEntry(zw, filepath.Join(workspace.TestsDir, name), data); err != nil {
				return err
			}
			wrote++
		}
	}

	if code := s.ws.ReadSolution(dir); code != "" {
		if err := addZipEntry(zw, workspace.SolutionFile, []byte(code)); err != nil {
			return err
		}
		wrote++
	}

	if wrote == 0 {
		zw.Close()
		return ErrNoArtifacts
	}
	return zw.Close()
}

func addZipEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.ToSlash(name), Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("adding %s to archive: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s to archive: %w", name, err)
	}
	return nil
}
