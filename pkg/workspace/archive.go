package workspace

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
)

// PackTestcases zips the 20 test files into the workspace archive and
// returns its path. Entries are written in fixed order with zeroed
// timestamps, so two runs over byte-identical test files produce
// byte-identical archives.
func (m *Manager) PackTestcases(dir, canonicalID string) (string, error) {
	if err := m.ValidateTestsComplete(dir); err != nil {
		return "", err
	}

	archivePath := ArchivePath(dir, canonicalID)
	tmp, err := os.CreateTemp(dir, ".tmp-testcase-*.zip")
	if err != nil {
		return "", fmt.Errorf("creating archive temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw := zip.NewWriter(tmp)
	testsPath := filepath.Join(dir, TestsDir)

	for i := 0; i < TestCaseCount; i++ {
		for _, ext := range []string{".in", ".out"} {
			name := fmt.Sprintf("%d%s", i, ext)
			data, err := os.ReadFile(filepath.Join(testsPath, name))
			if err != nil {
				zw.Close()
				tmp.Close()
				return "", fmt.Errorf("reading %s: %w", name, err)
			}

			// Zero header time keeps the archive deterministic.
			hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
			w, err := zw.CreateHeader(hdr)
			if err != nil {
				zw.Close()
				tmp.Close()
				return "", fmt.Errorf("adding %s: %w", name, err)
			}
			if _, err := w.Write(data); err != nil {
				zw.Close()
				tmp.Close()
				return "", fmt.Errorf("writing %s: %w", name, err)
			}
		}
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("finalizing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmpName, archivePath); err != nil {
		return "", fmt.Errorf("moving archive into place: %w", err)
	}
	return archivePath, nil
}

// HasArchive reports whether the packaged testcase archive exists.
func (m *Manager) HasArchive(dir, canonicalID string) bool {
	_, err := os.Stat(ArchivePath(dir, canonicalID))
	return err == nil
}
