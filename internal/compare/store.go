// Package compare matches captured screenshots and HTML snapshots against
// stored baselines and writes the artifacts of failed comparisons.
package compare

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Key identifies one baseline: a project directory, the suite that
// declares the test and the file name derived from the test slug (for
// example "buttons/primary.png"). Suite may be empty.
type Key struct {
	Project string
	Suite   string
	File    string
}

// Store lays out baselines and run outputs on disk:
//
//	<SnapshotDir>/<project>/<suite>/<slug>.png   baseline screenshot
//	<SnapshotDir>/<project>/<suite>/<slug>.html  baseline HTML
//	<OutputDir>/<project>/<suite>/<slug>/...      actual, expected, diff, trace
type Store struct {
	SnapshotDir string
	OutputDir   string
}

// BaselinePath returns the path of the baseline file for key.
func (s Store) BaselinePath(k Key) string {
	return filepath.Join(s.SnapshotDir, k.Project, k.Suite, filepath.FromSlash(k.File))
}

// OutputPath returns the per-test output directory for key, named after the
// file without its extension.
func (s Store) OutputPath(k Key) string {
	name := k.File[:len(k.File)-len(filepath.Ext(k.File))]
	return filepath.Join(s.OutputDir, k.Project, k.Suite, filepath.FromSlash(name))
}

// ReadBaseline returns the baseline bytes, or ErrMissingBaseline.
func (s Store) ReadBaseline(k Key) ([]byte, error) {
	data, err := os.ReadFile(s.BaselinePath(k))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingBaseline, s.BaselinePath(k))
	}
	if err != nil {
		return nil, fmt.Errorf("compare: read baseline: %w", err)
	}
	return data, nil
}

// WriteBaseline stores data as the baseline for key.
func (s Store) WriteBaseline(k Key, data []byte) (string, error) {
	return writeFile(s.BaselinePath(k), data)
}

// WriteOutput stores an artifact in the output directory of key.
func (s Store) WriteOutput(k Key, name string, data []byte) (string, error) {
	return writeFile(filepath.Join(s.OutputPath(k), name), data)
}

func writeFile(path string, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("compare: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("compare: write: %w", err)
	}
	return path, nil
}
