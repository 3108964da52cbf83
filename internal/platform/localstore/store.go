// Package localstore keeps provider results and derived transcripts on
// local disk under <root>/<job_id>/.
package localstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const transcriptFile = "transcript.json"

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("missing env var TRANSCRIBE_CACHE_DIR")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) WriteRaw(jobID string, n int, data []byte) (string, error) {
	return s.write(jobID, fmt.Sprintf("raw-%d.json", n), data)
}

func (s *Store) WriteTranscript(jobID string, data []byte) (string, error) {
	return s.write(jobID, transcriptFile, data)
}

// Read returns the contents of a path previously handed out by this store.
func (s *Store) Read(path string) ([]byte, error) {
	clean, err := s.within(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(clean)
}

// write replaces the file atomically so a crash never leaves a torn copy
// at a path the job record points to.
func (s *Store) write(jobID, name string, data []byte) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	final := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return final, nil
}

func (s *Store) within(path string) (string, error) {
	clean := filepath.Clean(path)
	rel, err := filepath.Rel(s.root, clean)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q is outside the cache dir", path)
	}
	return clean, nil
}
