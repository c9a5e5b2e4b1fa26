package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/deixis/procman/internal/runner"
)

// DiskStore writes executions as JSON files, one per run.
type DiskStore struct {
	mu  sync.Mutex
	dir string
}

// NewDiskStore creates a DiskStore rooted at dir. If dir is empty a temp
// directory is created lazily on the first use.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Save writes an execution as a JSON file to disk.
func (s *DiskStore) Save(e *runner.Execution) error {
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling run %s: %w", e.RunID, err)
	}
	path := filepath.Join(dir, e.RunID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run %s: %w", e.RunID, err)
	}
	return nil
}

// Load reads an execution from disk.
func (s *DiskStore) Load(runID string) (*runner.Execution, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	return readRun(filepath.Join(dir, runID+".json"))
}

// List reads every stored execution and applies q.
func (s *DiskStore) List(q Query) ([]runner.Execution, error) {
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	all := make([]runner.Execution, 0, len(paths))
	for _, p := range paths {
		e, err := readRun(p)
		if err != nil {
			return nil, err
		}
		all = append(all, *e)
	}
	return q.Apply(all), nil
}

// Clear removes every stored execution.
func (s *DiskStore) Clear() error {
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *DiskStore) Close() error {
	return nil
}

// Dir returns the directory runs are written to, creating it if needed.
func (s *DiskStore) Dir() (string, error) {
	return s.ensureDir()
}

func readRun(path string) (*runner.Execution, error) {
	runID := strings.TrimSuffix(filepath.Base(path), ".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	var e runner.Execution
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshalling run %s: %w", runID, err)
	}
	return &e, nil
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return "", fmt.Errorf("creating run directory: %w", err)
		}
		return s.dir, nil
	}
	dir, err := os.MkdirTemp("", "procman-runs-*")
	if err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	s.dir = dir
	return dir, nil
}
