// Package checkpoint persists worker-id to job-id mappings for crash
// recovery. The checkpoint file is an observation aid for an external
// reaper; the job store remains the source of truth for job status.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the worker->job map in a JSON file. Writes go to a temp
// file followed by an atomic rename, so a recovery process never reads a
// half-written map.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates the data directory and an empty checkpoint file if
// none exists.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &FileStore{path: filepath.Join(dataDir, "checkpoints.json")}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := s.write(map[string]string{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Set records that the worker is processing the job.
func (s *FileStore) Set(workerID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.read()
	if err != nil {
		return err
	}
	data[workerID] = jobID
	return s.write(data)
}

// Clear removes the worker's entry after terminal persistence.
func (s *FileStore) Clear(workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := data[workerID]; !ok {
		return nil
	}
	delete(data, workerID)
	return s.write(data)
}

// Read returns the current worker->job map.
func (s *FileStore) Read() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}
	data := map[string]string{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse checkpoints: %w", err)
	}
	return data, nil
}

func (s *FileStore) write(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoints: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write checkpoints: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace checkpoints: %w", err)
	}
	return nil
}
