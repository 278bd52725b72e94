package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/robbob/launcher/internal/domain"
)

// StateFileName is the settings file inside the data directory.
const StateFileName = "state.json"

// FileStore implements domain.StateStore using a JSON object on disk.
// Every read goes to the file so changes made by other launcher
// processes are visible; writes hold an OS file lock.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store at path, creating its directory.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("%w: create state dir: %v", domain.ErrFilesystem, err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the value and whether key exists.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set stores a value.
func (s *FileStore) Set(key, value string) error {
	return s.update(func(values map[string]string) bool {
		if cur, ok := values[key]; ok && cur == value {
			return false
		}
		values[key] = value
		return true
	})
}

// Delete removes keys. Missing keys are ignored.
func (s *FileStore) Delete(keys ...string) error {
	return s.update(func(values map[string]string) bool {
		changed := false
		for _, k := range keys {
			if _, ok := values[k]; ok {
				delete(values, k)
				changed = true
			}
		}
		return changed
	})
}

// All returns a copy of every stored pair.
func (s *FileStore) All() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Close is a no-op; the file is not held open.
func (s *FileStore) Close() error {
	return nil
}

// update applies fn under the process mutex and the file lock, and writes
// the result when fn reports a change.
func (s *FileStore) update(fn func(map[string]string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lf, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("%w: open lock file: %v", domain.ErrFilesystem, err)
	}
	defer lf.Close()

	if err := lockExclusive(lf); err != nil {
		return fmt.Errorf("%w: acquire lock: %v", domain.ErrFilesystem, err)
	}
	defer func() { _ = unlockFile(lf) }()

	values, err := s.read()
	if err != nil {
		return err
	}
	if !fn(values) {
		return nil
	}
	return s.atomicWrite(values)
}

func (s *FileStore) read() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrParse, s.path, err)
	}
	return values, nil
}

// atomicWrite writes the store to file atomically (write + rename).
func (s *FileStore) atomicWrite(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	// Temp file unique per process
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	return nil
}

// Ensure FileStore implements domain.StateStore.
var _ domain.StateStore = (*FileStore)(nil)
