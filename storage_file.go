package twwplus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// FileStorage keeps every draft in one JSON object on disk. Writes replace
// the file through a temporary sibling and a rename.
type FileStorage struct {
	fs   afero.Fs
	path string

	mu     sync.Mutex
	loaded bool
	values map[string]string
}

// NewFileStorage stores drafts at path on fs. A nil fs means the OS filesystem.
func NewFileStorage(fs afero.Fs, path string) *FileStorage {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStorage{fs: fs, path: path}
}

func (s *FileStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return "", false, err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FileStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	s.values[key] = value
	return s.saveLocked()
}

// Keys returns every stored key.
func (s *FileStorage) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys, nil
}

// Reload discards the cached contents so the next access rereads the file.
func (s *FileStorage) Reload() {
	s.mu.Lock()
	s.loaded = false
	s.values = nil
	s.mu.Unlock()
}

func (s *FileStorage) loadLocked() error {
	if s.loaded {
		return nil
	}
	values := make(map[string]string)
	data, err := afero.ReadFile(s.fs, s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read draft file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("decode draft file: %w", err)
		}
	}
	s.values = values
	s.loaded = true
	return nil
}

func (s *FileStorage) saveLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode draft file: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := s.fs.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create draft dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("write draft file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace draft file: %w", err)
	}
	return nil
}

// Watch reports changes to the backing file made by other writers. It
// watches the parent directory so replacements by rename are seen. Only
// the OS filesystem can be watched.
func (s *FileStorage) Watch(onChange func()) (func() error, error) {
	if _, ok := s.fs.(*afero.OsFs); !ok {
		return nil, fmt.Errorf("%w: watching a non-OS filesystem", ErrNotImplemented)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create draft dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				s.Reload()
				if onChange != nil {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return watcher.Close, nil
}
