package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
)

// FileStore persists values as a single JSON file, written through on every
// mutation. Sessions and wallet records are few, so rewriting the whole file
// is fine.
type FileStore struct {
	path  string
	mu    sync.RWMutex
	items map[string]string
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, items: map[string]string{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read storage file")
	}
	if err := json.Unmarshal(data, &s.items); err != nil {
		return nil, errors.Wrap(err, "parse storage file")
	}
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.items[key]
	return value, ok
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return s.persist()
}

func (s *FileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return s.persist()
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = map[string]string{}
	return s.persist()
}

func (s *FileStore) persist() error {
	data, err := json.Marshal(s.items)
	if err != nil {
		return errors.Wrap(err, "encode storage file")
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create storage dir")
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write storage file")
	}
	return os.Rename(tmp, s.path)
}
