// Package storage provides the durable state of the sync engine: a
// key-value store modelled after platform persistent storage, the task
// cache snapshot, and the pending-operation queue.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// KeyValueStore models platform persistent storage: atomic whole-value
// writes per key, no transactions across keys. Callers must tolerate
// process termination between two related key writes, which is why the
// cache keeps the whole task collection under a single key.
type KeyValueStore interface {
	// GetItem returns the stored value for key, or ok=false if absent.
	GetItem(key string) (value string, ok bool, err error)
	// SetItem atomically replaces the value for key.
	SetItem(key, value string) error
	// RemoveItem deletes the value for key. Removing an absent key is not
	// an error.
	RemoveItem(key string) error
	// Close releases any resources backing the store.
	Close() error
}

// fileKVStore implements KeyValueStore with one file per key under basePath.
// Writes go through a temp file and rename so a crash mid-write never
// leaves a torn value visible.
type fileKVStore struct {
	basePath string
}

// NewFileKVStore creates a KeyValueStore rooted at basePath.
func NewFileKVStore(basePath string) KeyValueStore {
	return &fileKVStore{basePath: basePath}
}

func (s *fileKVStore) keyPath(key string) string {
	return filepath.Join(s.basePath, key+".json")
}

func (s *fileKVStore) GetItem(key string) (string, bool, error) {
	data, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return string(data), true, nil
}

func (s *fileKVStore) SetItem(key, value string) error {
	if err := os.MkdirAll(s.basePath, 0o750); err != nil {
		return fmt.Errorf("setting %s: creating directory: %w", key, err)
	}

	path := s.keyPath(key)
	tmp, err := os.CreateTemp(s.basePath, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("setting %s: creating temp file: %w", key, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("setting %s: writing temp file: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting %s: closing temp file: %w", key, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

func (s *fileKVStore) RemoveItem(key string) error {
	err := os.Remove(s.keyPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}

// Close is a no-op: each operation opens and closes its own file.
func (s *fileKVStore) Close() error {
	return nil
}
