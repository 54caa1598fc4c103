package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

const (
	configDirName = "cookiesync"
	fileName      = "store.json"
)

// DefaultFilePath returns ~/.config/cookiesync/store.json
func DefaultFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", configDirName, fileName), nil
}

// FileStore keeps all entries in a single JSON document on disk.
// Every operation re-reads the file so separate processes see each other's writes.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFile creates a store backed by the JSON file at path. The file is
// created on first write.
func NewFile(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) load() (map[string]json.RawMessage, error) {
	entries := make(map[string]json.RawMessage)

	// If the file doesn't exist, return an empty document
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	if len(data) == 0 {
		return entries, nil
	}

	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}
	return entries, nil
}

func (f *FileStore) save(entries map[string]json.RawMessage) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	// Write to a sibling file and rename so readers never see a partial document
	tmp, err := os.CreateTemp(dir, fileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set store file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return nil, err
	}

	value, ok := entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	if err := validateValue(value); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}

	entries[key] = slices.Clone(value)
	return f.save(entries)
}

func (f *FileStore) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}

	if _, ok := entries[key]; !ok {
		return nil
	}

	delete(entries, key)
	return f.save(entries)
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove store file: %w", err)
	}
	return nil
}

func (f *FileStore) Keys(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

func (f *FileStore) Close() error {
	return nil
}
