// Package storage provides the local key-value persistence used for the
// cached user envelope and the cookie jar.
//
// Values are JSON documents. Backends: file (default), sqlite, redis,
// keyring and memory.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when the key has no value
	ErrNotFound = errors.New("storage: key not found")

	// ErrInvalidValue is returned by Set when the value is not a JSON document
	ErrInvalidValue = errors.New("storage: value must be a JSON document")
)

// Store is a process-wide key-value store
type Store interface {
	// Get returns the value stored under key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Clear deletes every key owned by this store
	Clear(ctx context.Context) error

	// Keys lists the stored keys in lexical order
	Keys(ctx context.Context) ([]string, error)

	Close() error
}

// Len returns the number of stored entries
func Len(ctx context.Context, s Store) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// GetJSON decodes the value stored under key into a new T.
// A missing key yields (nil, nil).
func GetJSON[T any](ctx context.Context, s Store, key string) (*T, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode storage key %s: %w", key, err)
	}
	return &out, nil
}

// SetJSON encodes value as JSON and stores it under key
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode storage key %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

func validateValue(value []byte) error {
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	return nil
}
