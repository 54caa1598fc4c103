package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService  = "cookiesync"
	keyringIndexKey = "__index__"
)

// KeyringStore persists entries in the OS keychain/credential manager.
// go-keyring can't enumerate secrets, so the key list is kept in an index entry.
type KeyringStore struct {
	service string
	mu      sync.Mutex
}

// NewKeyring creates a keyring-backed store. An empty service uses "cookiesync".
func NewKeyring(service string) *KeyringStore {
	if service == "" {
		service = keyringService
	}
	return &KeyringStore{service: service}
}

func (k *KeyringStore) loadIndex() ([]string, error) {
	raw, err := keyring.Get(k.service, keyringIndexKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load keyring index: %w", err)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("failed to parse keyring index: %w", err)
	}
	return keys, nil
}

func (k *KeyringStore) saveIndex(keys []string) error {
	if len(keys) == 0 {
		if err := keyring.Delete(k.service, keyringIndexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to delete keyring index: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to marshal keyring index: %w", err)
	}
	if err := keyring.Set(k.service, keyringIndexKey, string(data)); err != nil {
		return fmt.Errorf("failed to save keyring index: %w", err)
	}
	return nil
}

func (k *KeyringStore) Get(_ context.Context, key string) ([]byte, error) {
	value, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load key %s: %w", key, err)
	}
	return []byte(value), nil
}

func (k *KeyringStore) Set(_ context.Context, key string, value []byte) error {
	if err := validateValue(value); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Set(k.service, key, string(value)); err != nil {
		return fmt.Errorf("failed to save key %s: %w", key, err)
	}

	keys, err := k.loadIndex()
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}

	keys = append(keys, key)
	slices.Sort(keys)
	return k.saveIndex(keys)
}

func (k *KeyringStore) Remove(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	keys, err := k.loadIndex()
	if err != nil {
		return err
	}
	return k.saveIndex(slices.DeleteFunc(keys, func(s string) bool { return s == key }))
}

func (k *KeyringStore) Clear(_ context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.loadIndex()
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to delete key %s: %w", key, err)
		}
	}
	return k.saveIndex(nil)
}

func (k *KeyringStore) Keys(_ context.Context) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.loadIndex()
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

func (k *KeyringStore) Close() error {
	return nil
}
