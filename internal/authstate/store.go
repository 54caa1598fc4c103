// Package authstate keeps the cached authentication state consistent with
// the persisted user envelope.
//
// Writes persist the envelope before raising the flag and deletes remove
// it before lowering the flag, so an observer that sees true can always
// read the user back.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/branchd-dev/cookiesync/internal/storage"
)

// UserKey is the storage key of the user envelope
const UserKey = "user"

var (
	// ErrPersistence wraps storage failures while writing or removing the envelope
	ErrPersistence = errors.New("failed to persist authentication state")

	// ErrInvalidUserData is returned when an envelope fails validation
	ErrInvalidUserData = errors.New("invalid user data")
)

// Store is the authentication state of the application
type Store struct {
	store    storage.Store
	log      zerolog.Logger
	validate *validator.Validate

	// writeMu orders persistence and flag updates of concurrent writers
	writeMu sync.Mutex

	mu            sync.RWMutex
	authenticated bool
	subscribers   map[chan bool]struct{}
}

// New creates a Store over s. The flag stays false until Rehydrate or a write.
func New(s storage.Store, log zerolog.Logger) *Store {
	return &Store{
		store:       s,
		log:         log.With().Str("component", "authstate").Logger(),
		validate:    validator.New(),
		subscribers: make(map[chan bool]struct{}),
	}
}

// Rehydrate raises the flag when a persisted envelope exists. It never writes.
func (s *Store) Rehydrate(ctx context.Context) error {
	data, err := s.CompleteUserData(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read persisted user, starting unauthenticated")
		return err
	}
	if data == nil {
		s.log.Debug().Msg("No persisted user")
		return nil
	}

	s.setFlag(true)
	s.log.Debug().Int64("user_id", data.User.ID).Msg("Authentication state restored")
	return nil
}

// SetUserData validates and persists data, then marks the state authenticated.
// On failure the flag is left unchanged.
func (s *Store) SetUserData(ctx context.Context, data CompleteUserData) error {
	if err := s.Validate(data); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := storage.SetJSON(ctx, s.store, UserKey, data); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist user")
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.setFlag(true)
	s.log.Info().Int64("user_id", data.User.ID).Msg("User data stored")
	return nil
}

// ClearUserData removes the persisted envelope, then marks the state
// unauthenticated. On failure the flag is left unchanged.
func (s *Store) ClearUserData(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.store.Remove(ctx, UserKey); err != nil {
		s.log.Error().Err(err).Msg("Failed to remove user")
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.setFlag(false)
	s.log.Info().Msg("User data cleared")
	return nil
}

// CompleteUserData returns the persisted envelope, or nil when there is none
func (s *Store) CompleteUserData(ctx context.Context) (*CompleteUserData, error) {
	data, err := storage.GetJSON[CompleteUserData](ctx, s.store, UserKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read user data: %w", err)
	}
	if data == nil || data.User == nil {
		return nil, nil
	}
	return data, nil
}

// GetUser returns the persisted user, or nil when there is none
func (s *Store) GetUser(ctx context.Context) (*User, error) {
	data, err := s.CompleteUserData(ctx)
	if err != nil || data == nil {
		return nil, err
	}
	return data.User, nil
}

// Validate checks that data carries a user with an id
func (s *Store) Validate(data CompleteUserData) error {
	if data.User == nil {
		return fmt.Errorf("%w: user is required", ErrInvalidUserData)
	}
	if err := s.validate.Struct(data.User); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidUserData, err)
	}
	return nil
}

// MarkAuthenticated raises the flag without touching storage
func (s *Store) MarkAuthenticated() {
	s.setFlag(true)
}

// IsAuthenticated returns the current flag
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Subscribe returns a channel that receives the current flag immediately
// and every change after it. Slow readers only see the latest value.
//
// ctx bounds the subscription: when it ends the subscriber is removed and
// the channel closed. Pass a cancellable context. A context that can never
// be cancelled (context.Background) subscribes for the lifetime of the
// Store and its channel is never closed.
func (s *Store) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	s.mu.Lock()
	ch <- s.authenticated
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	if ctx.Done() == nil {
		return ch
	}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, ch)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

func (s *Store) setFlag(value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authenticated == value {
		return
	}
	s.authenticated = value

	for ch := range s.subscribers {
		// Drop a stale unread value so the latest one is delivered
		select {
		case <-ch:
		default:
		}
		ch <- value
	}
}
