package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchd-dev/cookiesync/internal/authstate"
	"github.com/branchd-dev/cookiesync/internal/storage"
)

type recordingNavigator struct {
	paths []string
	err   error
}

func (r *recordingNavigator) Navigate(_ context.Context, path string) error {
	r.paths = append(r.paths, path)
	return r.err
}

type brokenState struct{ marked bool }

func (b *brokenState) CompleteUserData(context.Context) (*authstate.CompleteUserData, error) {
	return nil, errors.New("storage unavailable")
}

func (b *brokenState) MarkAuthenticated() { b.marked = true }

func TestCanActivate(t *testing.T) {
	ctx := context.Background()

	t.Run("persisted user is allowed and reconciles the flag", func(t *testing.T) {
		mem := storage.NewMemory()
		require.NoError(t, storage.SetJSON(ctx, mem, authstate.UserKey, authstate.CompleteUserData{
			User: &authstate.User{ID: 1}, Message: "ok",
		}))
		state := authstate.New(mem, zerolog.Nop())
		nav := &recordingNavigator{}

		assert.False(t, state.IsAuthenticated())
		assert.Equal(t, Allowed, New(state, nav, zerolog.Nop()).CanActivate(ctx, HomePath))
		assert.True(t, state.IsAuthenticated())
		assert.Empty(t, nav.paths)
	})

	t.Run("no user redirects to login", func(t *testing.T) {
		state := authstate.New(storage.NewMemory(), zerolog.Nop())
		state.MarkAuthenticated()
		nav := &recordingNavigator{}

		assert.Equal(t, Denied, New(state, nav, zerolog.Nop()).CanActivate(ctx, HomePath))
		assert.Equal(t, []string{LoginPath}, nav.paths)
	})

	t.Run("read error fails closed", func(t *testing.T) {
		state := &brokenState{}
		nav := &recordingNavigator{}

		assert.Equal(t, Denied, New(state, nav, zerolog.Nop()).CanActivate(ctx, HomePath))
		assert.Equal(t, []string{LoginPath}, nav.paths)
		assert.False(t, state.marked)
	})

	t.Run("navigation failure still denies", func(t *testing.T) {
		nav := &recordingNavigator{err: errors.New("no router")}
		g := New(&brokenState{}, nav, zerolog.Nop())
		assert.Equal(t, Denied, g.CanActivate(ctx, HomePath))
	})
}

func TestProtect(t *testing.T) {
	ctx := context.Background()
	nav := &recordingNavigator{}
	state := authstate.New(storage.NewMemory(), zerolog.Nop())
	g := New(state, nav, zerolog.Nop())

	ran := false
	err := g.Protect(ctx, HomePath, func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNavigationDenied)
	assert.False(t, ran)

	require.NoError(t, state.SetUserData(ctx, authstate.CompleteUserData{User: &authstate.User{ID: 2}}))
	err = g.Protect(ctx, HomePath, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "allowed", Allowed.String())
	assert.Equal(t, "denied", Denied.String())
}
