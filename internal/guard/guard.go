// Package guard gates protected routes on the persisted authentication state.
package guard

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/branchd-dev/cookiesync/internal/authstate"
)

const (
	// LoginPath is where unauthenticated navigation is redirected
	LoginPath = "/login"

	// HomePath is the protected landing route
	HomePath = "/home"
)

// ErrNavigationDenied is returned by Protect when the route may not be entered
var ErrNavigationDenied = errors.New("navigation denied: not authenticated")

// Decision is the outcome of a route check
type Decision int

const (
	Denied Decision = iota
	Allowed
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// Navigator performs route changes
type Navigator interface {
	Navigate(ctx context.Context, path string) error
}

// State is the part of the auth store the guard needs
type State interface {
	CompleteUserData(ctx context.Context) (*authstate.CompleteUserData, error)
	MarkAuthenticated()
}

// Guard decides whether protected routes may be entered
type Guard struct {
	state     State
	navigator Navigator
	log       zerolog.Logger
}

// New creates a Guard
func New(state State, navigator Navigator, log zerolog.Logger) *Guard {
	return &Guard{
		state:     state,
		navigator: navigator,
		log:       log.With().Str("component", "guard").Logger(),
	}
}

// CanActivate checks the persisted user before entering target. It fails
// closed: a missing user or any read error redirects to the login route.
func (g *Guard) CanActivate(ctx context.Context, target string) Decision {
	log := g.log.With().Str("target", target).Logger()

	data, err := g.state.CompleteUserData(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read authentication state, redirecting to login")
		g.redirect(ctx, log)
		return Denied
	}
	if data == nil {
		log.Debug().Msg("Not authenticated, redirecting to login")
		g.redirect(ctx, log)
		return Denied
	}

	g.state.MarkAuthenticated()
	return Allowed
}

// Protect runs fn only when target may be entered
func (g *Guard) Protect(ctx context.Context, target string, fn func(context.Context) error) error {
	if g.CanActivate(ctx, target) != Allowed {
		return ErrNavigationDenied
	}
	return fn(ctx)
}

func (g *Guard) redirect(ctx context.Context, log zerolog.Logger) {
	if err := g.navigator.Navigate(ctx, LoginPath); err != nil {
		log.Warn().Err(err).Msg("Failed to navigate to login")
	}
}
