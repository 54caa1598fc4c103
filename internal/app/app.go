// Package app wires the session layer together and implements the screen
// flows (login, home, logout) on top of it.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/branchd-dev/cookiesync/internal/augment"
	"github.com/branchd-dev/cookiesync/internal/authstate"
	"github.com/branchd-dev/cookiesync/internal/bootstrap"
	"github.com/branchd-dev/cookiesync/internal/client"
	"github.com/branchd-dev/cookiesync/internal/config"
	"github.com/branchd-dev/cookiesync/internal/cookiejar"
	"github.com/branchd-dev/cookiesync/internal/csrf"
	"github.com/branchd-dev/cookiesync/internal/guard"
	"github.com/branchd-dev/cookiesync/internal/platform"
	"github.com/branchd-dev/cookiesync/internal/storage"
)

// App holds the wired components
type App struct {
	Config    *config.Config
	Platform  platform.Context
	Store     storage.Store
	Jar       *cookiejar.Jar
	Cookies   cookiejar.Adapter
	Resolver  *csrf.Resolver
	Bootstrap *bootstrap.Bootstrapper
	Augmentor *augment.Augmentor
	Client    *client.Client
	Auth      *authstate.Store
	Guard     *guard.Guard

	navigator guard.Navigator
	log       zerolog.Logger
}

// New opens the configured storage and wires the application
func New(ctx context.Context, cfg *config.Config, navigator guard.Navigator, log zerolog.Logger) (*App, error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a, err := NewWithStore(cfg, store, navigator, log,
		client.WithTimeout(cfg.API.Timeout),
		client.WithInsecureTLS(cfg.API.InsecureTLS),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// NewWithStore wires the application over an already opened store
func NewWithStore(cfg *config.Config, store storage.Store, navigator guard.Navigator, log zerolog.Logger, opts ...client.Option) (*App, error) {
	p, err := platform.Parse(cfg.API.Platform)
	if err != nil {
		return nil, err
	}
	if navigator == nil {
		navigator = discardNavigator{}
	}

	a := &App{
		Config:    cfg,
		Platform:  p,
		Store:     store,
		navigator: navigator,
		log:       log.With().Str("component", "app").Logger(),
	}

	a.Jar = cookiejar.New(store, log)
	a.Cookies = cookiejar.ForPlatform(p, a.Jar, log)
	a.Resolver = csrf.NewResolver(a.Cookies, cfg.API.CSRFCookie, log)

	// The bootstrapper primes through the client, which in turn waits on
	// the bootstrapper, so the primer is bound after the client exists
	primer := &lazyPrimer{}
	a.Bootstrap = bootstrap.New(primer, log)

	a.Augmentor, err = augment.New(augment.Options{
		Origin:       cfg.API.Origin,
		APIKey:       cfg.API.Key,
		ExtraHeaders: cfg.API.ExtraHeaders,
		Platform:     p,
		Readiness:    a.Bootstrap,
		ReadyTimeout: cfg.API.PrimeWait,
	}, a.Resolver, log)
	if err != nil {
		return nil, err
	}

	a.Client = client.New(a.Augmentor, a.Jar, log, opts...)
	primer.client = a.Client

	a.Auth = authstate.New(store, log)
	a.Guard = guard.New(a.Auth, navigator, log)

	return a, nil
}

type lazyPrimer struct {
	client *client.Client
}

func (l *lazyPrimer) PrimeCSRF(ctx context.Context) error {
	return l.client.PrimeCSRF(ctx)
}

// Start primes the session and restores the authentication state
// concurrently. Neither failure stops the application.
func (a *App) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Prime logs its own failure
		_ = a.Bootstrap.Prime(ctx)
		return nil
	})
	g.Go(func() error {
		_ = a.Auth.Rehydrate(ctx)
		return nil
	})

	return g.Wait()
}

// Login authenticates, persists the returned user and navigates home
func (a *App) Login(ctx context.Context, creds client.Credentials) (*authstate.CompleteUserData, error) {
	data, err := a.Client.Login(ctx, creds)
	if err != nil {
		return nil, err
	}

	if err := a.Auth.SetUserData(ctx, *data); err != nil {
		return nil, err
	}

	a.navigate(ctx, guard.HomePath)
	return data, nil
}

// HomeView is what the home screen shows
type HomeView struct {
	// Stored is the persisted user shown before the profile refresh
	Stored *authstate.User

	// Profile is the refreshed profile, nil when the refresh failed
	Profile *authstate.CompleteUserData

	// ProfileErr reports a failed refresh. It never logs the user out.
	ProfileErr error

	// Persisted is true when the refreshed profile replaced the stored user
	Persisted bool
}

// Home enters the protected home route: the stored user first, then a
// profile refresh persisted only when it carries an id. It returns
// guard.ErrNavigationDenied when nobody is logged in.
func (a *App) Home(ctx context.Context) (*HomeView, error) {
	var view HomeView

	err := a.Guard.Protect(ctx, guard.HomePath, func(ctx context.Context) error {
		stored, err := a.Auth.GetUser(ctx)
		if err != nil {
			a.log.Warn().Err(err).Msg("Failed to read stored user")
		}
		view.Stored = stored

		profile, err := a.Client.Profile(ctx)
		if err != nil {
			a.log.Warn().Err(err).Msg("Profile refresh failed")
			view.ProfileErr = err
			return nil
		}
		view.Profile = profile

		if profile.User.ID == 0 {
			return nil
		}
		if err := a.Auth.SetUserData(ctx, *profile); err != nil {
			return err
		}
		view.Persisted = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Logout ends the remote session when possible, then clears the local
// state and navigates to the login route
func (a *App) Logout(ctx context.Context) error {
	if err := a.Client.Logout(ctx); err != nil {
		if !client.IsUnauthenticated(err) {
			a.log.Warn().Err(err).Msg("Remote logout failed, clearing local session anyway")
		}
	}

	if err := a.Auth.ClearUserData(ctx); err != nil {
		return err
	}

	a.navigate(ctx, guard.LoginPath)
	return nil
}

// Close releases the storage backend
func (a *App) Close() error {
	return a.Store.Close()
}

func (a *App) navigate(ctx context.Context, path string) {
	if err := a.navigator.Navigate(ctx, path); err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("Navigation failed")
	}
}

type discardNavigator struct{}

func (discardNavigator) Navigate(context.Context, string) error { return nil }
