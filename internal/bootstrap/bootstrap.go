// Package bootstrap primes the cookie session once per process so the
// CSRF cookie is in the jar before the first mutating request.
package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CSRFCookiePath is the endpoint that sets the session and XSRF-TOKEN cookies
const CSRFCookiePath = "/sanctum/csrf-cookie"

// ErrNotStarted is returned by Wait when Prime was never called
var ErrNotStarted = errors.New("session priming not started")

// Primer issues the priming request
type Primer interface {
	PrimeCSRF(ctx context.Context) error
}

// Bootstrapper runs the priming request at most once
type Bootstrapper struct {
	primer Primer
	log    zerolog.Logger

	mu      sync.Mutex
	started bool
	done    chan struct{}
	err     error
}

// New creates a Bootstrapper
func New(primer Primer, log zerolog.Logger) *Bootstrapper {
	return &Bootstrapper{
		primer: primer,
		log:    log.With().Str("component", "bootstrap").Logger(),
		done:   make(chan struct{}),
	}
}

// Prime issues the priming request on the first call. Later and concurrent
// calls wait for that call and return its outcome. A failure is logged and
// returned, callers treat it as non-fatal.
func (b *Bootstrapper) Prime(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return b.Wait(ctx)
	}
	b.started = true
	b.mu.Unlock()

	start := time.Now()
	err := b.primer.PrimeCSRF(ctx)

	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
	close(b.done)

	if err != nil {
		b.log.Error().Err(err).Msg("Failed to initialize CSRF protection")
		return err
	}

	b.log.Debug().Dur("elapsed", time.Since(start)).Msg("CSRF protection initialized")
	return nil
}

// Wait blocks until priming has finished and returns its outcome
func (b *Bootstrapper) Wait(ctx context.Context) error {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	select {
	case <-b.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports whether priming has finished
func (b *Bootstrapper) Done() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
