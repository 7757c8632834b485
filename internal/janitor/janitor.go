// Package janitor adapts the background sweeps (idle Session
// eviction, expired Token Cache entries) to transport.Listener so they
// participate in the server's managed lifecycle alongside the Query
// Server and data planes.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/nitecon/director/internal/session"
	"github.com/nitecon/director/internal/transport"
)

// defaultSweepInterval is the cadence at which both sweeps run.
const defaultSweepInterval = 30 * time.Second

// TokenEvictor periodically removes expired Token Cache entries.
type TokenEvictor interface {
	StartEvictionLoop(ctx context.Context, interval time.Duration)
}

// SessionSweeper adapts session.Table.Sweep to transport.Listener: on
// each tick it removes every Session idle since before
// now-sessionTimeout and logs the aggregate count removed.
type SessionSweeper struct {
	sessions       *session.Table
	sessionTimeout time.Duration
	interval       time.Duration
	now            func() time.Time
	log            *slog.Logger
}

// NewSessionSweeper returns a SessionSweeper that evicts Sessions idle
// longer than sessionTimeout, checking every interval.
func NewSessionSweeper(sessions *session.Table, sessionTimeout, interval time.Duration) *SessionSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &SessionSweeper{
		sessions:       sessions,
		sessionTimeout: sessionTimeout,
		interval:       interval,
		now:            time.Now,
		log:            slog.Default().With("component", "janitor-sessions"),
	}
}

// WithClock overrides the sweeper's time source, for deterministic
// idle-eviction tests.
func (s *SessionSweeper) WithClock(now func() time.Time) *SessionSweeper {
	s.now = now
	return s
}

var _ transport.Listener = (*SessionSweeper)(nil)

// Start runs the sweep loop until ctx is cancelled.
func (s *SessionSweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := s.now().Add(-s.sessionTimeout)
			if removed := s.sessions.Sweep(cutoff); removed > 0 {
				s.log.Info("swept idle sessions", "removed", removed, "remaining", s.sessions.Len())
			}
		}
	}
}

// Stop is a no-op: the sweep loop exits when its context is
// cancelled.
func (s *SessionSweeper) Stop(_ context.Context) error {
	return nil
}

// TokenSweeper adapts a TokenEvictor's StartEvictionLoop to
// transport.Listener.
type TokenSweeper struct {
	tokens   TokenEvictor
	interval time.Duration
}

// NewTokenSweeper returns a TokenSweeper checking every interval.
func NewTokenSweeper(tokens TokenEvictor, interval time.Duration) *TokenSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &TokenSweeper{tokens: tokens, interval: interval}
}

var _ transport.Listener = (*TokenSweeper)(nil)

// Start blocks in the TokenEvictor's own eviction loop until ctx is
// cancelled.
func (t *TokenSweeper) Start(ctx context.Context) error {
	t.tokens.StartEvictionLoop(ctx, t.interval)
	return nil
}

// Stop is a no-op: the eviction loop exits when its context is
// cancelled.
func (t *TokenSweeper) Stop(_ context.Context) error {
	return nil
}
