// Package session implements the Session Table: client endpoint ->
// backend binding with activity timestamps and idle timeout. A sweep
// removes expired entries under the write lock; a rebind replaces a Session's Binding in place rather
// than removing and re-inserting it.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nitecon/director/internal/core"
)

// Session is a directional state record: which Binding a client
// endpoint is currently forwarded to, and when it last carried
// traffic. Its Binding is replaced atomically via an atomic.Pointer so
// concurrent readers on the data path never observe a torn record
// during a rebind (invariant 2) — a reader sees either the old
// Binding or the new one, never neither.
type Session struct {
	binding      atomic.Pointer[core.Binding]
	lastActivity atomic.Int64 // unix nanos
}

// Binding returns the Session's current Binding.
func (s *Session) Binding() core.Binding {
	return *s.binding.Load()
}

// LastActivity returns the time of the Session's last Touch.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Table maps SessionKey -> *Session. At most one Session exists per
// key (invariant 1, enforced by GetOrNone/Upsert operating under the
// same map). CountByHost backs the Selector's least-sessions and
// label-arithmetic policies.
type Table struct {
	now func() time.Time

	mu   sync.RWMutex
	byKey map[core.SessionKey]*Session
}

// NewTable returns an empty Table using the real clock.
func NewTable() *Table {
	return NewTableWithClock(time.Now)
}

// NewTableWithClock returns an empty Table using the given clock,
// for deterministic TTL/idle-eviction tests.
func NewTableWithClock(now func() time.Time) *Table {
	return &Table{
		now:   now,
		byKey: make(map[core.SessionKey]*Session),
	}
}

// GetOrNone returns the Session for key, or nil if none exists.
func (t *Table) GetOrNone(key core.SessionKey) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byKey[key]
}

// GetByEndpoint returns any Session keyed by endpoint regardless of
// listen port — used by the data planes to find a Session installed
// eagerly by the Query Server on a sibling port (§4.6 step 2, §4.7
// step 1).
func (t *Table) GetByEndpoint(endpoint core.SessionKey) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for k, s := range t.byKey {
		if k.Endpoint == endpoint.Endpoint && k.Protocol == endpoint.Protocol {
			return s
		}
	}
	return nil
}

// Upsert installs or rebinds the Session for key to binding. If a
// Session already exists for key, its Binding is replaced atomically
// in place — the *Session value, and therefore its identity, never
// changes (invariant 2). Touch is implied: last_activity is set to
// now.
func (t *Table) Upsert(key core.SessionKey, binding core.Binding) *Session {
	now := t.now()

	t.mu.Lock()
	sess, ok := t.byKey[key]
	if !ok {
		sess = &Session{}
		sess.binding.Store(&binding)
		sess.lastActivity.Store(now.UnixNano())
		t.byKey[key] = sess
	}
	t.mu.Unlock()

	sess.binding.Store(&binding)
	sess.lastActivity.Store(now.UnixNano())
	return sess
}

// Touch updates key's last_activity to now. No-op if the Session does
// not exist.
func (t *Table) Touch(key core.SessionKey) {
	if sess := t.GetOrNone(key); sess != nil {
		sess.lastActivity.Store(t.now().UnixNano())
	}
}

// TouchSession updates sess's last_activity to now. Unlike Touch, it
// takes the Session itself rather than re-deriving it from a key — the
// data planes use this after resolveBinding found the Session via the
// sibling-listen-port fallback (GetByEndpoint), where the current
// listener's own SessionKey has no row and Touch(key) would be a
// silent no-op on the wrong (nonexistent) entry.
func (t *Table) TouchSession(sess *Session) {
	sess.lastActivity.Store(t.now().UnixNano())
}

// CountByHost returns the number of live Sessions currently bound to
// host, across all protocols and listen ports.
func (t *Table) CountByHost(host string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, sess := range t.byKey {
		if sess.Binding().Host == host {
			count++
		}
	}
	return count
}

// Len returns the number of live Sessions, mainly for the Janitor's
// aggregate logging.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byKey)
}

// Sweep removes every Session whose last_activity is before cutoff.
// Mutations happen under the write lock; no blocking work is done
// while the lock is held. It returns the number of Sessions removed.
func (t *Table) Sweep(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, sess := range t.byKey {
		if sess.LastActivity().Before(cutoff) {
			delete(t.byKey, key)
			removed++
		}
	}
	return removed
}
