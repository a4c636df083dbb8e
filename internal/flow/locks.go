// Package flow implements the guided-writing dialogue core: the stage
// engine, the venting sub-flow, and the orchestrator that sequences the
// interrupt classifiers ahead of them.
package flow

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultLockTTL bounds how long a session can stay locked by a turn that
// never finished, so a crashed handler cannot wedge the session.
const DefaultLockTTL = 2 * time.Minute

// SessionLocks serializes turn processing per session. Concurrent turns
// for different sessions proceed independently; a second turn for the same
// session is rejected rather than queued.
type SessionLocks struct {
	mu    sync.Mutex
	ttl   time.Duration
	held  map[string]time.Time
	now   func() time.Time
}

// NewSessionLocks creates a lock registry with the given TTL. A zero or
// negative TTL uses DefaultLockTTL.
func NewSessionLocks(ttl time.Duration) *SessionLocks {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &SessionLocks{
		ttl:  ttl,
		held: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Acquire attempts to take the lock for the session. It reports false if
// another turn is in flight and its lock has not expired.
func (l *SessionLocks) Acquire(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if expiry, ok := l.held[sessionID]; ok && now.Before(expiry) {
		slog.Debug("SessionLocks.Acquire rejected", "sessionID", sessionID)
		return false
	}
	l.held[sessionID] = now.Add(l.ttl)
	return true
}

// Release frees the session lock.
func (l *SessionLocks) Release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sessionID)
}
