// Package flow implements the AlterEgo dialogue engine: guided multi-step
// flows, one-shot companion controls and the generic chat fallback.
package flow

import (
	"log/slog"
	"sync"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// SessionStore holds at most one active session per user.
type SessionStore interface {
	// Get returns a copy of the user's session, or nil when none is active.
	Get(userID string) *models.Session
	// Put replaces the user's session.
	Put(s *models.Session)
	// Delete removes the user's session and reports whether one existed.
	Delete(userID string) bool
}

// MemorySessionStore keeps sessions in process memory. Sessions do not survive a restart.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*models.Session)}
}

// Get returns a copy of the user's session.
func (m *MemorySessionStore) Get(userID string) *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[userID].Clone()
}

// Put stores a copy of s.
func (m *MemorySessionStore) Put(s *models.Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sessions[s.UserID]; ok && prev.Flow != s.Flow {
		slog.Debug("MemorySessionStore.Put: replacing session", "userID", s.UserID, "from", prev.Flow, "to", s.Flow)
	}
	m.sessions[s.UserID] = s.Clone()
}

// Delete removes the user's session.
func (m *MemorySessionStore) Delete(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[userID]
	delete(m.sessions, userID)
	return ok
}

// userLocks serializes work per user while letting different users run concurrently.
// Entries are reference counted and dropped once no caller holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until userID is free and returns the matching unlock.
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*userLock)
	}
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
