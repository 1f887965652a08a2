package client

import (
	"sync"

	"paneldeck.org/internal/auth"
)

// Session is the client-side view of an authenticated user: identity,
// resolved permissions snapshot and the current token pair.
type Session struct {
	User        *auth.User     `json:"user"`
	Permissions []string       `json:"permissions"`
	Tokens      auth.TokenPair `json:"tokens"`
}

// HasPermission checks the permission snapshot taken at login. It is a UI
// hint only; the server re-checks on every request.
func (s Session) HasPermission(perm auth.Permission) bool {
	for _, p := range s.Permissions {
		if p == string(perm) {
			return true
		}
	}
	return false
}

// SessionStore holds the current session behind a mutex and mirrors every
// change to the configured storage. The epoch counter increments on every
// session replacement or teardown; a token update carrying a stale epoch is
// discarded, so a refresh that raced a logout can never resurrect a session.
type SessionStore struct {
	mu      sync.RWMutex
	session *Session
	epoch   uint64
	storage Storage
}

// NewSessionStore constructs a store. Storage may be nil for purely
// in-memory sessions.
func NewSessionStore(storage Storage) *SessionStore {
	return &SessionStore{storage: storage}
}

// Hydrate loads a persisted session, if any. Tokens may be expired; the
// pipeline revalidates lazily on first use.
func (s *SessionStore) Hydrate() error {
	if s.storage == nil {
		return nil
	}
	sess, err := s.storage.Load()
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	s.mu.Lock()
	s.session = sess
	s.epoch++
	s.mu.Unlock()
	return nil
}

// Current returns a copy of the session and the epoch it was read at.
func (s *SessionStore) Current() (Session, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return Session{}, s.epoch, false
	}
	return *s.session, s.epoch, true
}

// Set replaces the session wholesale (login, register).
func (s *SessionStore) Set(sess Session) {
	s.mu.Lock()
	s.session = &sess
	s.epoch++
	s.mu.Unlock()
	s.persist(&sess)
}

// UpdateTokens swaps in a rotated token pair if the session has not changed
// since the given epoch. Returns false when the update was discarded.
func (s *SessionStore) UpdateTokens(pair auth.TokenPair, epoch uint64) bool {
	s.mu.Lock()
	if s.session == nil || s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	s.session.Tokens = pair
	cp := *s.session
	s.mu.Unlock()
	s.persist(&cp)
	return true
}

// ClearIfEpoch tears the session down only if it is still the session
// observed at the given epoch. A refresh that settles after a logout or a
// re-login must not destroy the newer session it never belonged to.
func (s *SessionStore) ClearIfEpoch(epoch uint64) bool {
	s.mu.Lock()
	if s.session == nil || s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	s.session = nil
	s.epoch++
	s.mu.Unlock()
	s.persist(nil)
	return true
}

// Clear tears the session down. Reports whether a session was actually
// removed, so callers can fire end-of-session notifications exactly once.
func (s *SessionStore) Clear() bool {
	s.mu.Lock()
	had := s.session != nil
	s.session = nil
	s.epoch++
	s.mu.Unlock()
	s.persist(nil)
	return had
}

func (s *SessionStore) persist(sess *Session) {
	if s.storage == nil {
		return
	}
	if sess == nil {
		_ = s.storage.Clear()
		return
	}
	_ = s.storage.Save(*sess)
}
