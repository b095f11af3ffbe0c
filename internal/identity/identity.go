// Package identity holds the process-wide user identity and auth token.
//
// Both values have a simple lifecycle: restored once at startup, the identity
// written only by the transport's assignment path, the token only by the
// login flow. Any component may read them. Interested components register an
// explicit subscriber rather than listening for ambient events.
package identity

import (
	"log/slog"
	"sync"
)

// Store is the single owner of the user identity and auth token.
type Store struct {
	mu     sync.RWMutex
	userID string
	token  string
	subs   []func(userID string)
	logger *slog.Logger
}

// New creates an empty identity store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

// Restore seeds the store from local persistent state. Startup only; it does
// not notify subscribers.
func (s *Store) Restore(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.token = token
}

// UserID returns the current user identity, or empty if none was assigned yet.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Token returns the current auth token, or empty for anonymous use.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken stores an auth token. Written by the login flow; cleared with an
// empty string at logout.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetUserID records a server-assigned identity and notifies subscribers.
// Once assigned, the identity is stable for the remainder of the client's
// life: later assignments are ignored.
func (s *Store) SetUserID(userID string) {
	if userID == "" {
		return
	}

	s.mu.Lock()
	if s.userID != "" {
		s.mu.Unlock()
		if s.UserID() != userID {
			s.logger.Warn("ignoring conflicting identity assignment", "assigned", userID)
		}
		return
	}
	s.userID = userID
	subs := make([]func(string), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	s.logger.Info("user identity assigned", "user_id", userID)
	for _, fn := range subs {
		fn(userID)
	}
}

// Subscribe registers fn to run whenever an identity is assigned. Subscribers
// are invoked outside the store's lock, in registration order.
func (s *Store) Subscribe(fn func(userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}
