package api

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"sigmalens/metrics"
	"sigmalens/viewer"
)

// ErrSessionNotFound is returned for unknown or evicted session ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore holds viewing sessions. When full, the least recently used
// session is closed and evicted.
type SessionStore struct {
	sessions  *lru.Cache[string, *viewer.Session]
	converter viewer.Converter
	logger    *zap.SugaredLogger
}

// NewSessionStore creates a store for at most size sessions.
func NewSessionStore(size int, converter viewer.Converter, logger *zap.SugaredLogger) (*SessionStore, error) {
	s := &SessionStore{converter: converter, logger: logger}
	cache, err := lru.NewWithEvict[string, *viewer.Session](size, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	s.sessions = cache
	return s, nil
}

func (s *SessionStore) onEvict(id string, session *viewer.Session) {
	session.Close()
	metrics.ViewSessionsActive.Dec()
	s.logger.Debugw("Viewing session closed", "session_id", id)
}

// Create starts a new empty session.
func (s *SessionStore) Create() *viewer.Session {
	session := viewer.NewSession(uuid.New().String(), s.converter, s.logger)
	s.sessions.Add(session.ID, session)
	metrics.ViewSessionsActive.Inc()
	return session
}

// Get returns a session and marks it recently used.
func (s *SessionStore) Get(id string) (*viewer.Session, error) {
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Delete closes and removes a session.
func (s *SessionStore) Delete(id string) error {
	if !s.sessions.Remove(id) {
		return ErrSessionNotFound
	}
	return nil
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	return s.sessions.Len()
}

// Purge closes every session.
func (s *SessionStore) Purge() {
	s.sessions.Purge()
}
