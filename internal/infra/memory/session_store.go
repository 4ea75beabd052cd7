package memory

import (
	"sync"

	"live-quiz-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) GetOrCreate(roomCode string) *app.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[roomCode]; ok {
		return session
	}
	session := app.NewSession(roomCode)
	s.sessions[roomCode] = session
	return session
}

func (s *SessionStore) Get(roomCode string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[roomCode]
	return session, ok
}

func (s *SessionStore) DeleteIfEmpty(roomCode string) {
	s.mu.Lock()
	session, ok := s.sessions[roomCode]
	if !ok || !session.IsEmpty() {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, roomCode)
	s.mu.Unlock()
	session.Close()
}

func (s *SessionStore) Delete(roomCode string) {
	s.mu.Lock()
	session, ok := s.sessions[roomCode]
	delete(s.sessions, roomCode)
	s.mu.Unlock()
	if ok {
		session.Close()
	}
}

// Len reports how many rooms have live state.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
