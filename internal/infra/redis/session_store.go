package redis

import (
	"context"
	"sync"
	"time"

	"live-quiz-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Sessions (members, timers) stay in process; Redis only carries a liveness marker per
// room so operators and other services can see which rooms are running on this node.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
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
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(roomCode), time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
	return session
}

func (s *SessionStore) Get(roomCode string) (*app.Session, bool) {
	s.mu.RLock()
	session, ok := s.sessions[roomCode]
	s.mu.RUnlock()
	if ok && s.ttl > 0 {
		_ = s.client.Expire(context.Background(), s.key(roomCode), s.ttl).Err()
	}
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
	_ = s.client.Del(context.Background(), s.key(roomCode)).Err()
}

func (s *SessionStore) Delete(roomCode string) {
	s.mu.Lock()
	session, ok := s.sessions[roomCode]
	delete(s.sessions, roomCode)
	s.mu.Unlock()
	if ok {
		session.Close()
	}
	_ = s.client.Del(context.Background(), s.key(roomCode)).Err()
}

func (s *SessionStore) key(roomCode string) string {
	return "live:room:" + roomCode
}
