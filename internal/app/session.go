package app

import (
	"context"
	"sort"
	"sync"
	"time"
)

// SessionRepository abstracts where live room sessions are kept (in-memory, Redis-marked, etc).
type SessionRepository interface {
	GetOrCreate(roomCode string) *Session
	Get(roomCode string) (*Session, bool)
	// DeleteIfEmpty closes and drops the session once no connection is attached.
	DeleteIfEmpty(roomCode string)
	// Delete closes and drops the session unconditionally.
	Delete(roomCode string)
}

// Session is the in-memory state of a room that is happening right now: which users are
// connected and which question timer is armed. Persisted history lives in the RoomStore.
type Session struct {
	code string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	members  map[int64]int
	timer    *questionTimer
	finished bool
}

type questionTimer struct {
	questionID int64
	fired      bool
	cancel     context.CancelFunc
}

// NewSession is exported for infrastructure layers that need to seed sessions.
func NewSession(code string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		code:    code,
		ctx:     ctx,
		cancel:  cancel,
		members: make(map[int64]int),
	}
}

// Code returns the room code.
func (s *Session) Code() string { return s.code }

// Context is cancelled when the session is closed.
func (s *Session) Context() context.Context { return s.ctx }

// Attach counts one more connection for the user and reports whether it is the first.
func (s *Session) Attach(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[userID]++
	return s.members[userID] == 1
}

// Detach drops one connection of the user and reports whether it was the last.
func (s *Session) Detach(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.members[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(s.members, userID)
		return true
	}
	s.members[userID] = n - 1
	return false
}

// Forget removes the user regardless of how many connections are attached.
func (s *Session) Forget(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, userID)
}

// Members returns connected user ids in ascending order.
func (s *Session) Members() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsEmpty reports whether no user is connected.
func (s *Session) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members) == 0
}

// Arm replaces any running timer with one for questionID that calls onExpire after d,
// unless the question is claimed or the session is closed first.
func (s *Session) Arm(questionID int64, d time.Duration, onExpire func()) {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &questionTimer{questionID: questionID, cancel: cancel}

	s.mu.Lock()
	if s.timer != nil {
		s.timer.cancel()
	}
	s.timer = t
	s.mu.Unlock()

	go func() {
		wait := time.NewTimer(d)
		defer wait.Stop()
		select {
		case <-ctx.Done():
			return
		case <-wait.C:
		}
		if s.claim(t) {
			onExpire()
		}
	}()
}

// Claim takes the right to end questionID. Only one caller ever wins per armed question,
// whether it is the expiring timer or an early trigger.
func (s *Session) Claim(questionID int64) bool {
	s.mu.Lock()
	t := s.timer
	s.mu.Unlock()
	if t == nil || t.questionID != questionID {
		return false
	}
	return s.claim(t)
}

func (s *Session) claim(t *questionTimer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != t || t.fired || s.ctx.Err() != nil {
		return false
	}
	t.fired = true
	t.cancel()
	return true
}

// Release makes a claimed question claimable again after its end sequence failed.
func (s *Session) Release(questionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil && s.timer.questionID == questionID {
		s.timer.fired = false
	}
}

// ArmedQuestion returns the question whose timer is pending.
func (s *Session) ArmedQuestion() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil || s.timer.fired {
		return 0, false
	}
	return s.timer.questionID, true
}

// Disarm cancels the current timer.
func (s *Session) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.cancel()
		s.timer = nil
	}
}

// MarkFinished reports true only on its first call.
func (s *Session) MarkFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	return true
}

// Close cancels the timer and every wait tied to the session.
func (s *Session) Close() {
	s.Disarm()
	s.cancel()
}
