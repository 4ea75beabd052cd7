package app

import "sync"

// roomLocks hands out one mutex per room code and forgets it once nobody holds or waits on it.
type roomLocks struct {
	mu    sync.Mutex
	rooms map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{rooms: make(map[string]*roomLock)}
}

// lock blocks until the room is free and returns the matching unlock.
func (l *roomLocks) lock(code string) func() {
	l.mu.Lock()
	rl, ok := l.rooms[code]
	if !ok {
		rl = &roomLock{}
		l.rooms[code] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.rooms, code)
		}
		l.mu.Unlock()
	}
}
