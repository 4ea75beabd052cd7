package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

// racyStore reports a membership conflict on the first failures inserts. With commitFirst
// the row is written before the conflict is reported, like a concurrent insert that won.
type racyStore struct {
	*memory.RoomStore

	mu          sync.Mutex
	failures    int
	commitFirst bool
	calls       int
}

func (s *racyStore) InsertPlayer(ctx context.Context, player *domain.Player) error {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if !fail {
		return s.RoomStore.InsertPlayer(ctx, player)
	}
	if s.commitFirst {
		if err := s.RoomStore.InsertPlayer(ctx, player); err != nil {
			return err
		}
	}
	return fmt.Errorf("insert player: %w", domain.ErrActiveMembershipExists)
}

func (s *racyStore) insertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestJoinRetriesRacedInsert(t *testing.T) {
	store := &racyStore{RoomStore: memory.NewRoomStore(), failures: 2}
	backoff := 5 * time.Millisecond
	svc := newServiceWithStore(t, store, newClock(), app.WithJoinRetry(3, backoff))
	code := createRoom(t, svc, 4, 30)

	began := time.Now()
	lobby := join(t, svc, code, 1, "Alice")
	elapsed := time.Since(began)

	if calls := store.insertCalls(); calls != 3 {
		t.Fatalf("expected 3 insert attempts, got %d", calls)
	}
	if len(lobby.Players) != 1 || lobby.Players[0].UserID != 1 {
		t.Fatalf("expected alice in the lobby, got %+v", lobby.Players)
	}
	// attempt i waits backoff*i
	if want := 3 * backoff; elapsed < want {
		t.Fatalf("expected at least %v of backoff, took %v", want, elapsed)
	}
}

func TestJoinGivesUpAfterAttempts(t *testing.T) {
	store := &racyStore{RoomStore: memory.NewRoomStore(), failures: 10}
	svc := newServiceWithStore(t, store, newClock())
	code := createRoom(t, svc, 4, 30)

	_, _, err := svc.JoinRoom(ctxb, code, domain.Identity{UserID: 1, DisplayName: "Alice"})
	if !errors.Is(err, domain.ErrActiveMembershipExists) || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected membership conflict, got %v", err)
	}
	if calls := store.insertCalls(); calls != 3 {
		t.Fatalf("expected 3 insert attempts, got %d", calls)
	}
	lobby, err := svc.Lobby(ctxb, code)
	if err != nil {
		t.Fatalf("lobby: %v", err)
	}
	if len(lobby.Players) != 0 {
		t.Fatalf("expected no players after giving up, got %+v", lobby.Players)
	}
}

func TestJoinRetryFindsCommittedMembership(t *testing.T) {
	store := &racyStore{RoomStore: memory.NewRoomStore(), failures: 1, commitFirst: true}
	svc := newServiceWithStore(t, store, newClock())
	code := createRoom(t, svc, 4, 30)

	lobby := join(t, svc, code, 1, "Alice")
	if calls := store.insertCalls(); calls != 1 {
		t.Fatalf("expected the retry to see the committed row and skip inserting, got %d inserts", calls)
	}
	if len(lobby.Players) != 1 {
		t.Fatalf("expected exactly one membership, got %+v", lobby.Players)
	}
}

func TestJoinRetryStopsWithContext(t *testing.T) {
	store := &racyStore{RoomStore: memory.NewRoomStore(), failures: 10}
	svc := newServiceWithStore(t, store, newClock(), app.WithJoinRetry(3, time.Second))
	code := createRoom(t, svc, 4, 30)

	ctx, cancel := context.WithTimeout(ctxb, 20*time.Millisecond)
	defer cancel()
	_, _, err := svc.JoinRoom(ctx, code, domain.Identity{UserID: 1, DisplayName: "Alice"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if calls := store.insertCalls(); calls != 1 {
		t.Fatalf("expected one insert before the deadline, got %d", calls)
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	svc := newService(t, newClock())
	code := createRoom(t, svc, 2, 30)

	const contenders = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		full int
		errs []error
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, _, err := svc.JoinRoom(ctxb, code, domain.Identity{UserID: userID, DisplayName: "player"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrRoomFull):
				full++
			default:
				errs = append(errs, err)
			}
		}(int64(100 + i))
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected join errors: %v", errs)
	}
	if ok != 2 || full != contenders-2 {
		t.Fatalf("expected 2 joins and %d full rejections, got %d and %d", contenders-2, ok, full)
	}
	lobby, err := svc.Lobby(ctxb, code)
	if err != nil {
		t.Fatalf("lobby: %v", err)
	}
	if len(lobby.Players) != 2 {
		t.Fatalf("expected two active players, got %d", len(lobby.Players))
	}
}
