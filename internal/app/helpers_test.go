package app_test

import (
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newService(t *testing.T, clock *fakeClock, opts ...app.Option) *app.RoomService {
	t.Helper()
	return newServiceWithStore(t, memory.NewRoomStore(), clock, opts...)
}

func newServiceWithStore(t *testing.T, store app.RoomStore, clock *fakeClock, opts ...app.Option) *app.RoomService {
	t.Helper()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(fixtureQuizzes()), time.Minute)
	opts = append([]app.Option{app.WithClock(clock.Now), app.WithJoinRetry(3, time.Millisecond)}, opts...)
	return app.NewRoomService(store, quizzes, opts...)
}

func createRoom(t *testing.T, svc *app.RoomService, maxPlayers, secondsPerQuestion int) string {
	t.Helper()
	summary, err := svc.CreateRoom(ctxb, domain.CreateRoomRequest{
		Name:               "Room",
		QuizID:             1,
		MaxPlayers:         maxPlayers,
		SecondsPerQuestion: secondsPerQuestion,
		StartDelaySeconds:  60,
	}, 1)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return summary.RoomCode
}

func join(t *testing.T, svc *app.RoomService, code string, userID int64, name string) domain.Lobby {
	t.Helper()
	lobby, _, err := svc.JoinRoom(ctxb, code, domain.Identity{UserID: userID, DisplayName: name})
	if err != nil {
		t.Fatalf("join %d: %v", userID, err)
	}
	return lobby
}

// fixtureQuizzes: quiz 1 has three active single choice questions (10, 20, 30) whose
// correct option is id*10+2, plus an inactive one. Quiz 2 is inactive.
func fixtureQuizzes() map[int64]domain.Quiz {
	question := func(id int64, active bool) domain.Question {
		return domain.Question{
			ID:       id,
			Text:     "question",
			Type:     domain.SingleChoice,
			IsActive: active,
			Options: []domain.Option{
				{ID: id*10 + 1, Text: "wrong", IsActive: true},
				{ID: id*10 + 2, Text: "right", IsCorrect: true, IsActive: true},
			},
		}
	}
	return map[int64]domain.Quiz{
		1: {
			ID:          1,
			Title:       "General",
			Description: "Mixed bag",
			Difficulty:  2,
			IsActive:    true,
			Questions:   []domain.Question{question(30, true), question(10, true), question(15, false), question(20, true)},
		},
		2: {
			ID:        2,
			Title:     "Retired",
			IsActive:  false,
			Questions: []domain.Question{question(40, true)},
		},
	}
}
