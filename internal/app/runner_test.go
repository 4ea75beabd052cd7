package app_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

type recorded struct {
	room    string
	event   string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) BroadcastRoom(roomCode, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{room: roomCode, event: event, payload: payload})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.event)
	}
	return out
}

func (r *recorder) count(event string) int {
	n := 0
	for _, name := range r.names() {
		if name == event {
			n++
		}
	}
	return n
}

func (r *recorder) last(event string) (recorded, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].event == event {
			return r.events[i], true
		}
	}
	return recorded{}, false
}

func (r *recorder) waitFor(t *testing.T, event string, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if r.count(event) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, got %v", n, event, r.names())
}

func waitArmed(t *testing.T, sessions *memory.SessionStore, code string, questionID int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if session, ok := sessions.Get(code); ok {
			if id, armed := session.ArmedQuestion(); armed && id == questionID {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("question %d was never armed", questionID)
}

type runnerEnv struct {
	svc      *app.RoomService
	sessions *memory.SessionStore
	out      *recorder
	runner   *app.QuizRunner
	code     string
}

func newRunnerEnv(t *testing.T) runnerEnv {
	t.Helper()
	svc := newService(t, newClock())
	sessions := memory.NewSessionStore()
	out := &recorder{}
	runner := app.NewQuizRunner(svc, sessions, out, nil, 10*time.Millisecond, 5*time.Millisecond)
	code := createRoom(t, svc, 4, 30)
	join(t, svc, code, 1, "Alice")
	join(t, svc, code, 2, "Bob")
	return runnerEnv{svc: svc, sessions: sessions, out: out, runner: runner, code: code}
}

func assertTail(t *testing.T, got []string, from int, want ...string) {
	t.Helper()
	if len(got) < from+len(want) {
		t.Fatalf("expected %v from %d, got %v", want, from, got)
	}
	for i, w := range want {
		if got[from+i] != w {
			t.Fatalf("expected %v from %d, got %v", want, from, got)
		}
	}
}

func TestRunnerPlaysThroughQuiz(t *testing.T) {
	env := newRunnerEnv(t)

	if err := env.runner.Start(ctxb, env.code, 2); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected not host, got %v", err)
	}
	if err := env.runner.Start(ctxb, env.code, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.out.waitFor(t, domain.EventQuestionStarted, 1)
	assertTail(t, env.out.names(), 0,
		domain.EventQuizStarted, domain.EventLeaderboardUpdated, domain.EventQuestionStarted)
	waitArmed(t, env.sessions, env.code, 10)

	// every answer streams the ranking; the last one closes the question before its timer
	for _, user := range []int64{1, 2} {
		sub := domain.AnswerSubmission{QuestionID: 10, Answer: []byte("102")}
		if _, err := env.svc.SubmitAnswer(ctxb, env.code, user, sub); err != nil {
			t.Fatalf("submit %d: %v", user, err)
		}
		env.runner.AnswerRecorded(ctxb, env.code, 10)
	}
	env.out.waitFor(t, domain.EventQuestionStarted, 2)
	assertTail(t, env.out.names(), 3,
		domain.EventLeaderboardUpdated, domain.EventLeaderboardUpdated,
		domain.EventQuestionEnded, domain.EventLeaderboardUpdated, domain.EventQuestionStarted)

	started, _ := env.out.last(domain.EventQuestionStarted)
	if q, ok := started.payload.(domain.QuestionView); !ok || q.QuestionID != 20 || q.QuestionIndex != 2 {
		t.Fatalf("expected question 20 second, got %+v", started.payload)
	}

	waitArmed(t, env.sessions, env.code, 20)
	if err := env.runner.Advance(ctxb, env.code, 2); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected not host, got %v", err)
	}
	if err := env.runner.Advance(ctxb, env.code, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	env.out.waitFor(t, domain.EventQuestionStarted, 3)
	waitArmed(t, env.sessions, env.code, 30)
	if err := env.runner.Advance(ctxb, env.code, 1); err != nil {
		t.Fatalf("advance last: %v", err)
	}

	env.out.waitFor(t, domain.EventQuizEnded, 1)
	time.Sleep(50 * time.Millisecond)
	if n := env.out.count(domain.EventQuizEnded); n != 1 {
		t.Fatalf("expected one quizEnded, got %d", n)
	}
	final, _ := env.out.last(domain.EventQuizEnded)
	lb, ok := final.payload.(domain.LeaderboardView)
	if !ok || !lb.IsFinal || len(lb.Players) != 2 {
		t.Fatalf("unexpected final leaderboard %+v", final.payload)
	}
	if lb.Players[0].UserID != 1 || lb.Players[0].Score != 18 {
		t.Fatalf("expected alice first with 18, got %+v", lb.Players)
	}
	if _, ok := env.sessions.Get(env.code); ok {
		t.Fatalf("expected live state to be dropped after the quiz ended")
	}
}

func TestRunnerEndStopsQuizOnce(t *testing.T) {
	env := newRunnerEnv(t)
	if err := env.runner.Start(ctxb, env.code, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitArmed(t, env.sessions, env.code, 10)

	if _, err := env.runner.End(ctxb, env.code, 2); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected not host, got %v", err)
	}
	ended, err := env.runner.End(ctxb, env.code, 1)
	if err != nil || !ended {
		t.Fatalf("end: ended=%v err=%v", ended, err)
	}
	ended, err = env.runner.End(ctxb, env.code, 1)
	if err != nil || ended {
		t.Fatalf("second end: ended=%v err=%v", ended, err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := env.out.count(domain.EventQuizEnded); n != 1 {
		t.Fatalf("expected one quizEnded, got %d (%v)", n, env.out.names())
	}
	if n := env.out.count(domain.EventQuestionEnded); n != 0 {
		t.Fatalf("expected no question to end after the room stopped, got %d", n)
	}
	if _, err := env.svc.GetCurrentQuestion(ctxb, env.code); !errors.Is(err, domain.ErrRoomEnded) {
		t.Fatalf("expected room ended, got %v", err)
	}
}

func TestRunnerStreamsLeaderboardPerAnswer(t *testing.T) {
	env := newRunnerEnv(t)
	join(t, env.svc, env.code, 3, "Carol")
	if err := env.runner.Start(ctxb, env.code, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitArmed(t, env.sessions, env.code, 10)
	before := env.out.count(domain.EventLeaderboardUpdated)

	sub := domain.AnswerSubmission{QuestionID: 10, Answer: []byte("102")}
	if _, err := env.svc.SubmitAnswer(ctxb, env.code, 2, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.runner.AnswerRecorded(ctxb, env.code, 10)

	if got := env.out.count(domain.EventLeaderboardUpdated); got != before+1 {
		t.Fatalf("expected one more leaderboardUpdated, got %d -> %d", before, got)
	}
	if n := env.out.count(domain.EventQuestionEnded); n != 0 {
		t.Fatalf("question ended with answers outstanding")
	}
	last, _ := env.out.last(domain.EventLeaderboardUpdated)
	lb, ok := last.payload.(domain.LeaderboardView)
	if !ok || len(lb.Players) != 3 || lb.Players[0].UserID != 2 || lb.Players[0].Score != 18 {
		t.Fatalf("expected bob to lead with 18, got %+v", last.payload)
	}
}

func TestRunnerTeardownKeepsConnectedRooms(t *testing.T) {
	env := newRunnerEnv(t)
	session := env.sessions.GetOrCreate(env.code)
	session.Attach(1)

	env.runner.Teardown(ctxb, env.code)
	if _, ok := env.sessions.Get(env.code); !ok {
		t.Fatalf("session with a connected user was dropped")
	}
	session.Detach(1)
	env.runner.Teardown(ctxb, env.code)
	if _, ok := env.sessions.Get(env.code); ok {
		t.Fatalf("empty lobby session was kept")
	}
	if session.Context().Err() == nil {
		t.Fatalf("expected dropped session to be closed")
	}
}

func TestRunnerTeardownKeepsRunningRoomWithPlayers(t *testing.T) {
	env := newRunnerEnv(t)
	if err := env.runner.Start(ctxb, env.code, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitArmed(t, env.sessions, env.code, 10)

	// nobody holds a websocket, but both players are still active in the room
	env.runner.Teardown(ctxb, env.code)
	session, ok := env.sessions.Get(env.code)
	if !ok {
		t.Fatalf("running room lost its live state")
	}
	if id, armed := session.ArmedQuestion(); !armed || id != 10 {
		t.Fatalf("expected question 10 to stay armed, got %d armed=%v", id, armed)
	}
	if n := env.out.count(domain.EventQuizEnded); n != 0 {
		t.Fatalf("running room was ended")
	}
}

func TestRunnerTeardownEndsAbandonedRoom(t *testing.T) {
	env := newRunnerEnv(t)
	if err := env.runner.Start(ctxb, env.code, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitArmed(t, env.sessions, env.code, 10)
	for _, user := range []int64{1, 2} {
		if _, err := env.svc.LeaveRoom(ctxb, env.code, user); err != nil {
			t.Fatalf("leave %d: %v", user, err)
		}
	}

	env.runner.Teardown(ctxb, env.code)
	if n := env.out.count(domain.EventQuizEnded); n != 1 {
		t.Fatalf("expected the abandoned room to end once, got %d", n)
	}
	if _, ok := env.sessions.Get(env.code); ok {
		t.Fatalf("expected live state to be dropped")
	}
	if _, err := env.svc.GetCurrentQuestion(ctxb, env.code); !errors.Is(err, domain.ErrRoomEnded) {
		t.Fatalf("expected room ended, got %v", err)
	}
}
