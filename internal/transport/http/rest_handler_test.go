package http

import (
	"encoding/json"
	"net/http"
	"testing"

	"live-quiz-service/internal/domain"
)

func TestRESTRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodGet, "/api/live-rooms", "", nil)
	if status != http.StatusUnauthorized || body.Success {
		t.Fatalf("expected 401 envelope, got %d %+v", status, body)
	}
}

func TestRESTCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodPost, "/api/live-rooms", env.token(t, 1, "A"), domain.CreateRoomRequest{
		Name:               "x",
		QuizID:             1,
		MaxPlayers:         1,
		SecondsPerQuestion: 10,
		StartDelaySeconds:  10,
	})
	if status != http.StatusBadRequest || body.Error == "" {
		t.Fatalf("expected 400 with message, got %d %+v", status, body)
	}

	status, _ = env.do(t, http.MethodPost, "/api/live-rooms", env.token(t, 1, "A"), domain.CreateRoomRequest{
		Name:               "x",
		QuizID:             99,
		MaxPlayers:         4,
		SecondsPerQuestion: 10,
		StartDelaySeconds:  10,
	})
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown quiz, got %d", status)
	}
}

func TestRESTLobbyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, 1, "Alice")
	bob := env.token(t, 2, "Bob")
	carol := env.token(t, 3, "Carol")
	code := env.createRoom(t, alice, 2)

	status, body := env.do(t, http.MethodGet, "/api/live-rooms", alice, nil)
	if status != http.StatusOK {
		t.Fatalf("list: %d", status)
	}
	var rooms []domain.RoomSummary
	if err := json.Unmarshal(body.Data, &rooms); err != nil || len(rooms) != 1 || rooms[0].RoomCode != code {
		t.Fatalf("expected one listed room, got %s (%v)", body.Data, err)
	}

	if status, _ := env.do(t, http.MethodGet, "/api/live-rooms/"+code+"/lobby", alice, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member lobby, got %d", status)
	}
	for _, tok := range []string{alice, bob} {
		if status, body := env.do(t, http.MethodPost, "/api/live-rooms/"+code+"/join", tok, nil); status != http.StatusOK {
			t.Fatalf("join: %d %s", status, body.Error)
		}
	}
	if status, _ := env.do(t, http.MethodPost, "/api/live-rooms/"+code+"/join", carol, nil); status != http.StatusConflict {
		t.Fatalf("expected 409 for a full room, got %d", status)
	}

	status, body = env.do(t, http.MethodGet, "/api/live-rooms/"+code+"/lobby", bob, nil)
	if status != http.StatusOK {
		t.Fatalf("lobby: %d", status)
	}
	var view domain.LobbyView
	if err := json.Unmarshal(body.Data, &view); err != nil {
		t.Fatalf("decode lobby: %v", err)
	}
	if view.IsHost || view.CurrentPlayers != 2 || view.Difficulty != "Easy" {
		t.Fatalf("unexpected lobby %+v", view)
	}

	if status, _ := env.do(t, http.MethodPost, "/api/live-rooms/"+code+"/start", bob, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 when a non-host starts, got %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/live-rooms/"+code+"/leave", bob, nil); status != http.StatusOK {
		t.Fatalf("leave: %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/live-rooms/"+code+"/join", carol, nil); status != http.StatusOK {
		t.Fatalf("expected carol to fit after bob left, got %d", status)
	}

	if status, _ := env.do(t, http.MethodPost, "/api/live-rooms/"+code+"/end", carol, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 when a non-host ends, got %d", status)
	}
	status, body = env.do(t, http.MethodPost, "/api/live-rooms/"+code+"/end", alice, nil)
	if status != http.StatusOK {
		t.Fatalf("end: %d %s", status, body.Error)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/live-rooms/"+code+"/join", bob, nil); status != http.StatusConflict {
		t.Fatalf("expected 409 joining an ended room, got %d", status)
	}
}

func TestRESTUnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodPost, "/api/live-rooms/NOPE00/join", env.token(t, 1, "A"), nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	if status, _ := env.do(t, http.MethodGet, "/healthz", "", nil); status != http.StatusOK {
		t.Fatalf("healthz: %d", status)
	}
	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

func TestRESTJoinNotifiesPreviousRoom(t *testing.T) {
	env := newTestEnv(t)
	aliceToken := env.token(t, 1, "Alice")
	first := env.createRoom(t, aliceToken, 4)
	second := env.createRoom(t, env.token(t, 3, "Carol"), 4)

	alice := env.dial(t, aliceToken)
	send(t, alice, actionJoinRoom, map[string]any{"roomCode": first})
	readUntil(t, alice, domain.EventRoomJoined)
	bob := env.dial(t, env.token(t, 2, "Bob"))
	send(t, bob, actionJoinRoom, map[string]any{"roomCode": first})
	readUntil(t, bob, domain.EventLobbyStatus)

	if status, body := env.do(t, http.MethodPost, "/api/live-rooms/"+second+"/join", aliceToken, nil); status != http.StatusOK {
		t.Fatalf("join second room: %d %q", status, body.Error)
	}

	var left domain.PlayerEvent
	if err := json.Unmarshal(readUntil(t, bob, domain.EventPlayerLeft), &left); err != nil {
		t.Fatalf("decode player left: %v", err)
	}
	if left.UserID != 1 {
		t.Fatalf("expected alice to leave the first room, got %+v", left)
	}
	var view domain.LobbyView
	if err := json.Unmarshal(readUntil(t, bob, domain.EventLobbyStatus), &view); err != nil {
		t.Fatalf("decode lobby: %v", err)
	}
	if !view.IsHost || view.CurrentPlayers != 1 {
		t.Fatalf("expected bob alone as host, got %+v", view)
	}
	readUntil(t, alice, domain.EventRoomLeft)

	// alice's socket no longer speaks for the first room
	send(t, alice, actionStartQuiz, map[string]any{"roomCode": first})
	readUntil(t, alice, domain.EventError)
	if session, ok := env.sessions.Get(first); !ok || len(session.Members()) != 1 {
		t.Fatalf("expected only bob in the first room session")
	}
}
