package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server   *httptest.Server
	jwt      *auth.JWTService
	rooms    *app.RoomService
	sessions *memory.SessionStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuizzes()), time.Minute)
	rooms := app.NewRoomService(memory.NewRoomStore(), quizzes, app.WithJoinRetry(3, time.Millisecond))
	sessions := memory.NewSessionStore()
	hub := NewHub(nil, nil)
	runner := app.NewQuizRunner(rooms, sessions, hub, nil, 20*time.Millisecond, 10*time.Millisecond)
	jwt := auth.NewJWTService("test-secret", time.Hour)

	router := NewRouter(RouterDeps{
		Rooms:               rooms,
		Runner:              runner,
		Sessions:            sessions,
		Hub:                 hub,
		Auth:                jwt,
		MaxInboundPerSecond: 50,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{server: server, jwt: jwt, rooms: rooms, sessions: sessions}
}

func (e *testEnv) token(t *testing.T, userID int64, name string) string {
	t.Helper()
	tok, err := e.jwt.Generate(domain.Identity{UserID: userID, DisplayName: name})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, envelopeBody) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out envelopeBody
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

type envelopeBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (e *testEnv) createRoom(t *testing.T, token string, maxPlayers int) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/live-rooms", token, domain.CreateRoomRequest{
		Name:               "Friday",
		QuizID:             1,
		MaxPlayers:         maxPlayers,
		SecondsPerQuestion: 10,
		StartDelaySeconds:  60,
	})
	if status != http.StatusCreated {
		t.Fatalf("create room: status %d error %q", status, body.Error)
	}
	var summary domain.RoomSummary
	if err := json.Unmarshal(body.Data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	return summary.RoomCode
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil skips frames until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if f.Type == want {
			return f.Payload
		}
		if f.Type == domain.EventError && want != domain.EventError {
			t.Fatalf("waiting for %s, got error %s", want, f.Payload)
		}
	}
}

// readUntilBefore is readUntil that fails when a frame of type stop arrives first.
func readUntilBefore(t *testing.T, conn *websocket.Conn, want, stop string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		switch f.Type {
		case want:
			return f.Payload
		case stop:
			t.Fatalf("got %s before %s", stop, want)
		case domain.EventError:
			t.Fatalf("waiting for %s, got error %s", want, f.Payload)
		}
	}
}

func sampleQuizzes() map[int64]domain.Quiz {
	return map[int64]domain.Quiz{
		1: {
			ID:         1,
			Title:      "Arithmetic",
			Difficulty: 1,
			IsActive:   true,
			Questions: []domain.Question{
				{
					ID:       10,
					Text:     "What is 2 + 2?",
					Type:     domain.SingleChoice,
					IsActive: true,
					Options: []domain.Option{
						{ID: 100, Text: "3", IsActive: true},
						{ID: 101, Text: "4", IsCorrect: true, IsActive: true},
					},
				},
			},
		},
	}
}
