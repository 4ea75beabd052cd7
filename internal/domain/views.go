package domain

import (
	"sort"
	"time"
)

// LobbyPlayer is an active player as shown in the lobby.
type LobbyPlayer struct {
	UserID   int64     `json:"userId"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// LobbyView is the pre-start status of a room as seen by one recipient.
type LobbyView struct {
	RoomCode           string        `json:"roomCode"`
	Name               string        `json:"name"`
	QuizTitle          string        `json:"quizTitle"`
	QuizDescription    string        `json:"quizDescription"`
	Difficulty         string        `json:"difficulty"`
	MaxPlayers         int           `json:"maxPlayers"`
	CurrentPlayers     int           `json:"currentPlayers"`
	SecondsPerQuestion int           `json:"secondsPerQuestion"`
	TimeUntilStart     int           `json:"timeUntilStart"`
	Players            []LobbyPlayer `json:"players"`
	IsHost             bool          `json:"isHost"`
}

// Lobby is a room snapshot from which every lobby view variant is derived.
type Lobby struct {
	Room    Room
	Quiz    Quiz
	Players []Player
	Now     time.Time
}

// NewLobby keeps only active players, ordered by join time.
func NewLobby(room Room, quiz Quiz, players []Player, now time.Time) Lobby {
	active := ActivePlayers(players)
	return Lobby{Room: room, Quiz: quiz, Players: active, Now: now}
}

// HostID returns the earliest-joined active player.
func (l Lobby) HostID() (int64, bool) {
	if len(l.Players) == 0 {
		return 0, false
	}
	return l.Players[0].UserID, true
}

// IsHost reports whether userID is the computed host.
func (l Lobby) IsHost(userID int64) bool {
	host, ok := l.HostID()
	return ok && host == userID
}

// ViewFor is the caller variant.
func (l Lobby) ViewFor(userID int64) LobbyView {
	return l.view(l.IsHost(userID))
}

// OthersView is broadcast to everyone but the host.
func (l Lobby) OthersView() LobbyView {
	return l.view(false)
}

// HostView is sent to the host's own connections.
func (l Lobby) HostView() LobbyView {
	return l.view(true)
}

func (l Lobby) view(isHost bool) LobbyView {
	players := make([]LobbyPlayer, 0, len(l.Players))
	for _, p := range l.Players {
		players = append(players, LobbyPlayer{UserID: p.UserID, Username: p.DisplayName, JoinedAt: p.JoinedAt})
	}
	target := l.Room.StartsAt()
	if l.Room.StartedAt != nil {
		target = *l.Room.StartedAt
	}
	remaining := int(target.Sub(l.Now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return LobbyView{
		RoomCode:           l.Room.Code,
		Name:               l.Room.Name,
		QuizTitle:          l.Quiz.Title,
		QuizDescription:    l.Quiz.Description,
		Difficulty:         DifficultyLabel(l.Quiz.Difficulty),
		MaxPlayers:         l.Room.MaxPlayers,
		CurrentPlayers:     len(players),
		SecondsPerQuestion: l.Room.SecondsPerQuestion,
		TimeUntilStart:     remaining,
		Players:            players,
		IsHost:             isHost,
	}
}

// ActivePlayers filters out left players and orders the rest by join time, then id.
func ActivePlayers(players []Player) []Player {
	out := make([]Player, 0, len(players))
	for _, p := range players {
		if p.Active() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OptionView is an answer option without its correctness flag.
type OptionView struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// QuestionView is the active question as pushed to players.
type QuestionView struct {
	QuestionID     int64        `json:"questionId"`
	Text           string       `json:"text"`
	QuestionType   QuestionType `json:"questionType"`
	AnswerOptions  []OptionView `json:"answerOptions"`
	TimeRemaining  int          `json:"timeRemaining"`
	QuestionIndex  int          `json:"questionIndex"`
	TotalQuestions int          `json:"totalQuestions"`
}

// LeaderboardEntry is one ranked player.
type LeaderboardEntry struct {
	Position            int     `json:"position"`
	UserID              int64   `json:"userId"`
	Username            string  `json:"username"`
	Score               int     `json:"score"`
	CorrectAnswers      int     `json:"correctAnswers"`
	AverageResponseTime float64 `json:"averageResponseTime"`
}

// LeaderboardView is the ranked room scoreboard.
type LeaderboardView struct {
	RoomCode string             `json:"roomCode"`
	Players  []LeaderboardEntry `json:"players"`
	IsFinal  bool               `json:"isFinal"`
}

// RoomSummary is a room listed for joining.
type RoomSummary struct {
	ID                 int64     `json:"id"`
	RoomCode           string    `json:"roomCode"`
	Name               string    `json:"name"`
	QuizTitle          string    `json:"quizTitle"`
	MaxPlayers         int       `json:"maxPlayers"`
	CurrentPlayers     int       `json:"currentPlayers"`
	SecondsPerQuestion int       `json:"secondsPerQuestion"`
	CreatedAt          time.Time `json:"createdAt"`
	StartsAt           time.Time `json:"startsAt"`
	HasStarted         bool      `json:"hasStarted"`
	HasEnded           bool      `json:"hasEnded"`
}
