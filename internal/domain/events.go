package domain

// Outbound realtime event names.
const (
	EventRoomJoined         = "roomJoined"
	EventRoomLeft           = "roomLeft"
	EventPlayerJoined       = "playerJoined"
	EventPlayerLeft         = "playerLeft"
	EventLobbyStatus        = "lobbyStatus"
	EventQuizStarted        = "quizStarted"
	EventQuestionStarted    = "questionStarted"
	EventAnswerSubmitted    = "answerSubmitted"
	EventLeaderboardUpdated = "leaderboardUpdated"
	EventQuestionEnded      = "questionEnded"
	EventQuizEnded          = "quizEnded"
	EventError              = "error"
)

// RoomEvent carries a room code.
type RoomEvent struct {
	RoomCode string `json:"roomCode"`
}

// PlayerEvent names the player who joined or left.
type PlayerEvent struct {
	RoomCode string `json:"roomCode"`
	UserID   int64  `json:"userId"`
	Username string `json:"username,omitempty"`
}

// QuestionEvent names a question that was answered or ended.
type QuestionEvent struct {
	RoomCode   string `json:"roomCode"`
	QuestionID int64  `json:"questionId"`
}
