package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// QuestionType tags how a question is answered and graded.
type QuestionType string

const (
	SingleChoice   QuestionType = "SingleChoice"
	MultipleChoice QuestionType = "MultipleChoice"
	TrueFalse      QuestionType = "TrueFalse"
	FillInTheBlank QuestionType = "FillInTheBlank"
)

// Room capacity and timing bounds.
const (
	MinPlayers            = 2
	MaxPlayers            = 20
	MinSecondsPerQuestion = 10
	MaxSecondsPerQuestion = 120
	MinStartDelaySeconds  = 10
	MaxStartDelaySeconds  = 300

	RoomCodeLength = 6
	// LobbyIndex is the question index of a room that is not running a question.
	LobbyIndex = -1
)

// Identity is an authenticated caller.
type Identity struct {
	UserID      int64  `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Room is one live quiz session.
type Room struct {
	ID                   int64
	Code                 string
	Name                 string
	QuizID               int64
	MaxPlayers           int
	SecondsPerQuestion   int
	StartDelaySeconds    int
	CreatedAt            time.Time
	StartedAt            *time.Time
	EndedAt              *time.Time
	CurrentQuestionIndex int
	IsActive             bool
}

// HasStarted reports whether StartedAt is set.
func (r Room) HasStarted() bool { return r.StartedAt != nil }

// HasEnded reports whether EndedAt is set.
func (r Room) HasEnded() bool { return r.EndedAt != nil }

// StartsAt is the scheduled end of the lobby phase.
func (r Room) StartsAt() time.Time {
	return r.CreatedAt.Add(time.Duration(r.StartDelaySeconds) * time.Second)
}

// QuestionDuration is the per-question time budget.
func (r Room) QuestionDuration() time.Duration {
	return time.Duration(r.SecondsPerQuestion) * time.Second
}

// Player is a user's membership in a room. LeftAt == nil means active.
type Player struct {
	ID          int64
	RoomID      int64
	UserID      int64
	DisplayName string
	JoinedAt    time.Time
	LeftAt      *time.Time
	Score       int
	IsReady     bool
}

// Active reports whether the membership is current.
func (p Player) Active() bool { return p.LeftAt == nil }

// Answer is the single recorded submission of a user for a question in a room.
type Answer struct {
	ID                  int64
	RoomID              int64
	UserID              int64
	QuestionID          int64
	SubmittedAnswer     string
	IsCorrect           bool
	SubmittedAt         time.Time
	ResponseTimeSeconds float64
	GotFirstBlood       bool
}

// Option is a selectable answer of a question.
type Option struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
	IsActive  bool   `json:"isActive"`
}

// Question is immutable catalog content.
type Question struct {
	ID         int64        `json:"id"`
	Text       string       `json:"text"`
	Type       QuestionType `json:"type"`
	TextAnswer string       `json:"textAnswer,omitempty"`
	IsActive   bool         `json:"isActive"`
	Options    []Option     `json:"options"`
}

// Quiz is the catalog snapshot a room plays through.
type Quiz struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Difficulty  int        `json:"difficulty"`
	IsActive    bool       `json:"isActive"`
	Questions   []Question `json:"questions"`
}

// ActiveQuestions returns active questions ordered by id, each with only its active options ordered by id.
func (q Quiz) ActiveQuestions() []Question {
	out := make([]Question, 0, len(q.Questions))
	for _, question := range q.Questions {
		if !question.IsActive {
			continue
		}
		opts := make([]Option, 0, len(question.Options))
		for _, opt := range question.Options {
			if opt.IsActive {
				opts = append(opts, opt)
			}
		}
		sort.Slice(opts, func(i, j int) bool { return opts[i].ID < opts[j].ID })
		question.Options = opts
		out = append(out, question)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DifficultyLabel names the numeric difficulty.
func DifficultyLabel(level int) string {
	switch level {
	case 1:
		return "Easy"
	case 2:
		return "Medium"
	case 3:
		return "Hard"
	default:
		return "Unknown"
	}
}

// CreateRoomRequest carries host input for a new room.
type CreateRoomRequest struct {
	Name               string `json:"name"`
	QuizID             int64  `json:"quizId"`
	MaxPlayers         int    `json:"maxPlayers"`
	SecondsPerQuestion int    `json:"secondsPerQuestion"`
	StartDelaySeconds  int    `json:"startDelaySeconds"`
}

// AnswerSubmission is a player's answer as received from a client.
type AnswerSubmission struct {
	QuestionID int64           `json:"questionId"`
	Answer     json.RawMessage `json:"answer"`
	// ClientSubmittedAt is the client clock in unix milliseconds.
	ClientSubmittedAt int64 `json:"clientSubmittedAt"`
}
