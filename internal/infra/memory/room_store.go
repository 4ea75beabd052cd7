package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// RoomStore is an in-memory app.RoomStore. It enforces the same constraints as the
// Postgres schema: unique room codes, one active membership per user and one answer per
// (room, user, question).
type RoomStore struct {
	mu sync.RWMutex

	nextRoomID   int64
	nextPlayerID int64
	nextAnswerID int64

	rooms   map[int64]domain.Room
	byCode  map[string]int64
	players map[int64][]domain.Player
	answers map[int64][]domain.Answer
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms:   make(map[int64]domain.Room),
		byCode:  make(map[string]int64),
		players: make(map[int64][]domain.Player),
		answers: make(map[int64][]domain.Answer),
	}
}

func (s *RoomStore) RoomCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byCode[code]
	return ok, nil
}

func (s *RoomStore) CreateRoom(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCode[room.Code]; ok {
		return domain.ErrRoomCodeTaken
	}
	s.nextRoomID++
	room.ID = s.nextRoomID
	s.rooms[room.ID] = cloneRoom(*room)
	s.byCode[room.Code] = room.ID
	return nil
}

func (s *RoomStore) GetRoom(_ context.Context, code string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	room := s.rooms[id]
	if !room.IsActive {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (s *RoomStore) ListOpenRooms(_ context.Context, now time.Time) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Room
	for _, room := range s.rooms {
		if room.IsActive && room.StartedAt == nil && room.StartsAt().After(now) {
			out = append(out, cloneRoom(room))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *RoomStore) SaveProgress(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.rooms[room.ID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	stored.StartedAt = copyTime(room.StartedAt)
	stored.EndedAt = copyTime(room.EndedAt)
	stored.CurrentQuestionIndex = room.CurrentQuestionIndex
	s.rooms[room.ID] = stored
	return nil
}

func (s *RoomStore) ListPlayers(_ context.Context, roomID int64) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.players[roomID]
	out := make([]domain.Player, 0, len(src))
	for _, p := range src {
		p.LeftAt = copyTime(p.LeftAt)
		out = append(out, p)
	}
	return out, nil
}

func (s *RoomStore) InsertPlayer(_ context.Context, player *domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.players {
		for _, p := range list {
			if p.UserID == player.UserID && p.LeftAt == nil {
				return domain.ErrActiveMembershipExists
			}
		}
	}
	s.nextPlayerID++
	player.ID = s.nextPlayerID
	s.players[player.RoomID] = append(s.players[player.RoomID], *player)
	return nil
}

func (s *RoomStore) LeaveOtherRooms(_ context.Context, userID int64, keepCode string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keepID := s.byCode[keepCode]
	var left []string
	for roomID, list := range s.players {
		if roomID == keepID {
			continue
		}
		for i := range list {
			if list[i].UserID == userID && list[i].LeftAt == nil {
				stamp := at
				list[i].LeftAt = &stamp
				left = append(left, s.rooms[roomID].Code)
			}
		}
	}
	sort.Strings(left)
	return left, nil
}

func (s *RoomStore) MarkLeft(_ context.Context, roomID, userID int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.players[roomID]
	for i := range list {
		if list[i].UserID == userID && list[i].LeftAt == nil {
			stamp := at
			list[i].LeftAt = &stamp
			return true, nil
		}
	}
	return false, nil
}

func (s *RoomStore) ListAnswers(_ context.Context, roomID int64) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Answer(nil), s.answers[roomID]...), nil
}

func (s *RoomStore) HasAnswer(_ context.Context, roomID, userID, questionID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasAnswerLocked(roomID, userID, questionID), nil
}

func (s *RoomStore) hasAnswerLocked(roomID, userID, questionID int64) bool {
	for _, a := range s.answers[roomID] {
		if a.UserID == userID && a.QuestionID == questionID {
			return true
		}
	}
	return false
}

func (s *RoomStore) HasCorrectAnswer(_ context.Context, roomID, questionID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.answers[roomID] {
		if a.QuestionID == questionID && a.IsCorrect {
			return true, nil
		}
	}
	return false, nil
}

func (s *RoomStore) CountAnswerers(_ context.Context, roomID, questionID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make(map[int64]struct{})
	for _, a := range s.answers[roomID] {
		if a.QuestionID == questionID {
			users[a.UserID] = struct{}{}
		}
	}
	return len(users), nil
}

func (s *RoomStore) RecordAnswer(_ context.Context, answer *domain.Answer, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasAnswerLocked(answer.RoomID, answer.UserID, answer.QuestionID) {
		return domain.ErrDuplicateAnswer
	}
	s.nextAnswerID++
	answer.ID = s.nextAnswerID
	s.answers[answer.RoomID] = append(s.answers[answer.RoomID], *answer)
	if points <= 0 {
		return nil
	}
	list := s.players[answer.RoomID]
	for i := range list {
		if list[i].UserID == answer.UserID && list[i].LeftAt == nil {
			list[i].Score += points
			break
		}
	}
	return nil
}

func cloneRoom(r domain.Room) domain.Room {
	r.StartedAt = copyTime(r.StartedAt)
	r.EndedAt = copyTime(r.EndedAt)
	return r
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
