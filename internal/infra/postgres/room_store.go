package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"live-quiz-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

type roomModel struct {
	bun.BaseModel `bun:"table:live_rooms,alias:r"`

	ID                   int64      `bun:"id,pk,autoincrement"`
	Code                 string     `bun:"room_code,notnull"`
	Name                 string     `bun:"name,notnull"`
	QuizID               int64      `bun:"quiz_id,notnull"`
	MaxPlayers           int        `bun:"max_players,notnull"`
	SecondsPerQuestion   int        `bun:"seconds_per_question,notnull"`
	StartDelaySeconds    int        `bun:"start_delay_seconds,notnull"`
	CreatedAt            time.Time  `bun:"created_at,notnull"`
	StartedAt            *time.Time `bun:"started_at"`
	EndedAt              *time.Time `bun:"ended_at"`
	CurrentQuestionIndex int        `bun:"current_question_index,notnull"`
	IsActive             bool       `bun:"is_active,notnull"`
}

type playerModel struct {
	bun.BaseModel `bun:"table:live_room_players,alias:p"`

	ID          int64      `bun:"id,pk,autoincrement"`
	RoomID      int64      `bun:"live_room_id,notnull"`
	UserID      int64      `bun:"user_id,notnull"`
	DisplayName string     `bun:"display_name,notnull"`
	JoinedAt    time.Time  `bun:"joined_at,notnull"`
	LeftAt      *time.Time `bun:"left_at"`
	Score       int        `bun:"score,notnull"`
	IsReady     bool       `bun:"is_ready,notnull"`
}

type answerModel struct {
	bun.BaseModel `bun:"table:live_room_answers,alias:a"`

	ID                  int64     `bun:"id,pk,autoincrement"`
	RoomID              int64     `bun:"live_room_id,notnull"`
	UserID              int64     `bun:"user_id,notnull"`
	QuestionID          int64     `bun:"question_id,notnull"`
	SubmittedAnswer     string    `bun:"submitted_answer,notnull"`
	IsCorrect           bool      `bun:"is_correct,notnull"`
	SubmittedAt         time.Time `bun:"submitted_at,notnull"`
	ResponseTimeSeconds float64   `bun:"response_time_seconds,notnull"`
	GotFirstBlood       bool      `bun:"got_first_blood,notnull"`
}

// RoomStore persists rooms, memberships and answers with bun. Uniqueness rules live in the
// schema and surface here as domain errors.
type RoomStore struct {
	db *bun.DB
}

func NewRoomStore(db *bun.DB) *RoomStore {
	return &RoomStore{db: db}
}

func (s *RoomStore) RoomCodeExists(ctx context.Context, code string) (bool, error) {
	ok, err := s.db.NewSelect().Model((*roomModel)(nil)).Where("room_code = ?", code).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("room code exists: %w", err)
	}
	return ok, nil
}

func (s *RoomStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	m := toRoomModel(*room)
	if _, err := s.db.NewInsert().Model(&m).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrRoomCodeTaken
		}
		return fmt.Errorf("insert room: %w", err)
	}
	room.ID = m.ID
	return nil
}

func (s *RoomStore) GetRoom(ctx context.Context, code string) (domain.Room, error) {
	var m roomModel
	err := s.db.NewSelect().Model(&m).
		Where("room_code = ?", code).
		Where("is_active").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("get room: %w", err)
	}
	return m.toDomain(), nil
}

func (s *RoomStore) ListOpenRooms(ctx context.Context, now time.Time) ([]domain.Room, error) {
	var ms []roomModel
	err := s.db.NewSelect().Model(&ms).
		Where("is_active").
		Where("started_at IS NULL").
		Where("created_at + make_interval(secs => start_delay_seconds) > ?", now).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open rooms: %w", err)
	}
	out := make([]domain.Room, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *RoomStore) SaveProgress(ctx context.Context, room domain.Room) error {
	m := toRoomModel(room)
	res, err := s.db.NewUpdate().Model(&m).
		Column("started_at", "ended_at", "current_question_index").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save room progress: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (s *RoomStore) ListPlayers(ctx context.Context, roomID int64) ([]domain.Player, error) {
	var ms []playerModel
	err := s.db.NewSelect().Model(&ms).
		Where("live_room_id = ?", roomID).
		Order("joined_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	out := make([]domain.Player, 0, len(ms))
	for _, m := range ms {
		out = append(out, domain.Player{
			ID:          m.ID,
			RoomID:      m.RoomID,
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			JoinedAt:    m.JoinedAt,
			LeftAt:      m.LeftAt,
			Score:       m.Score,
			IsReady:     m.IsReady,
		})
	}
	return out, nil
}

func (s *RoomStore) InsertPlayer(ctx context.Context, player *domain.Player) error {
	m := playerModel{
		RoomID:      player.RoomID,
		UserID:      player.UserID,
		DisplayName: player.DisplayName,
		JoinedAt:    player.JoinedAt,
		LeftAt:      player.LeftAt,
		Score:       player.Score,
		IsReady:     player.IsReady,
	}
	if _, err := s.db.NewInsert().Model(&m).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrActiveMembershipExists
		}
		return fmt.Errorf("insert player: %w", err)
	}
	player.ID = m.ID
	return nil
}

func (s *RoomStore) LeaveOtherRooms(ctx context.Context, userID int64, keepCode string, at time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE live_room_players AS p
		SET left_at = ?
		FROM live_rooms AS r
		WHERE r.id = p.live_room_id
			AND p.user_id = ?
			AND p.left_at IS NULL
			AND r.room_code <> ?
		RETURNING r.room_code`, at, userID, keepCode)
	if err != nil {
		return nil, fmt.Errorf("leave other rooms: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan left room: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leave other rooms: %w", err)
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *RoomStore) MarkLeft(ctx context.Context, roomID, userID int64, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*playerModel)(nil)).
		Set("left_at = ?", at).
		Where("live_room_id = ?", roomID).
		Where("user_id = ?", userID).
		Where("left_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark left: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RoomStore) ListAnswers(ctx context.Context, roomID int64) ([]domain.Answer, error) {
	var ms []answerModel
	err := s.db.NewSelect().Model(&ms).
		Where("live_room_id = ?", roomID).
		Order("submitted_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	out := make([]domain.Answer, 0, len(ms))
	for _, m := range ms {
		out = append(out, domain.Answer{
			ID:                  m.ID,
			RoomID:              m.RoomID,
			UserID:              m.UserID,
			QuestionID:          m.QuestionID,
			SubmittedAnswer:     m.SubmittedAnswer,
			IsCorrect:           m.IsCorrect,
			SubmittedAt:         m.SubmittedAt,
			ResponseTimeSeconds: m.ResponseTimeSeconds,
			GotFirstBlood:       m.GotFirstBlood,
		})
	}
	return out, nil
}

func (s *RoomStore) HasAnswer(ctx context.Context, roomID, userID, questionID int64) (bool, error) {
	ok, err := s.db.NewSelect().Model((*answerModel)(nil)).
		Where("live_room_id = ?", roomID).
		Where("user_id = ?", userID).
		Where("question_id = ?", questionID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("has answer: %w", err)
	}
	return ok, nil
}

func (s *RoomStore) HasCorrectAnswer(ctx context.Context, roomID, questionID int64) (bool, error) {
	ok, err := s.db.NewSelect().Model((*answerModel)(nil)).
		Where("live_room_id = ?", roomID).
		Where("question_id = ?", questionID).
		Where("is_correct").
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("has correct answer: %w", err)
	}
	return ok, nil
}

func (s *RoomStore) CountAnswerers(ctx context.Context, roomID, questionID int64) (int, error) {
	var n int
	err := s.db.NewSelect().Model((*answerModel)(nil)).
		ColumnExpr("COUNT(DISTINCT user_id)").
		Where("live_room_id = ?", roomID).
		Where("question_id = ?", questionID).
		Scan(ctx, &n)
	if err != nil {
		return 0, fmt.Errorf("count answerers: %w", err)
	}
	return n, nil
}

// RecordAnswer stores the answer and credits the player's score in one transaction.
func (s *RoomStore) RecordAnswer(ctx context.Context, answer *domain.Answer, points int) error {
	m := answerModel{
		RoomID:              answer.RoomID,
		UserID:              answer.UserID,
		QuestionID:          answer.QuestionID,
		SubmittedAnswer:     answer.SubmittedAnswer,
		IsCorrect:           answer.IsCorrect,
		SubmittedAt:         answer.SubmittedAt,
		ResponseTimeSeconds: answer.ResponseTimeSeconds,
		GotFirstBlood:       answer.GotFirstBlood,
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&m).Returning("id").Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateAnswer
			}
			return fmt.Errorf("insert answer: %w", err)
		}
		if points <= 0 {
			return nil
		}
		_, err := tx.NewUpdate().Model((*playerModel)(nil)).
			Set("score = score + ?", points).
			Where("live_room_id = ?", answer.RoomID).
			Where("user_id = ?", answer.UserID).
			Where("left_at IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("credit score: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	answer.ID = m.ID
	return nil
}

func toRoomModel(r domain.Room) roomModel {
	return roomModel{
		ID:                   r.ID,
		Code:                 r.Code,
		Name:                 r.Name,
		QuizID:               r.QuizID,
		MaxPlayers:           r.MaxPlayers,
		SecondsPerQuestion:   r.SecondsPerQuestion,
		StartDelaySeconds:    r.StartDelaySeconds,
		CreatedAt:            r.CreatedAt,
		StartedAt:            r.StartedAt,
		EndedAt:              r.EndedAt,
		CurrentQuestionIndex: r.CurrentQuestionIndex,
		IsActive:             r.IsActive,
	}
}

func (m roomModel) toDomain() domain.Room {
	return domain.Room{
		ID:                   m.ID,
		Code:                 m.Code,
		Name:                 m.Name,
		QuizID:               m.QuizID,
		MaxPlayers:           m.MaxPlayers,
		SecondsPerQuestion:   m.SecondsPerQuestion,
		StartDelaySeconds:    m.StartDelaySeconds,
		CreatedAt:            m.CreatedAt,
		StartedAt:            m.StartedAt,
		EndedAt:              m.EndedAt,
		CurrentQuestionIndex: m.CurrentQuestionIndex,
		IsActive:             m.IsActive,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
