package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
	"go.uber.org/zap"
)

// Broadcaster fans an event out to every connection of a room.
type Broadcaster interface {
	BroadcastRoom(roomCode, event string, payload any)
}

var errQuestionClosing = fmt.Errorf("%w: question is already closing", domain.ErrConflict)

// QuizRunner drives started rooms through their questions: it arms the per-question timer,
// ends questions on expiry or once everyone answered, and pauses between questions.
type QuizRunner struct {
	rooms    *RoomService
	sessions SessionRepository
	out      Broadcaster
	logger   *zap.Logger
	pause    time.Duration
	leadIn   time.Duration
}

func NewQuizRunner(rooms *RoomService, sessions SessionRepository, out Broadcaster, logger *zap.Logger, pause, leadIn time.Duration) *QuizRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuizRunner{
		rooms:    rooms,
		sessions: sessions,
		out:      out,
		logger:   logger,
		pause:    pause,
		leadIn:   leadIn,
	}
}

// Start starts the room for the host and schedules the first question.
func (r *QuizRunner) Start(ctx context.Context, code string, callerID int64) error {
	code = NormalizeCode(code)
	if _, err := r.rooms.StartRoom(ctx, code, callerID); err != nil {
		return err
	}
	session := r.sessions.GetOrCreate(code)
	r.out.BroadcastRoom(code, domain.EventQuizStarted, domain.RoomEvent{RoomCode: code})
	go r.openingSequence(session)
	return nil
}

func (r *QuizRunner) openingSequence(session *Session) {
	defer r.recoverSequence(session.Code(), 0)
	ctx := session.Context()
	if sleepCtx(ctx, r.leadIn) != nil {
		return
	}
	r.broadcastLeaderboard(ctx, session.Code(), domain.EventLeaderboardUpdated)
	if sleepCtx(ctx, r.leadIn) != nil {
		return
	}
	r.beginQuestion(session)
}

// beginQuestion publishes the room's current question and arms its timer.
func (r *QuizRunner) beginQuestion(session *Session) {
	ctx := session.Context()
	code := session.Code()
	q, err := r.rooms.GetCurrentQuestion(ctx, code)
	switch {
	case errors.Is(err, domain.ErrQuizExhausted), errors.Is(err, domain.ErrNoActiveQuestion):
		if _, err := r.rooms.EndRoom(ctx, code); err != nil {
			r.logger.Error("end exhausted room", zap.String("room", code), zap.Error(err))
		}
		r.finish(session)
		return
	case errors.Is(err, domain.ErrRoomEnded):
		r.finish(session)
		return
	case err != nil:
		r.logger.Error("load current question", zap.String("room", code), zap.Error(err))
		return
	}

	r.out.BroadcastRoom(code, domain.EventQuestionStarted, q)
	questionID := q.QuestionID
	session.Arm(questionID, time.Duration(q.TimeRemaining)*time.Second, func() {
		metrics.QuestionsEnded.WithLabelValues("timer").Inc()
		r.endQuestion(session, questionID)
	})
}

// AnswerRecorded streams the updated leaderboard to the room and closes the question early
// once every active player has answered.
func (r *QuizRunner) AnswerRecorded(ctx context.Context, code string, questionID int64) {
	code = NormalizeCode(code)
	r.PublishLeaderboard(ctx, code)
	all, err := r.rooms.HaveAllPlayersAnswered(ctx, code, questionID)
	if err != nil {
		r.logger.Warn("count answers", zap.String("room", code), zap.Error(err))
		return
	}
	if !all {
		return
	}
	session, ok := r.sessions.Get(code)
	if !ok {
		return
	}
	if session.Claim(questionID) {
		metrics.QuestionsEnded.WithLabelValues("all_answered").Inc()
		go r.endQuestion(session, questionID)
	}
}

// Advance lets the host close the current question early. If the room has no armed timer
// (for example after the end sequence failed) the current question is published again.
func (r *QuizRunner) Advance(ctx context.Context, code string, callerID int64) error {
	code = NormalizeCode(code)
	host, err := r.rooms.IsHost(ctx, code, callerID)
	if err != nil {
		return err
	}
	if !host {
		return domain.ErrNotHost
	}
	q, err := r.rooms.GetCurrentQuestion(ctx, code)
	if err != nil {
		return err
	}
	session := r.sessions.GetOrCreate(code)
	if session.Claim(q.QuestionID) {
		metrics.QuestionsEnded.WithLabelValues("host").Inc()
		go r.endQuestion(session, q.QuestionID)
		return nil
	}
	if _, armed := session.ArmedQuestion(); armed {
		return errQuestionClosing
	}
	go r.beginQuestion(session)
	return nil
}

// End stops the room for the host and tells everyone the quiz is over.
func (r *QuizRunner) End(ctx context.Context, code string, callerID int64) (bool, error) {
	code = NormalizeCode(code)
	host, err := r.rooms.IsHost(ctx, code, callerID)
	if err != nil {
		return false, err
	}
	if !host {
		return false, domain.ErrNotHost
	}
	ended, err := r.rooms.EndRoom(ctx, code)
	if err != nil {
		return false, err
	}
	if session, ok := r.sessions.Get(code); ok {
		r.finish(session)
	} else if ended {
		r.broadcastLeaderboard(ctx, code, domain.EventQuizEnded)
	}
	return ended, nil
}

// endQuestion runs once per question: announce, rank, pause, then move on.
func (r *QuizRunner) endQuestion(session *Session, questionID int64) {
	code := session.Code()
	defer r.recoverSequence(code, questionID)
	ctx := session.Context()

	r.out.BroadcastRoom(code, domain.EventQuestionEnded, domain.QuestionEvent{RoomCode: code, QuestionID: questionID})
	r.broadcastLeaderboard(ctx, code, domain.EventLeaderboardUpdated)

	if sleepCtx(ctx, r.pause) != nil {
		return
	}
	hasMore, err := r.rooms.AdvanceQuestion(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrRoomEnded) {
			r.finish(session)
			return
		}
		r.logger.Error("advance question",
			zap.String("room", code),
			zap.Int64("question_id", questionID),
			zap.Error(err),
		)
		session.Release(questionID)
		return
	}
	if hasMore {
		r.beginQuestion(session)
		return
	}
	r.finish(session)
}

// finish publishes the final leaderboard and retires the room's live state.
func (r *QuizRunner) finish(session *Session) {
	code := session.Code()
	session.Disarm()
	if !session.MarkFinished() {
		return
	}
	r.broadcastLeaderboard(context.Background(), code, domain.EventQuizEnded)
	r.sessions.Delete(code)
	r.logger.Info("quiz ended", zap.String("room", code), zap.Int64s("connected", session.Members()))
}

// Teardown drops the live state of a room nobody is connected to any more. A running quiz
// that still has active players keeps its state so its timer goes on advancing it; a running
// quiz left without players is ended instead of being abandoned mid-question.
func (r *QuizRunner) Teardown(ctx context.Context, code string) {
	code = NormalizeCode(code)
	session, ok := r.sessions.Get(code)
	if !ok || !session.IsEmpty() {
		return
	}
	lobby, err := r.rooms.Lobby(ctx, code)
	if err != nil {
		if !errors.Is(err, domain.ErrRoomNotFound) {
			r.logger.Warn("teardown lookup", zap.String("room", code), zap.Error(err))
			return
		}
		r.sessions.DeleteIfEmpty(code)
		return
	}
	room := lobby.Room
	if !room.HasStarted() || room.HasEnded() {
		r.sessions.DeleteIfEmpty(code)
		return
	}
	if len(lobby.Players) > 0 {
		r.logger.Debug("keeping running room without connections",
			zap.String("room", code),
			zap.Int("players", len(lobby.Players)),
		)
		return
	}
	if _, err := r.rooms.EndRoom(ctx, code); err != nil {
		r.logger.Error("end abandoned room", zap.String("room", code), zap.Error(err))
		return
	}
	r.finish(session)
}

// PublishLeaderboard sends the room's current ranking to every connection.
func (r *QuizRunner) PublishLeaderboard(ctx context.Context, code string) {
	r.broadcastLeaderboard(ctx, NormalizeCode(code), domain.EventLeaderboardUpdated)
}

func (r *QuizRunner) broadcastLeaderboard(ctx context.Context, code, event string) {
	lb, err := r.rooms.GetLiveLeaderboard(ctx, code)
	if err != nil {
		r.logger.Warn("leaderboard", zap.String("room", code), zap.Error(err))
		return
	}
	r.out.BroadcastRoom(code, event, lb)
}

func (r *QuizRunner) recoverSequence(code string, questionID int64) {
	if rec := recover(); rec != nil {
		r.logger.Error("question sequence panicked",
			zap.String("room", code),
			zap.Int64("question_id", questionID),
			zap.Any("panic", rec),
		)
	}
}
