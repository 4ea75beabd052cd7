package app

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
	"go.uber.org/zap"
)

// RoomStore persists rooms, memberships and answers.
type RoomStore interface {
	RoomCodeExists(ctx context.Context, code string) (bool, error)
	// CreateRoom assigns room.ID. A duplicate code yields domain.ErrRoomCodeTaken.
	CreateRoom(ctx context.Context, room *domain.Room) error
	// GetRoom returns active rooms only, otherwise domain.ErrRoomNotFound.
	GetRoom(ctx context.Context, code string) (domain.Room, error)
	// ListOpenRooms returns rooms not yet started whose start delay has not elapsed at now, newest first.
	ListOpenRooms(ctx context.Context, now time.Time) ([]domain.Room, error)
	// SaveProgress persists StartedAt, EndedAt and CurrentQuestionIndex.
	SaveProgress(ctx context.Context, room domain.Room) error

	ListPlayers(ctx context.Context, roomID int64) ([]domain.Player, error)
	// InsertPlayer fails with domain.ErrActiveMembershipExists if the user is active anywhere.
	InsertPlayer(ctx context.Context, player *domain.Player) error
	// LeaveOtherRooms stamps LeftAt on the user's active memberships in rooms other than keepCode
	// and returns the codes of the rooms left.
	LeaveOtherRooms(ctx context.Context, userID int64, keepCode string, at time.Time) ([]string, error)
	MarkLeft(ctx context.Context, roomID, userID int64, at time.Time) (bool, error)

	ListAnswers(ctx context.Context, roomID int64) ([]domain.Answer, error)
	HasAnswer(ctx context.Context, roomID, userID, questionID int64) (bool, error)
	HasCorrectAnswer(ctx context.Context, roomID, questionID int64) (bool, error)
	CountAnswerers(ctx context.Context, roomID, questionID int64) (int, error)
	// RecordAnswer inserts the answer and adds points to the user's active membership atomically.
	// A second answer for the same (room, user, question) yields domain.ErrDuplicateAnswer.
	RecordAnswer(ctx context.Context, answer *domain.Answer, points int) error
}

// RoomService implements the live room lifecycle, answer scoring and leaderboard.
type RoomService struct {
	store   RoomStore
	catalog *Catalog
	locks   *roomLocks
	logger  *zap.Logger
	now     func() time.Time

	joinAttempts int
	joinBackoff  time.Duration

	rndMu   sync.Mutex
	rnd     *rand.Rand
	newCode func() string
}

// Option configures a RoomService.
type Option func(*RoomService)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *RoomService) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *RoomService) { s.logger = logger }
}

// WithJoinRetry bounds the membership insert retries. Attempt i (0-based) waits backoff*i first.
func WithJoinRetry(attempts int, backoff time.Duration) Option {
	return func(s *RoomService) {
		if attempts > 0 {
			s.joinAttempts = attempts
		}
		s.joinBackoff = backoff
	}
}

// WithCodeGenerator overrides room code generation.
func WithCodeGenerator(gen func() string) Option {
	return func(s *RoomService) { s.newCode = gen }
}

func NewRoomService(store RoomStore, quizzes QuizRepository, opts ...Option) *RoomService {
	s := &RoomService{
		store:        store,
		catalog:      NewCatalog(quizzes),
		locks:        newRoomLocks(),
		logger:       zap.NewNop(),
		now:          time.Now,
		joinAttempts: 3,
		joinBackoff:  100 * time.Millisecond,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.newCode = s.randomCode
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func (s *RoomService) randomCode() string {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	b := make([]byte, domain.RoomCodeLength)
	for i := range b {
		b[i] = codeAlphabet[s.rnd.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// NormalizeCode upper-cases and trims a user supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validateCreate(req domain.CreateRoomRequest) error {
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		return domain.Invalid("name", "is required")
	case len(name) > 100:
		return domain.Invalid("name", "must be at most 100 characters")
	case req.MaxPlayers < domain.MinPlayers || req.MaxPlayers > domain.MaxPlayers:
		return domain.Invalid("maxPlayers", "must be between %d and %d", domain.MinPlayers, domain.MaxPlayers)
	case req.SecondsPerQuestion < domain.MinSecondsPerQuestion || req.SecondsPerQuestion > domain.MaxSecondsPerQuestion:
		return domain.Invalid("secondsPerQuestion", "must be between %d and %d", domain.MinSecondsPerQuestion, domain.MaxSecondsPerQuestion)
	case req.StartDelaySeconds < domain.MinStartDelaySeconds || req.StartDelaySeconds > domain.MaxStartDelaySeconds:
		return domain.Invalid("startDelaySeconds", "must be between %d and %d", domain.MinStartDelaySeconds, domain.MaxStartDelaySeconds)
	}
	return nil
}

// CreateRoom validates the request and persists a new lobby. The host is not joined automatically.
func (s *RoomService) CreateRoom(ctx context.Context, req domain.CreateRoomRequest, hostUserID int64) (domain.RoomSummary, error) {
	if err := validateCreate(req); err != nil {
		return domain.RoomSummary{}, err
	}
	quiz, err := s.catalog.ActiveQuiz(ctx, req.QuizID)
	if err != nil {
		return domain.RoomSummary{}, err
	}

	room := domain.Room{
		Name:                 strings.TrimSpace(req.Name),
		QuizID:               quiz.ID,
		MaxPlayers:           req.MaxPlayers,
		SecondsPerQuestion:   req.SecondsPerQuestion,
		StartDelaySeconds:    req.StartDelaySeconds,
		CurrentQuestionIndex: domain.LobbyIndex,
		IsActive:             true,
	}
	for {
		if err := ctx.Err(); err != nil {
			return domain.RoomSummary{}, err
		}
		code := s.newCode()
		exists, err := s.store.RoomCodeExists(ctx, code)
		if err != nil {
			return domain.RoomSummary{}, err
		}
		if exists {
			continue
		}
		room.Code = code
		room.CreatedAt = s.now()
		err = s.store.CreateRoom(ctx, &room)
		if errors.Is(err, domain.ErrRoomCodeTaken) {
			continue
		}
		if err != nil {
			return domain.RoomSummary{}, err
		}
		break
	}

	metrics.RoomsCreated.Inc()
	s.logger.Info("room created",
		zap.String("room", room.Code),
		zap.Int64("quiz_id", room.QuizID),
		zap.Int64("host_id", hostUserID),
	)
	return summarize(room, quiz, 0), nil
}

func summarize(room domain.Room, quiz domain.Quiz, players int) domain.RoomSummary {
	return domain.RoomSummary{
		ID:                 room.ID,
		RoomCode:           room.Code,
		Name:               room.Name,
		QuizTitle:          quiz.Title,
		MaxPlayers:         room.MaxPlayers,
		CurrentPlayers:     players,
		SecondsPerQuestion: room.SecondsPerQuestion,
		CreatedAt:          room.CreatedAt,
		StartsAt:           room.StartsAt(),
		HasStarted:         room.HasStarted(),
		HasEnded:           room.HasEnded(),
	}
}

// ListActiveRooms returns joinable rooms: not started and still inside their start delay.
func (s *RoomService) ListActiveRooms(ctx context.Context) ([]domain.RoomSummary, error) {
	rooms, err := s.store.ListOpenRooms(ctx, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]domain.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		players, err := s.store.ListPlayers(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		quiz := s.catalog.Describe(ctx, room.QuizID)
		out = append(out, summarize(room, quiz, len(domain.ActivePlayers(players))))
	}
	return out, nil
}

// JoinRoom makes the user an active player of the room and returns the resulting lobby.
// Joining a room the user is already in is a no-op. The codes of rooms the user was removed
// from are returned even when the join itself fails, so callers can notify those rooms.
func (s *RoomService) JoinRoom(ctx context.Context, code string, who domain.Identity) (domain.Lobby, []string, error) {
	code = NormalizeCode(code)
	unlock := s.locks.lock(code)
	defer unlock()

	var left []string
	var lastErr error
	for attempt := 0; attempt < s.joinAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, s.joinBackoff*time.Duration(attempt)); err != nil {
				return domain.Lobby{}, left, err
			}
		}
		lobby, err := s.tryJoin(ctx, code, who, &left)
		if errors.Is(err, domain.ErrActiveMembershipExists) {
			lastErr = err
			s.logger.Debug("join raced, retrying",
				zap.String("room", code),
				zap.Int64("user_id", who.UserID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return lobby, left, err
	}
	return domain.Lobby{}, left, lastErr
}

func (s *RoomService) tryJoin(ctx context.Context, code string, who domain.Identity, left *[]string) (domain.Lobby, error) {
	now := s.now()
	codes, err := s.store.LeaveOtherRooms(ctx, who.UserID, code, now)
	if err != nil {
		return domain.Lobby{}, err
	}
	if len(codes) > 0 {
		*left = append(*left, codes...)
		s.logger.Info("left previous rooms", zap.Int64("user_id", who.UserID), zap.Strings("rooms", codes))
	}

	room, err := s.store.GetRoom(ctx, code)
	if err != nil {
		return domain.Lobby{}, err
	}
	if room.HasStarted() {
		return domain.Lobby{}, domain.ErrRoomStarted
	}
	if room.HasEnded() {
		return domain.Lobby{}, domain.ErrRoomEnded
	}

	players, err := s.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return domain.Lobby{}, err
	}
	active := domain.ActivePlayers(players)
	for _, p := range active {
		if p.UserID == who.UserID {
			return s.lobby(ctx, room, players), nil
		}
	}
	if len(active) >= room.MaxPlayers {
		return domain.Lobby{}, domain.ErrRoomFull
	}

	player := domain.Player{
		RoomID:      room.ID,
		UserID:      who.UserID,
		DisplayName: who.DisplayName,
		JoinedAt:    now,
	}
	if err := s.store.InsertPlayer(ctx, &player); err != nil {
		return domain.Lobby{}, err
	}
	metrics.PlayersJoined.Inc()
	return s.lobby(ctx, room, append(players, player)), nil
}

func (s *RoomService) lobby(ctx context.Context, room domain.Room, players []domain.Player) domain.Lobby {
	return domain.NewLobby(room, s.catalog.Describe(ctx, room.QuizID), players, s.now())
}

// LeaveRoom ends the user's active membership. It reports false when there was none.
func (s *RoomService) LeaveRoom(ctx context.Context, code string, userID int64) (bool, error) {
	code = NormalizeCode(code)
	unlock := s.locks.lock(code)
	defer unlock()

	room, err := s.store.GetRoom(ctx, code)
	if err != nil {
		return false, err
	}
	return s.store.MarkLeft(ctx, room.ID, userID, s.now())
}

// Lobby returns the current lobby snapshot without membership checks.
func (s *RoomService) Lobby(ctx context.Context, code string) (domain.Lobby, error) {
	room, err := s.store.GetRoom(ctx, NormalizeCode(code))
	if err != nil {
		return domain.Lobby{}, err
	}
	players, err := s.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return domain.Lobby{}, err
	}
	return s.lobby(ctx, room, players), nil
}

// GetLobbyStatus returns the caller's lobby view. Only active members may look.
func (s *RoomService) GetLobbyStatus(ctx context.Context, code string, userID int64) (domain.LobbyView, error) {
	lobby, err := s.Lobby(ctx, code)
	if err != nil {
		return domain.LobbyView{}, err
	}
	if !isMember(lobby.Players, userID) {
		return domain.LobbyView{}, domain.ErrNotMember
	}
	return lobby.ViewFor(userID), nil
}

func isMember(active []domain.Player, userID int64) bool {
	for _, p := range active {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// IsHost reports whether userID is the earliest-joined active player.
func (s *RoomService) IsHost(ctx context.Context, code string, userID int64) (bool, error) {
	lobby, err := s.Lobby(ctx, code)
	if err != nil {
		return false, err
	}
	return lobby.IsHost(userID), nil
}

// StartRoom moves the room to its first question. Only the host may start, with at least two players.
func (s *RoomService) StartRoom(ctx context.Context, code string, callerID int64) (bool, error) {
	code = NormalizeCode(code)
	unlock := s.locks.lock(code)
	defer unlock()

	room, err := s.store.GetRoom(ctx, code)
	if err != nil {
		return false, err
	}
	players, err := s.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return false, err
	}
	active := domain.ActivePlayers(players)
	if len(active) == 0 || active[0].UserID != callerID {
		return false, domain.ErrNotHost
	}
	if room.HasStarted() {
		return false, domain.ErrRoomStarted
	}
	if room.HasEnded() {
		return false, domain.ErrRoomEnded
	}
	if len(active) < domain.MinPlayers {
		return false, domain.ErrNotEnoughPlayers
	}

	now := s.now()
	room.StartedAt = &now
	room.CurrentQuestionIndex = 0
	if err := s.store.SaveProgress(ctx, room); err != nil {
		return false, err
	}
	s.logger.Info("room started", zap.String("room", code), zap.Int("players", len(active)))
	return true, nil
}

// GetCurrentQuestion returns the active question without correctness information.
func (s *RoomService) GetCurrentQuestion(ctx context.Context, code string) (domain.QuestionView, error) {
	room, err := s.store.GetRoom(ctx, NormalizeCode(code))
	if err != nil {
		return domain.QuestionView{}, err
	}
	switch {
	case !room.HasStarted():
		return domain.QuestionView{}, domain.ErrRoomNotStarted
	case room.HasEnded():
		return domain.QuestionView{}, domain.ErrRoomEnded
	case room.CurrentQuestionIndex < 0:
		return domain.QuestionView{}, domain.ErrNoActiveQuestion
	}

	questions, err := s.catalog.Questions(ctx, room.QuizID)
	if err != nil {
		return domain.QuestionView{}, err
	}
	if room.CurrentQuestionIndex >= len(questions) {
		return domain.QuestionView{}, domain.ErrQuizExhausted
	}
	q := questions[room.CurrentQuestionIndex]

	options := make([]domain.OptionView, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, domain.OptionView{ID: opt.ID, Text: opt.Text})
	}
	return domain.QuestionView{
		QuestionID:     q.ID,
		Text:           q.Text,
		QuestionType:   q.Type,
		AnswerOptions:  options,
		TimeRemaining:  room.SecondsPerQuestion,
		QuestionIndex:  room.CurrentQuestionIndex + 1,
		TotalQuestions: len(questions),
	}, nil
}

// AdvanceQuestion moves to the next question. When none remain the room ends, the index
// returns to -1 and false is reported.
func (s *RoomService) AdvanceQuestion(ctx context.Context, code string) (bool, error) {
	code = NormalizeCode(code)
	unlock := s.locks.lock(code)
	defer unlock()

	room, err := s.store.GetRoom(ctx, code)
	if err != nil {
		return false, err
	}
	if !room.HasStarted() {
		return false, domain.ErrRoomNotStarted
	}
	if room.HasEnded() {
		return false, domain.ErrRoomEnded
	}
	questions, err := s.catalog.Questions(ctx, room.QuizID)
	if err != nil {
		return false, err
	}

	room.CurrentQuestionIndex++
	hasMore := room.CurrentQuestionIndex < len(questions)
	if !hasMore {
		now := s.now()
		room.CurrentQuestionIndex = domain.LobbyIndex
		room.EndedAt = &now
	}
	if err := s.store.SaveProgress(ctx, room); err != nil {
		return false, err
	}
	if !hasMore {
		s.logger.Info("room finished", zap.String("room", code))
	}
	return hasMore, nil
}

// EndRoom stamps EndedAt once. It reports false if the room had already ended.
func (s *RoomService) EndRoom(ctx context.Context, code string) (bool, error) {
	code = NormalizeCode(code)
	unlock := s.locks.lock(code)
	defer unlock()

	room, err := s.store.GetRoom(ctx, code)
	if err != nil {
		return false, err
	}
	if room.HasEnded() {
		return false, nil
	}
	now := s.now()
	room.EndedAt = &now
	if err := s.store.SaveProgress(ctx, room); err != nil {
		return false, err
	}
	s.logger.Info("room ended", zap.String("room", code))
	return true, nil
}

// SubmitAnswer grades and records the caller's answer to the active question.
func (s *RoomService) SubmitAnswer(ctx context.Context, code string, userID int64, sub domain.AnswerSubmission) (bool, error) {
	code = NormalizeCode(code)
	unlock := s.locks.lock(code)
	defer unlock()

	room, err := s.store.GetRoom(ctx, code)
	if err != nil {
		return false, err
	}
	if room.HasEnded() {
		return false, domain.ErrRoomEnded
	}
	if room.CurrentQuestionIndex < 0 || !room.HasStarted() {
		return false, domain.ErrNoActiveQuestion
	}
	dup, err := s.store.HasAnswer(ctx, room.ID, userID, sub.QuestionID)
	if err != nil {
		return false, err
	}
	if dup {
		return false, domain.ErrDuplicateAnswer
	}
	questions, err := s.catalog.Questions(ctx, room.QuizID)
	if err != nil {
		return false, err
	}
	if room.CurrentQuestionIndex >= len(questions) {
		return false, domain.ErrNoActiveQuestion
	}
	question := questions[room.CurrentQuestionIndex]
	if question.ID != sub.QuestionID {
		return false, domain.ErrStaleQuestion
	}
	players, err := s.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return false, err
	}
	if !isMember(domain.ActivePlayers(players), userID) {
		return false, domain.ErrNotMember
	}

	submittedAt := s.now()
	if sub.ClientSubmittedAt > 0 {
		submittedAt = time.UnixMilli(sub.ClientSubmittedAt)
	}
	responseTime := ResponseTime(room, submittedAt)
	payload := domain.ParseAnswer(question.Type, sub.Answer)
	correct := Grade(question, payload)

	firstBlood := false
	if correct {
		taken, err := s.store.HasCorrectAnswer(ctx, room.ID, question.ID)
		if err != nil {
			return false, err
		}
		firstBlood = !taken
	}
	points := Points(correct, firstBlood, responseTime, room.SecondsPerQuestion)

	answer := domain.Answer{
		RoomID:              room.ID,
		UserID:              userID,
		QuestionID:          question.ID,
		SubmittedAnswer:     payload.Raw(),
		IsCorrect:           correct,
		SubmittedAt:         submittedAt,
		ResponseTimeSeconds: responseTime,
		GotFirstBlood:       firstBlood,
	}
	if err := s.store.RecordAnswer(ctx, &answer, points); err != nil {
		return false, err
	}
	metrics.AnswersSubmitted.WithLabelValues(correctLabel(correct)).Inc()
	s.logger.Debug("answer recorded",
		zap.String("room", code),
		zap.Int64("user_id", userID),
		zap.Int64("question_id", question.ID),
		zap.Bool("correct", correct),
		zap.Int("points", points),
	)
	return correct, nil
}

func correctLabel(correct bool) string {
	if correct {
		return "correct"
	}
	return "incorrect"
}

// HaveAllPlayersAnswered reports whether every active player has answered the question.
func (s *RoomService) HaveAllPlayersAnswered(ctx context.Context, code string, questionID int64) (bool, error) {
	room, err := s.store.GetRoom(ctx, NormalizeCode(code))
	if err != nil {
		return false, err
	}
	players, err := s.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return false, err
	}
	active := len(domain.ActivePlayers(players))
	if active == 0 {
		return false, nil
	}
	answered, err := s.store.CountAnswerers(ctx, room.ID, questionID)
	if err != nil {
		return false, err
	}
	return answered >= active, nil
}

// GetLiveLeaderboard ranks the room's active players.
func (s *RoomService) GetLiveLeaderboard(ctx context.Context, code string) (domain.LeaderboardView, error) {
	room, err := s.store.GetRoom(ctx, NormalizeCode(code))
	if err != nil {
		return domain.LeaderboardView{}, err
	}
	players, err := s.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return domain.LeaderboardView{}, err
	}
	answers, err := s.store.ListAnswers(ctx, room.ID)
	if err != nil {
		return domain.LeaderboardView{}, err
	}
	return buildLeaderboard(room, players, answers), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
