package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	infraredis "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/logging"
	transport "live-quiz-service/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer logger.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var (
		loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
		store  app.RoomStore     = memory.NewRoomStore()
	)
	if cfg.Postgres.URL != "" {
		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		if err := migrateDB(ctx, db, logger); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewQuizLoader(pool)
		store = postgres.NewRoomStore(db)
	} else {
		logger.Warn("no postgres configured, using in-memory rooms and the sample quiz")
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var (
		quizRepo app.QuizRepository
		sessions app.SessionRepository
		mirror   transport.EventPublisher
	)
	if redisClient != nil {
		quizRepo = infraredis.NewQuizRepository(redisClient, loader, quizTTL)
		sessions = infraredis.NewSessionStore(redisClient, redisTTL)
		eventMirror := infraredis.NewEventMirror(redisClient, logger)
		mirrorCtx, stopMirror := context.WithCancel(ctx)
		defer stopMirror()
		go eventMirror.Run(mirrorCtx)
		mirror = eventMirror
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
		sessions = memory.NewSessionStore()
	}

	rooms := app.NewRoomService(store, quizRepo,
		app.WithLogger(logger),
		app.WithJoinRetry(cfg.Live.JoinAttempts, config.TTLDuration(cfg.Live.JoinBackoff, 100*time.Millisecond)),
	)
	hub := transport.NewHub(logger, mirror)
	runner := app.NewQuizRunner(rooms, sessions, hub, logger,
		config.TTLDuration(cfg.Live.QuestionPause, 3*time.Second),
		config.TTLDuration(cfg.Live.LeadIn, time.Second),
	)
	if cfg.UsingDevJWTSecret() {
		logger.Warn("no jwt secret configured, signing tokens with the development secret; set JWT_SECRET")
	}
	jwt := auth.NewJWTService(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))

	gin.SetMode(gin.ReleaseMode)
	router := transport.NewRouter(transport.RouterDeps{
		Rooms:               rooms,
		Runner:              runner,
		Sessions:            sessions,
		Hub:                 hub,
		Auth:                jwt,
		Logger:              logger,
		CORSOrigins:         cfg.Server.CORSOrigins,
		MaxInboundPerSecond: cfg.Live.MaxInboundPerSecond,
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	go func() {
		logger.Info("starting live quiz service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes seeds the in-memory catalog when no database is configured.
func sampleQuizzes() map[int64]domain.Quiz {
	return map[int64]domain.Quiz{
		1: {
			ID:          1,
			Title:       "Warm-up",
			Description: "A short mixed quiz",
			Difficulty:  1,
			IsActive:    true,
			Questions: []domain.Question{
				{
					ID:       1,
					Text:     "What is 2 + 2?",
					Type:     domain.SingleChoice,
					IsActive: true,
					Options: []domain.Option{
						{ID: 1, Text: "3", IsActive: true},
						{ID: 2, Text: "4", IsCorrect: true, IsActive: true},
						{ID: 3, Text: "5", IsActive: true},
					},
				},
				{
					ID:       2,
					Text:     "Which of these are prime?",
					Type:     domain.MultipleChoice,
					IsActive: true,
					Options: []domain.Option{
						{ID: 4, Text: "2", IsCorrect: true, IsActive: true},
						{ID: 5, Text: "4", IsActive: true},
						{ID: 6, Text: "7", IsCorrect: true, IsActive: true},
					},
				},
				{
					ID:       3,
					Text:     "The Earth orbits the Sun.",
					Type:     domain.TrueFalse,
					IsActive: true,
					Options: []domain.Option{
						{ID: 7, Text: "True", IsCorrect: true, IsActive: true},
						{ID: 8, Text: "False", IsActive: true},
					},
				},
				{
					ID:         4,
					Text:       "The chemical symbol for gold is ___.",
					Type:       domain.FillInTheBlank,
					TextAnswer: "Au",
					IsActive:   true,
				},
			},
		},
	}
}
