package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/config"
	"duel-quiz-service/internal/domain"
	"duel-quiz-service/internal/infra/memory"
	pginfra "duel-quiz-service/internal/infra/postgres"
	redisinfra "duel-quiz-service/internal/infra/redis"
	transport "duel-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the match server",
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

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if pool != nil {
		loader = pginfra.NewQuestionLoader(pool)
	}

	questionTTL := config.Duration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionProvider
	if redisClient != nil {
		questions = redisinfra.NewQuestionProvider(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionProvider(loader, questionTTL)
	}

	var store app.MatchStore
	if pool != nil {
		store = pginfra.NewMatchStore(pool)
	} else {
		memStore := memory.NewMatchStore()
		seedDemoMatch(memStore)
		store = memStore
	}

	var registry app.SessionRegistry
	if redisClient != nil {
		registry = redisinfra.NewSessionRegistry(redisClient, redisTTL)
	} else {
		registry = memory.NewSessionRegistry()
	}

	var feed app.ResultPublisher
	if redisClient != nil {
		feed = redisinfra.NewResultFeed(redisClient)
	} else {
		feed = memory.NewResultFeed()
	}

	clock := clockwork.NewRealClock()
	timeouts := app.Timeouts{
		Thinking:    config.Duration(cfg.Match.ThinkingTimeout, app.DefaultTimeouts().Thinking),
		Choosing:    config.Duration(cfg.Match.ChoosingTimeout, app.DefaultTimeouts().Choosing),
		ResultDelay: config.Duration(cfg.Match.ResultDelay, app.DefaultTimeouts().ResultDelay),
	}
	service := app.NewMatchService(registry, store, questions, feed, app.InsecureVerifier{}, clock, timeouts)

	scheduler := app.NewScheduler(registry, clock, config.Duration(cfg.Match.TickInterval, time.Second))
	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	go scheduler.Run(schedulerCtx)

	wsHandler := transport.NewWSHandler(service)
	stateHandler := transport.NewStateHandler(store)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("GET /matches/{matchID}/state", stateHandler.ServeState)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting match server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}
	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoMatch provisions a playable match when running without
// Postgres; real deployments get rows from the matchmaking service.
func seedDemoMatch(store *memory.MatchStore) {
	store.SeedMatch(domain.Match{
		ID:           "match-1",
		Player1ID:    "p1",
		Player2ID:    "p2",
		RoundsTarget: 3,
	})
}

// sampleQuestions provides a minimal pool; swap the loader for the
// Postgres-backed one in production.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:     "geo-1",
			Prompt: "Geography",
			Steps: []domain.Step{
				{
					Index:         0,
					Prompt:        "Which is the largest ocean?",
					Options:       []string{"Atlantic", "Pacific", "Indian", "Arctic"},
					CorrectOption: 1,
					Marks:         1,
				},
			},
		},
		{
			ID:     "math-1",
			Prompt: "Quick arithmetic",
			Steps: []domain.Step{
				{
					Index:         0,
					Prompt:        "What is 7 x 8?",
					Options:       []string{"54", "56", "63", "64"},
					CorrectOption: 1,
					Marks:         1,
				},
				{
					Index:         1,
					Prompt:        "What is 12 squared?",
					Options:       []string{"124", "142", "144", "148"},
					CorrectOption: 2,
					Marks:         2,
				},
			},
		},
	}
}
