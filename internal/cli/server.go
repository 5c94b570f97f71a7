package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exam-session-service/internal/app"
	"exam-session-service/internal/config"
	"exam-session-service/internal/domain"
	"exam-session-service/internal/infra/memory"
	pginfra "exam-session-service/internal/infra/postgres"
	redisinfra "exam-session-service/internal/infra/redis"
	transport "exam-session-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment session server",
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

	retention := config.TTLDuration(cfg.Session.Retention, 24*time.Hour)
	grace := config.TTLDuration(cfg.Session.Grace, app.DefaultGracePeriod)
	sweepInterval := config.TTLDuration(cfg.Session.SweepInterval, 10*time.Minute)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	var bunDB *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bunDB = bun.NewDB(sqldb, pgdialect.New())
	}

	var tests app.TestRepository = memory.NewStaticTestRepository(sampleTests())
	if pool != nil {
		tests = pginfra.NewTestLoader(pool)
	}

	var sessions app.SessionStore
	if redisClient != nil {
		sessions = redisinfra.NewSessionStore(redisClient, retention)
	} else {
		memStore := memory.NewSessionStore(retention)
		go memStore.RunSweeper(ctx, sweepInterval)
		sessions = memStore
	}

	var records app.RecordStore = memory.NewRecordStore()
	if bunDB != nil {
		records = pginfra.NewRecordStore(bunDB)
	}

	service := app.NewSessionService(sessions, tests, records, grace)
	apiHandler := transport.NewAPIHandler(service)
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	apiHandler.Register(mux)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting exam session service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleTests provides a minimal definition set for config-less runs; swap in
// the Postgres-backed loader in production.
func sampleTests() map[string]domain.TestDefinition {
	return map[string]domain.TestDefinition{
		"sample-mock-1": {
			ID:              "sample-mock-1",
			Name:            "Sample Mock Test",
			PaperLabel:      "2024 Paper I",
			DurationMinutes: 30,
			Active:          true,
			Weights:         domain.ScoringWeights{Correct: 4, Wrong: -1, Unanswered: 0},
			Questions: []domain.Question{
				{
					Index:      0,
					Prompt:     "What is 2 + 2?",
					Difficulty: "easy",
					Subject:    "arithmetic",
					Options: []domain.Option{
						{Key: "a", Text: "3"},
						{Key: "b", Text: "4", Correct: true},
						{Key: "c", Text: "5"},
						{Key: "d", Text: "6"},
					},
				},
				{
					Index:      1,
					Prompt:     "What is 9 x 7?",
					Difficulty: "medium",
					Subject:    "arithmetic",
					Options: []domain.Option{
						{Key: "a", Text: "63", Correct: true},
						{Key: "b", Text: "56"},
						{Key: "c", Text: "72"},
						{Key: "d", Text: "61"},
					},
				},
			},
		},
	}
}
