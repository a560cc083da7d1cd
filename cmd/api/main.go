package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avelai/feedback-pipeline/internal/config"
	"github.com/avelai/feedback-pipeline/internal/eventlog"
	httpserver "github.com/avelai/feedback-pipeline/internal/http"
	"github.com/avelai/feedback-pipeline/internal/http/handlers"
	"github.com/avelai/feedback-pipeline/internal/pipeline"
	"github.com/avelai/feedback-pipeline/internal/planner"
	"github.com/avelai/feedback-pipeline/internal/queue"
	"github.com/avelai/feedback-pipeline/internal/repository"
	"github.com/avelai/feedback-pipeline/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
)

type stores struct {
	events    eventlog.Log
	proposals repository.ProposalsRepository
	jobs      repository.ExecutionJobsRepository
	settings  repository.SettingsRepository
	rankings  repository.RankingsRepository
	sources   []planner.Source
}

func main() {
	logger := log.New(os.Stdout, "[feedback-pipeline] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, storeCloser := setupStores(ctx, cfg, logger)
	defer storeCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	settingsProvider := config.NewProvider(
		st.settings,
		time.Duration(cfg.SettingsTTLSeconds)*time.Second,
		logger,
	)

	orchestrator := pipeline.NewOrchestrator(
		st.events,
		st.proposals,
		st.jobs,
		producer,
		settingsProvider,
		logger,
	)
	plannerService := planner.NewPlanner(st.sources, st.rankings, logger)

	api := handlers.NewAPI(orchestrator, plannerService, st.jobs, st.rankings)
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, orchestrator.EnqueueStage(), logger)
		go processor.Start(ctx)
		logger.Printf("execution worker enabled and started")
	} else {
		logger.Printf("execution worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupStores(ctx context.Context, cfg config.Config, logger *log.Logger) (stores, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory stores")
		return memoryStores(), func() {}
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres stores, fallback to memory: %v", err)
		return memoryStores(), func() {}
	}
	logger.Printf("postgres stores initialized")
	return postgresStores(pool), pool.Close
}

func memoryStores() stores {
	return stores{
		events:    eventlog.NewMemoryLog(),
		proposals: repository.NewMemoryProposals(),
		jobs:      repository.NewMemoryExecutionJobs(),
		settings:  repository.NewMemorySettings(nil),
		rankings:  repository.NewMemoryRankings(),
		sources:   []planner.Source{},
	}
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		events:    eventlog.NewPostgresLog(pool),
		proposals: repository.NewPostgresProposals(pool),
		jobs:      repository.NewPostgresExecutionJobs(pool),
		settings:  repository.NewPostgresSettings(pool),
		rankings:  repository.NewPostgresRankings(pool),
		sources:   planner.PostgresSources(pool),
	}
}

func setupQueue(ctx context.Context, cfg config.Config, logger *log.Logger) (queue.Producer, queue.Consumer, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(512, 3, logger)
		return local, local, func() {}
	}

	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: 3,
	})
	if err != nil {
		logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
		local := queue.NewLocalQueue(512, 3, logger)
		return local, local, func() {}
	}

	logger.Printf("redis streams queue initialized")
	return streams, streams, func() {
		_ = streams.Close()
	}
}
