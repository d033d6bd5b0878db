package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/merlion-labs/einvois/internal/app"
	"github.com/merlion-labs/einvois/internal/inbound"
	"github.com/merlion-labs/einvois/internal/inboundsync"
	"github.com/merlion-labs/einvois/internal/myinvois"
	"github.com/merlion-labs/einvois/internal/observability"
	"github.com/merlion-labs/einvois/internal/outbound"
	"github.com/merlion-labs/einvois/internal/platform/db"
	"github.com/merlion-labs/einvois/internal/shared"
	"github.com/merlion-labs/einvois/internal/staging"
	"github.com/merlion-labs/einvois/internal/submission"
	"github.com/merlion-labs/einvois/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	stagingRepo := staging.NewRepository(pool)
	outboundRepo := outbound.NewRepository(pool)
	inboundRepo := inbound.NewRepository(pool)

	tokenStore := myinvois.NewPGTokenStore(pool)
	tokens := myinvois.NewTokenManager(cfg.AuthorityAuthURL, myinvois.Credentials{
		ClientID:     cfg.AuthorityClientID,
		ClientSecret: cfg.AuthoritySecret,
	}, tokenStore, cfg.TokenSafetyMargin)
	authority := myinvois.NewClient(cfg.AuthorityBaseURL, tokens, cfg.AuthorityTimeout)

	submissionService := submission.NewService(stagingRepo, outboundRepo, authority, submission.Config{
		MaxAttempts: cfg.SubmitMaxAttempts,
		BackoffBase: cfg.SubmitBackoffBase,
		PollMaxAge:  cfg.PollMaxAge,
		WorkerID:    hostname,
	}, logger)
	reconciler := inboundsync.NewReconciler(inboundRepo, authority, inboundsync.Config{}, logger)

	passDeps := jobs.PassDeps{
		Submission: submissionService,
		Reconciler: reconciler,
		Lease:      shared.NewPassLease(redisClient, 10*time.Minute),
		HolderID:   hostname,
		Logger:     logger,
		Metrics:    observability.NewMetrics(),
	}

	validateTask, err := jobs.NewPassTask(jobs.TaskValidatePass, jobs.PassPayload{})
	if err != nil {
		logger.Error("build validate task", slog.Any("error", err))
		os.Exit(1)
	}
	submitTask, err := jobs.NewPassTask(jobs.TaskSubmitPass, jobs.PassPayload{})
	if err != nil {
		logger.Error("build submit task", slog.Any("error", err))
		os.Exit(1)
	}
	pollTask, err := jobs.NewPassTask(jobs.TaskPollPass, jobs.PassPayload{})
	if err != nil {
		logger.Error("build poll task", slog.Any("error", err))
		os.Exit(1)
	}
	inboundTask, err := jobs.NewPassTask(jobs.TaskInboundSync, jobs.PassPayload{})
	if err != nil {
		logger.Error("build inbound sync task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  passDeps.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: validateTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
			{Spec: "*/5 * * * *", Task: submitTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
			{Spec: "*/15 * * * *", Task: pollTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
			{Spec: "0 * * * *", Task: inboundTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
