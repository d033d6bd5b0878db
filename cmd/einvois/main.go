package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/merlion-labs/einvois/cmd/einvois/cli"
	"github.com/merlion-labs/einvois/internal/app"
	"github.com/merlion-labs/einvois/internal/inbound"
	"github.com/merlion-labs/einvois/internal/ingest"
	"github.com/merlion-labs/einvois/internal/myinvois"
	"github.com/merlion-labs/einvois/internal/observability"
	"github.com/merlion-labs/einvois/internal/outbound"
	"github.com/merlion-labs/einvois/internal/platform/db"
	"github.com/merlion-labs/einvois/internal/staging"
	"github.com/merlion-labs/einvois/internal/status"
	"github.com/merlion-labs/einvois/internal/submission"
	"github.com/merlion-labs/einvois/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobsCommand(os.Args[2:]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	stagingRepo := staging.NewRepository(dbpool)
	outboundRepo := outbound.NewRepository(dbpool)
	inboundRepo := inbound.NewRepository(dbpool)

	tokenStore := myinvois.NewPGTokenStore(dbpool)
	tokens := myinvois.NewTokenManager(cfg.AuthorityAuthURL, myinvois.Credentials{
		ClientID:     cfg.AuthorityClientID,
		ClientSecret: cfg.AuthoritySecret,
	}, tokenStore, cfg.TokenSafetyMargin)
	authority := myinvois.NewClient(cfg.AuthorityBaseURL, tokens, cfg.AuthorityTimeout)

	ingestService := ingest.NewService(stagingRepo, cfg.CompanyTIN, logger)
	ingestHandler := ingest.NewHandler(logger, ingestService, cfg.UploadDir)

	submissionService := submission.NewService(stagingRepo, outboundRepo, authority, submission.Config{
		MaxAttempts: cfg.SubmitMaxAttempts,
		BackoffBase: cfg.SubmitBackoffBase,
		PollMaxAge:  cfg.PollMaxAge,
	}, logger)
	submissionHandler := submission.NewHandler(logger, submissionService)

	statusService := status.NewService(stagingRepo, outboundRepo)
	statusHandler := status.NewHandler(logger, statusService)

	inboundHandler := inbound.NewHandler(logger, inboundRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Pool:              dbpool,
		IngestHandler:     ingestHandler,
		StatusHandler:     statusHandler,
		SubmissionHandler: submissionHandler,
		InboundHandler:    inboundHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runJobsCommand handles `einvois jobs [inspect|trigger <task>|scheduled]`
// without starting the HTTP server.
func runJobsCommand(args []string) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init jobs cli: %v\n", err)
		return 1
	}
	defer func() {
		_ = jobsCLI.Close()
	}()

	ctx := context.Background()
	action := "inspect"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "inspect":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "inspect queue: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "usage: einvois jobs trigger <%s|%s|%s|%s>\n",
				jobs.TaskValidatePass, jobs.TaskSubmitPass, jobs.TaskPollPass, jobs.TaskInboundSync)
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "trigger %s: %v\n", args[1], err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s\n", info.Type, info.ID)
	case "scheduled":
		tasks, err := jobsCLI.ListScheduled(ctx, 20)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list scheduled: %v\n", err)
			return 1
		}
		for _, task := range tasks {
			fmt.Printf("%s id=%s next=%s\n", task.Type, task.ID, task.NextProcessAt.Format(time.RFC3339))
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown jobs action %q\n", action)
		return 2
	}
	return 0
}
