package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/girderhq/girder/internal/app"
	"github.com/girderhq/girder/internal/ar"
	"github.com/girderhq/girder/internal/directory"
	"github.com/girderhq/girder/internal/observability"
	"github.com/girderhq/girder/internal/platform/cache"
	"github.com/girderhq/girder/internal/platform/db"
	"github.com/girderhq/girder/internal/posting"
	"github.com/girderhq/girder/internal/recon"
	"github.com/girderhq/girder/internal/shared"
	"github.com/girderhq/girder/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, trial balance cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics := observability.NewMetrics()
	audit := shared.NewAuditLogger(pool)
	idem := shared.NewIdempotencyStore(pool)

	arSvc := ar.NewService(
		ar.NewRepository(pool),
		posting.NewResolver(pool),
		directory.New(pool),
		audit,
		metrics,
		cfg.APRoundingTolerance,
	)
	reconSvc := recon.NewService(
		recon.NewRepository(pool),
		recon.NewTrialBalanceCache(redisClient, cfg.TrialBalanceCacheTTL),
		audit,
		metrics,
	)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAROverdueSweep, Handler: jobs.NewAROverdueSweepHandler(arSvc, logger)},
			{Type: jobs.TaskLedgerVerify, Handler: jobs.NewLedgerVerifyHandler(reconSvc, logger)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idem, cfg.IdempotencyRetention, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.OverdueSweepCron, Task: jobs.NewAROverdueSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.LedgerVerifyCron, Task: jobs.NewLedgerVerifyTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("configure worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("env", cfg.AppEnv))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
