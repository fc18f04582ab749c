package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/girderhq/girder/internal/ap"
	"github.com/girderhq/girder/internal/app"
	"github.com/girderhq/girder/internal/ar"
	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/directory"
	"github.com/girderhq/girder/internal/journal"
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

	resolver := posting.NewResolver(pool)
	dir := directory.New(pool)
	tbCache := recon.NewTrialBalanceCache(redisClient, cfg.TrialBalanceCacheTTL)

	coaSvc := coa.NewService(coa.NewRepository(pool), audit)
	journalSvc := journal.NewService(journal.NewRepository(pool), audit, metrics)
	journalSvc.WithBalanceCache(tbCache)
	apSvc := ap.NewService(ap.NewRepository(pool), resolver, dir, audit, metrics, cfg.APRoundingTolerance)
	apSvc.WithBalanceCache(tbCache)
	arSvc := ar.NewService(ar.NewRepository(pool), resolver, dir, audit, metrics, cfg.APRoundingTolerance)
	arSvc.WithBalanceCache(tbCache)
	reconSvc := recon.NewService(recon.NewRepository(pool), tbCache, audit, metrics)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("job queue unavailable, on-demand verification disabled", slog.Any("error", err))
		jobsClient = nil
	}
	if jobsClient != nil {
		defer jobsClient.Close()
	}

	params := app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		CoaHandler:     coa.NewHandler(logger, coaSvc),
		JournalHandler: journal.NewHandler(logger, journalSvc),
		APHandler:      ap.NewHandler(logger, apSvc),
		ARHandler:      ar.NewHandler(logger, arSvc),
		ReconHandler:   recon.NewHandler(logger, reconSvc),
		Metrics:        metrics,
		Idempotency:    shared.NewIdempotencyStore(pool),
	}
	if jobsClient != nil {
		params.Verify = jobsClient
	}
	router := app.NewRouter(params)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("ledger api listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
