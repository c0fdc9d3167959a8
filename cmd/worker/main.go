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

	"github.com/khovattu/khovattu/internal/app"
	"github.com/khovattu/khovattu/internal/catalog"
	jobmetrics "github.com/khovattu/khovattu/internal/jobs"
	"github.com/khovattu/khovattu/internal/qr"
	"github.com/khovattu/khovattu/internal/shared"
	"github.com/khovattu/khovattu/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	// A missing .env is fine; the environment wins over the file.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	infra, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := infra.Close(); err != nil {
			logger.Warn("close infra", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	catalogService := catalog.NewService(catalog.NewRepository(infra.Pool), qr.NewGenerator(cfg.QRBaseURL, cfg.DefaultFactoryCode),
		infra.Store, shared.NewAuditLogger(infra.Pool), logger, catalog.ServiceConfig{ImageMaxBytes: cfg.ImageMaxBytes})
	qrJob := jobs.NewQRRegenerateJob(catalogService, infra.Redis, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(infra.Pool), cfg.IdempotencyRetention, logger, metrics)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(time.Now().UTC())
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.AsynqOpts(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskQRRegenerate, Handler: qrJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
