package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/agrinova/accessd/internal/app"
	"github.com/agrinova/accessd/internal/audit"
	"github.com/agrinova/accessd/internal/engine"
	"github.com/agrinova/accessd/internal/override"
	"github.com/agrinova/accessd/internal/platform/db"
	"github.com/agrinova/accessd/internal/shared"
	"github.com/agrinova/accessd/internal/users"
	"github.com/agrinova/accessd/jobs"
)

// noopPermissionResolver is never reached by the sweep path, which only
// deletes rows that already carry a permission id.
type noopPermissionResolver struct{}

func (noopPermissionResolver) GetPermissionByCode(ctx context.Context, code string) (uuid.UUID, error) {
	return uuid.Nil, shared.ErrNotFound
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

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

	auditLogger := shared.NewAuditLogger(pool)
	decisionCache := engine.NewCache(redisClient, cfg.DecisionCacheTTL)

	overrideService := override.NewService(
		override.NewRepository(pool),
		noopPermissionResolver{},
		users.NewRepository(pool),
		nil,
		auditLogger,
		decisionCache,
		logger,
	)
	auditService := audit.NewService(logger, audit.NewRepository(pool))

	sweepTask, err := jobs.NewOverrideSweepTask(jobs.OverrideSweepPayload{Grace: cfg.OverrideSweepGrace})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	retentionTask, err := jobs.NewAuditRetentionTask(jobs.AuditRetentionPayload{Retention: cfg.AuditRetention})
	if err != nil {
		logger.Error("build retention task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOverrideSweep, Handler: jobs.NewOverrideSweepHandler(logger, overrideService)},
			{Type: jobs.TaskAuditRetention, Handler: jobs.NewAuditRetentionHandler(logger, auditService)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 1 * * *", Task: retentionTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
