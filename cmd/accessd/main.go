package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/agrinova/accessd/internal/app"
	"github.com/agrinova/accessd/internal/audit"
	"github.com/agrinova/accessd/internal/catalog"
	"github.com/agrinova/accessd/internal/engine"
	"github.com/agrinova/accessd/internal/observability"
	"github.com/agrinova/accessd/internal/override"
	"github.com/agrinova/accessd/internal/platform/cache"
	"github.com/agrinova/accessd/internal/platform/db"
	"github.com/agrinova/accessd/internal/shared"
	"github.com/agrinova/accessd/internal/users"
	"github.com/agrinova/accessd/jobs"
)

// permissionResolver narrows the catalog repository to the lookup the
// override service needs.
type permissionResolver struct {
	repo *catalog.Repository
}

func (r permissionResolver) GetPermissionByCode(ctx context.Context, code string) (uuid.UUID, error) {
	perm, err := r.repo.GetPermissionByCode(ctx, code)
	if err != nil {
		return uuid.Nil, err
	}
	return perm.ID, nil
}

// roleResolver narrows the catalog repository to the lookup the users
// service needs.
type roleResolver struct {
	repo *catalog.Repository
}

func (r roleResolver) RoleCode(ctx context.Context, roleID uuid.UUID) (string, error) {
	role, err := r.repo.GetRole(ctx, roleID)
	if err != nil {
		return "", err
	}
	return role.Code, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The engine degrades to direct computation without redis, so a
		// failed ping is not fatal.
		logger.Warn("redis ping", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	decisionCache := engine.NewCache(redisClient, cfg.DecisionCacheTTL)
	metrics := observability.NewMetrics()

	catalogRepo := catalog.NewRepository(pool)
	overrideRepo := override.NewRepository(pool)
	usersRepo := users.NewRepository(pool)
	txRunner := catalog.PoolTxRunner{Pool: pool}

	engineService := engine.NewService(
		logger,
		catalogRepo,
		overrideRepo,
		usersRepo,
		decisionCache,
		auditLogger,
		engine.NewMetrics(metrics.Registerer()),
		engine.Config{
			CacheTTL:     cfg.DecisionCacheTTL,
			CheckTimeout: cfg.CheckTimeout,
			AuditMode:    cfg.AuditMode,
		},
	).WithStats(catalogRepo, overrideRepo)
	guard := engine.NewMiddleware(logger, engineService)

	catalogService := catalog.NewService(catalogRepo, txRunner, auditLogger, decisionCache, logger)
	overrideService := override.NewService(
		overrideRepo,
		permissionResolver{repo: catalogRepo},
		usersRepo,
		txRunner,
		auditLogger,
		decisionCache,
		logger,
	)
	usersService := users.NewService(usersRepo, roleResolver{repo: catalogRepo}, txRunner, auditLogger, decisionCache, logger)
	auditService := audit.NewService(logger, audit.NewRepository(pool))

	engineHandler := engine.NewHandler(logger, engineService, guard)
	catalogHandler := catalog.NewHandler(logger, catalogService, guard)
	overrideHandler := override.NewHandler(logger, overrideService, guard)
	usersHandler := users.NewHandler(logger, usersService, guard)
	auditHandler := audit.NewHandler(logger, auditService, guard)

	authenticator := app.NewAuthenticator(logger, cfg.JWTSecret)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Authenticator:   authenticator,
		EngineHandler:   engineHandler,
		CatalogHandler:  catalogHandler,
		OverrideHandler: overrideHandler,
		UsersHandler:    usersHandler,
		AuditHandler:    auditHandler,
		JobsHandler:     jobsHandler,
		Pool:            pool,
		Metrics:         metrics,
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
