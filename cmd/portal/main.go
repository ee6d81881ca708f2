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

	"github.com/odyssey-erp/portal/internal/app"
	"github.com/odyssey-erp/portal/internal/audit"
	audithttp "github.com/odyssey-erp/portal/internal/audit/http"
	"github.com/odyssey-erp/portal/internal/observability"
	"github.com/odyssey-erp/portal/internal/platform/breaker"
	"github.com/odyssey-erp/portal/internal/platform/cache"
	"github.com/odyssey-erp/portal/internal/platform/db"
	"github.com/odyssey-erp/portal/internal/rbac"
	"github.com/odyssey-erp/portal/internal/roles"
	"github.com/odyssey-erp/portal/jobs"
)

func main() {
	if app.SkipStartup(nil, "portal") {
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
	metrics := observability.NewMetrics()

	// An unreachable database is tolerated: the role ladders fall back and
	// the pool reconnects lazily.
	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "portal"})
	if err != nil {
		if dbpool == nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("postgres ping", slog.Any("error", err))
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	client := roles.NewClient(roles.ClientConfig{
		RPC:    roles.NewPostgresRPC(dbpool, cfg.RolesSchema),
		Tables: roles.NewPostgresTables(dbpool, cfg.RolesSchema),
		Breaker: breaker.New(breaker.Config{
			Name:                "roles-rpc",
			ConsecutiveFailures: cfg.BreakerFailures,
			Cooldown:            cfg.BreakerCooldown,
			Logger:              logger,
		}),
		RPCTimeout:   cfg.RolesRPCTimeout,
		TableTimeout: cfg.RolesTableTimeout,
		Logger:       logger,
		Metrics:      metrics,
	})
	auditReader := audit.NewReader(audit.NewPostgresRepository(dbpool, cfg.RolesSchema), logger, cfg.AuditDefaultLimit)
	notifier := roles.NewRedisNotifier(redisClient, cfg.RolesSyncChannel, logger)

	var enqueuer roles.Enqueuer
	if cfg.RolesReplayEnabled {
		jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		enqueuer = jobClient
	}

	roleService := roles.NewService(roles.ServiceConfig{
		Client:         client,
		Cache:          rbac.NewCache(),
		Builtins:       rbac.DefaultBuiltins(),
		Audit:          auditReader,
		Notifier:       notifier,
		Enqueuer:       enqueuer,
		ReplayMaxRetry: cfg.RolesReplayRetry,
		Logger:         logger,
		Metrics:        metrics,
	})

	initCtx, cancelInit := context.WithTimeout(ctx, cfg.RolesInitTimeout)
	report := roleService.Initialize(initCtx)
	cancelInit()
	logger.Info("role cache ready", slog.String("source", report.Source), slog.Int("roles", report.Roles))

	go func() {
		if err := roleService.Watch(ctx, notifier); err != nil {
			logger.Warn("role change subscription unavailable", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	rbacMiddleware := rbac.Middleware{Cache: roleService.Cache(), Logger: logger}
	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		RoleCache:      roleService.Cache(),
		RolesHandler:   roles.NewHandler(logger, roleService),
		AuditHandler:   audithttp.NewHandler(logger, auditReader),
		JobHandler:     jobs.NewHandler(inspector, logger),
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
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
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
