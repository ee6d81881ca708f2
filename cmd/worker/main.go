package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/portal/internal/app"
	"github.com/odyssey-erp/portal/internal/observability"
	"github.com/odyssey-erp/portal/internal/platform/breaker"
	"github.com/odyssey-erp/portal/internal/platform/cache"
	"github.com/odyssey-erp/portal/internal/platform/db"
	"github.com/odyssey-erp/portal/internal/roles"
	"github.com/odyssey-erp/portal/jobs"
)

func main() {
	if app.SkipStartup(nil, "worker") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("process", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "portal-worker"})
	if err != nil {
		if pool == nil {
			logger.Error("connect database", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("postgres ping", slog.Any("error", err))
	}
	defer pool.Close()

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
		RPC:    roles.NewPostgresRPC(pool, cfg.RolesSchema),
		Tables: roles.NewPostgresTables(pool, cfg.RolesSchema),
		Breaker: breaker.New(breaker.Config{
			Name:                "roles-rpc-worker",
			ConsecutiveFailures: cfg.BreakerFailures,
			Cooldown:            cfg.BreakerCooldown,
			Logger:              logger,
		}),
		RPCTimeout:   cfg.RolesRPCTimeout,
		TableTimeout: cfg.RolesTableTimeout,
		Logger:       logger,
		Metrics:      observability.NewMetrics(),
	})
	replayer := roles.NewReplayer(client, roles.NewRedisNotifier(redisClient, cfg.RolesSyncChannel, logger), logger)
	replayJob := jobs.NewRolesReplayJob(replayer, logger, nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRolesReplay, Handler: replayJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
