package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/loyalty-platform/backend/internal/config"
	"github.com/loyalty-platform/backend/internal/db"
	"github.com/loyalty-platform/backend/internal/repositories"
	"github.com/loyalty-platform/backend/internal/retry"
	"github.com/loyalty-platform/backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, 5, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	campaignRepo := repositories.NewCampaignRepo(pool)
	workUnitRepo := repositories.NewWorkUnitRepo(pool)
	ledgerRepo := repositories.NewLedgerRepo(pool)
	pendingRepo := repositories.NewPendingRewardRepo(pool)
	outboxRepo := repositories.NewOutboxRepo(pool)

	policy := retry.Policy{
		MaxAttempts:        cfg.TaskMaxAttempts,
		UnknownMaxAttempts: cfg.TaskUnknownMaxAttempts,
		BackoffBase:        cfg.TaskBackoffBase,
		BackoffCeiling:     cfg.TaskBackoffCeiling,
	}
	dispatcher := services.NewDispatcher(workUnitRepo, ledgerRepo, outboxRepo, policy, log)
	campaignService := services.NewCampaignService(campaignRepo, dispatcher, pendingRepo, outboxRepo, log)

	hostname, _ := os.Hostname()
	locker := services.NewRedisLocker(rdb, cfg.SchedulerLockKey, hostname, cfg.SchedulerLockTTL)

	scheduler := services.NewScheduler(services.Schedule{
		SweepInterval: cfg.SchedulerSweepInterval,
	}, campaignService, dispatcher, locker, log)

	go scheduler.Run(ctx)

	log.Info("scheduler started",
		zap.Duration("sweep_interval", cfg.SchedulerSweepInterval))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down scheduler")
	cancel()
}
