package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/loyalty-platform/backend/internal/config"
	"github.com/loyalty-platform/backend/internal/db"
	"github.com/loyalty-platform/backend/internal/events"
	"github.com/loyalty-platform/backend/internal/repositories"
	"github.com/loyalty-platform/backend/internal/retry"
	"github.com/loyalty-platform/backend/internal/services"
	"github.com/loyalty-platform/backend/internal/supplier"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.WorkerCount*2+4), log)
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

	// Repos
	campaignRepo := repositories.NewCampaignRepo(pool)
	workUnitRepo := repositories.NewWorkUnitRepo(pool)
	ledgerRepo := repositories.NewLedgerRepo(pool)
	pendingRepo := repositories.NewPendingRewardRepo(pool)
	outboxRepo := repositories.NewOutboxRepo(pool)

	// Services
	policy := retry.Policy{
		MaxAttempts:        cfg.TaskMaxAttempts,
		UnknownMaxAttempts: cfg.TaskUnknownMaxAttempts,
		BackoffBase:        cfg.TaskBackoffBase,
		BackoffCeiling:     cfg.TaskBackoffCeiling,
	}
	dispatcher := services.NewDispatcher(workUnitRepo, ledgerRepo, outboxRepo, policy, log)
	supplierClient := supplier.NewClient(cfg.SupplierBaseURL, cfg.SupplierTimeout, log)
	relay := events.NewRelay(outboxRepo, rdb, cfg.EventStream, cfg.OutboxRelayInterval, cfg.OutboxBatchSize, log)

	executorCfg := services.ExecutorConfig{
		PollInterval:    cfg.PollInterval,
		LeaseVisibility: cfg.LeaseVisibility,
		SupplierTimeout: cfg.SupplierTimeout,
	}

	hostname, _ := os.Hostname()

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		executor := services.NewExecutor(
			fmt.Sprintf("%s-%d", hostname, i),
			dispatcher, ledgerRepo, campaignRepo, pendingRepo, supplierClient,
			executorCfg, log,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			executor.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()

	log.Info("worker started", zap.Int("executors", cfg.WorkerCount))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down worker")
	cancel()
	wg.Wait()
}
