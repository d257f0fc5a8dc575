package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loyalty-platform/backend/internal/config"
	"github.com/loyalty-platform/backend/internal/db"
	"github.com/loyalty-platform/backend/internal/models"
	"github.com/loyalty-platform/backend/internal/repositories"
	"github.com/loyalty-platform/backend/internal/retry"
	"github.com/loyalty-platform/backend/internal/services"
)

// Seeds a demo campaign with pending rewards and one qualifying event, for
// local runs of the worker and scheduler.
func main() {
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	cfg := config.Load()
	ctx := context.Background()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, 5, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	campaignRepo := repositories.NewCampaignRepo(pool)
	workUnitRepo := repositories.NewWorkUnitRepo(pool)
	ledgerRepo := repositories.NewLedgerRepo(pool)
	pendingRepo := repositories.NewPendingRewardRepo(pool)
	outboxRepo := repositories.NewOutboxRepo(pool)

	dispatcher := services.NewDispatcher(workUnitRepo, ledgerRepo, outboxRepo, retry.Policy{
		MaxAttempts:    cfg.TaskMaxAttempts,
		BackoffBase:    cfg.TaskBackoffBase,
		BackoffCeiling: cfg.TaskBackoffCeiling,
	}, log)
	campaignService := services.NewCampaignService(campaignRepo, dispatcher, pendingRepo, outboxRepo, log)
	intake := services.NewIssuanceIntake(campaignRepo, dispatcher, log)

	now := time.Now().UTC()
	start := now.Add(-time.Hour)
	campaign := &models.Campaign{
		Slug:        "spring-stamps",
		Name:        "Spring Stamp Card",
		Slot:        "default",
		LoyaltyType: models.LoyaltyTypeStamps,
		StartDate:   &start,
		EndAction: models.EndActionConfig{
			Kind:                  models.EndActionConvert,
			ConversionRatePercent: 100,
		},
	}
	if err := campaignService.Create(ctx, campaign); err != nil {
		log.Fatal("failed to create campaign", zap.Error(err))
	}
	if err := campaignService.ScheduleEnd(ctx, campaign.Slug, now.Add(24*time.Hour)); err != nil {
		log.Fatal("failed to schedule end", zap.Error(err))
	}
	if _, err := campaignService.Activate(ctx, campaign.Slug); err != nil {
		log.Fatal("failed to activate campaign", zap.Error(err))
	}

	accountID := uuid.New()
	if err := pendingRepo.Create(ctx, &models.PendingReward{
		AccountID:      accountID,
		CampaignID:     campaign.ID,
		RewardSlug:     "free-coffee",
		Count:          2,
		Amount:         500,
		ConversionDate: now.Add(24 * time.Hour),
	}); err != nil {
		log.Fatal("failed to create pending reward", zap.Error(err))
	}

	if _, err := intake.HandleQualifyingEvent(ctx, services.QualifyingEvent{
		EventRef:   uuid.NewString(),
		AccountID:  accountID,
		CampaignID: campaign.ID,
		RewardSlug: "free-coffee",
		Amount:     500,
	}); err != nil {
		log.Fatal("failed to submit qualifying event", zap.Error(err))
	}

	log.Info("seed complete",
		zap.String("campaign", campaign.Slug),
		zap.String("account_id", accountID.String()),
	)
}
