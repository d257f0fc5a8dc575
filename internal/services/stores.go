package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/loyalty-platform/backend/internal/models"
	"github.com/loyalty-platform/backend/internal/repositories"
)

// CampaignStore is the slice of campaign persistence the services need.
// Implemented by repositories.CampaignRepo.
type CampaignStore interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetBySlug(ctx context.Context, slug string) (*models.Campaign, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	ListDueForEnd(ctx context.Context, now time.Time) ([]models.Campaign, error)
	HasActiveInSlot(ctx context.Context, slot string, excludeID uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) error
	SetEndDate(ctx context.Context, id uuid.UUID, endDate time.Time) error
}

// WorkUnitQueue is the persistent task queue contract. Implemented by
// repositories.WorkUnitRepo.
type WorkUnitQueue interface {
	Enqueue(ctx context.Context, unit *models.WorkUnit) (*models.WorkUnit, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.WorkUnit, error)
	Lease(ctx context.Context, workerID string, visibility time.Duration) (*models.WorkUnit, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailedPermanent(ctx context.Context, id uuid.UUID, errorKind string) error
	MarkRetryScheduled(ctx context.Context, id uuid.UUID, nextEligibleAt time.Time, errorKind string) error
	ListPendingIssuances(ctx context.Context, campaignID uuid.UUID) ([]models.WorkUnit, error)
	CancelPending(ctx context.Context, key string) (bool, error)
	ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error)
	RecordAttempt(ctx context.Context, attempt models.RetryAttempt) error
}

// Ledger guards exactly-once effect per idempotency key. Implemented by
// repositories.LedgerRepo.
type Ledger interface {
	Reserve(ctx context.Context, key, workerID string) (repositories.ReserveStatus, *models.LedgerEntry, error)
	Finalize(ctx context.Context, key, outcome, detail string) (bool, *models.LedgerEntry, error)
}

// PendingRewardStore is consumed by end-action execution. Implemented by
// repositories.PendingRewardRepo.
type PendingRewardStore interface {
	ListForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.PendingReward, error)
	DeleteForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.PendingReward, error)
}
