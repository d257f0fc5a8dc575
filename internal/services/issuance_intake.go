package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loyalty-platform/backend/internal/models"
)

// QualifyingEvent is an inbound notification that an account earned a reward
// under a campaign. EventRef identifies the triggering event so repeated
// deliveries of the same notification collapse into one work unit.
type QualifyingEvent struct {
	EventRef   string
	AccountID  uuid.UUID
	CampaignID uuid.UUID
	RewardSlug string
	Amount     int64
}

// IssuanceIntake turns qualifying events into issuance work units. The
// pipeline behind it is asynchronous: callers get an error only for requests
// that can never be valid, everything else surfaces as published events.
type IssuanceIntake struct {
	campaigns  CampaignStore
	dispatcher *Dispatcher
	log        *zap.Logger
}

func NewIssuanceIntake(campaigns CampaignStore, dispatcher *Dispatcher, log *zap.Logger) *IssuanceIntake {
	return &IssuanceIntake{campaigns: campaigns, dispatcher: dispatcher, log: log}
}

func (s *IssuanceIntake) HandleQualifyingEvent(ctx context.Context, in QualifyingEvent) (*models.WorkUnit, error) {
	campaign, err := s.campaigns.GetByID(ctx, in.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil, models.NewConflictError("campaign %s is %s, not accepting qualifying events",
			campaign.Slug, campaign.Status)
	}

	unit := models.NewWorkUnit(models.WorkUnitKindIssuance, models.WorkUnitPayload{
		AccountID:  in.AccountID,
		CampaignID: in.CampaignID,
		RewardSlug: in.RewardSlug,
		Amount:     in.Amount,
		Reason:     "goal_met",
		SourceRef:  in.EventRef,
	})

	stored, err := s.dispatcher.Enqueue(ctx, unit)
	if err != nil {
		return nil, err
	}

	s.log.Info("qualifying event accepted",
		zap.String("campaign", campaign.Slug),
		zap.String("account_id", in.AccountID.String()),
		zap.String("unit_id", stored.ID.String()),
	)
	return stored, nil
}
