package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loyalty-platform/backend/internal/events"
	"github.com/loyalty-platform/backend/internal/models"
)

// CampaignService owns the campaign lifecycle. Only this service mutates
// campaign state; the admin console and the scheduler both go through it.
type CampaignService struct {
	campaigns  CampaignStore
	dispatcher *Dispatcher
	pending    PendingRewardStore
	recorder   events.Recorder
	log        *zap.Logger
}

func NewCampaignService(campaigns CampaignStore, dispatcher *Dispatcher, pending PendingRewardStore, recorder events.Recorder, log *zap.Logger) *CampaignService {
	return &CampaignService{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		pending:    pending,
		recorder:   recorder,
		log:        log,
	}
}

// Create registers a new draft campaign.
func (s *CampaignService) Create(ctx context.Context, c *models.Campaign) error {
	if c.Slug == "" {
		return models.NewConflictError("campaign slug is required")
	}
	if !models.IsValidLoyaltyType(c.LoyaltyType) {
		return models.NewConflictError("unknown loyalty type %q", c.LoyaltyType)
	}
	c.Status = models.CampaignStatusDraft
	return s.campaigns.Create(ctx, c)
}

// Activate moves a draft campaign to active. The end-action configuration is
// validated here, not at execution time, and the slot must not already have
// an active campaign.
func (s *CampaignService) Activate(ctx context.Context, slug string) (*models.Campaign, error) {
	c, err := s.campaigns.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !models.IsValidTransition(c.Status, models.CampaignStatusActive) {
		return nil, models.NewConflictError("invalid transition from %s to %s for campaign %s",
			c.Status, models.CampaignStatusActive, slug)
	}
	if err := c.IsActivable(); err != nil {
		return nil, err
	}

	busy, err := s.campaigns.HasActiveInSlot(ctx, c.Slot, c.ID)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, models.NewConflictError("slot %q already has an active campaign", c.Slot)
	}

	if err := s.campaigns.UpdateStatus(ctx, c.ID, models.CampaignStatusDraft, models.CampaignStatusActive); err != nil {
		return nil, err
	}
	c.Status = models.CampaignStatusActive

	s.log.Info("campaign activated",
		zap.String("slug", c.Slug),
		zap.String("slot", c.Slot),
	)
	return c, nil
}

// ScheduleEnd sets the campaign's end date. Once set it is immutable unless
// the campaign is still draft.
func (s *CampaignService) ScheduleEnd(ctx context.Context, slug string, endDate time.Time) error {
	c, err := s.campaigns.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if c.IsTerminal() {
		return models.NewConflictError("campaign %s is %s", slug, c.Status)
	}
	if c.EndDate != nil && c.Status != models.CampaignStatusDraft {
		return models.NewConflictError("end date for campaign %s is already set", slug)
	}
	return s.campaigns.SetEndDate(ctx, c.ID, endDate)
}

// Cancel terminates a campaign administratively. Cancelling an active
// campaign fans out one cancellation unit per still-pending issuance and
// removes its pending rewards; issuances already in flight are not preempted.
func (s *CampaignService) Cancel(ctx context.Context, slug string) error {
	c, err := s.campaigns.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if !models.IsValidTransition(c.Status, models.CampaignStatusCancelled) {
		return models.NewConflictError("invalid transition from %s to %s for campaign %s",
			c.Status, models.CampaignStatusCancelled, slug)
	}

	if c.Status == models.CampaignStatusActive {
		if err := s.cancelOutstandingWork(ctx, c); err != nil {
			return err
		}
	}

	// Recorded before the status flips: a record failure leaves the campaign
	// cancellable again, and the deterministic event id deduplicates the
	// retried record.
	event := events.New(events.KindCampaignCancelled, c.ID.String(), c.ID, nil, "cancelled administratively")
	if err := s.recorder.Record(ctx, event); err != nil {
		return fmt.Errorf("record campaign cancelled event for %s: %w", slug, err)
	}

	if err := s.campaigns.UpdateStatus(ctx, c.ID, c.Status, models.CampaignStatusCancelled); err != nil {
		return err
	}

	s.log.Info("campaign cancelled", zap.String("slug", slug))
	return nil
}

func (s *CampaignService) cancelOutstandingWork(ctx context.Context, c *models.Campaign) error {
	units, err := s.dispatcher.queue.ListPendingIssuances(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("list pending issuances for campaign %s: %w", c.Slug, err)
	}
	for _, u := range units {
		cancel := models.NewWorkUnit(models.WorkUnitKindCancelIssuance, models.WorkUnitPayload{
			AccountID:  u.Payload.AccountID,
			CampaignID: c.ID,
			TargetKey:  u.IdempotencyKey,
			Reason:     "campaign cancelled",
		})
		if _, err := s.dispatcher.Enqueue(ctx, cancel); err != nil {
			return err
		}
	}

	// Cancellation events go out before the rows disappear; once deleted the
	// rewards could never be re-emitted.
	rewards, err := s.pending.ListForCampaign(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("list pending rewards for campaign %s: %w", c.Slug, err)
	}
	for _, pr := range rewards {
		accountID := pr.AccountID
		event := events.New(events.KindRewardCancelled, pr.ID.String(), c.ID, &accountID,
			"pending reward removed: campaign cancelled")
		if err := s.recorder.Record(ctx, event); err != nil {
			return fmt.Errorf("record pending reward cancellation for %s: %w", pr.ID, err)
		}
	}
	if _, err := s.pending.DeleteForCampaign(ctx, c.ID); err != nil {
		return fmt.Errorf("delete pending rewards for campaign %s: %w", c.Slug, err)
	}

	s.log.Info("outstanding work cancelled",
		zap.String("slug", c.Slug),
		zap.Int("cancel_units", len(units)),
		zap.Int("pending_rewards_removed", len(rewards)),
	)
	return nil
}

// EndDue transitions every active campaign past its end date to ended. The
// end-action unit is enqueued before the status flips: a crash in between is
// absorbed on the next sweep because the enqueue deduplicates on the
// campaign-derived idempotency key.
func (s *CampaignService) EndDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.campaigns.ListDueForEnd(ctx, now)
	if err != nil {
		return 0, err
	}

	ended := 0
	for i := range due {
		c := &due[i]
		endAction := c.EndAction
		unit := models.NewWorkUnit(models.WorkUnitKindEndAction, models.WorkUnitPayload{
			CampaignID: c.ID,
			EndAction:  &endAction,
			Reason:     "campaign end",
		})
		if _, err := s.dispatcher.Enqueue(ctx, unit); err != nil {
			s.log.Error("failed to enqueue end action",
				zap.String("slug", c.Slug), zap.Error(err))
			continue
		}

		err := s.campaigns.UpdateStatus(ctx, c.ID, models.CampaignStatusActive, models.CampaignStatusEnded)
		if err != nil {
			// Another scheduler instance may have flipped it already; the
			// dedup above keeps that safe.
			s.log.Warn("campaign end transition skipped",
				zap.String("slug", c.Slug), zap.Error(err))
			continue
		}
		ended++
		s.log.Info("campaign ended", zap.String("slug", c.Slug))
	}
	return ended, nil
}
