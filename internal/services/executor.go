package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/loyalty-platform/backend/internal/events"
	"github.com/loyalty-platform/backend/internal/models"
	"github.com/loyalty-platform/backend/internal/repositories"
	"github.com/loyalty-platform/backend/internal/supplier"
)

// ExecutorConfig bounds one executor's loop.
type ExecutorConfig struct {
	PollInterval    time.Duration
	LeaseVisibility time.Duration
	SupplierTimeout time.Duration
}

// Executor is one worker: it leases units, consults the ledger, performs the
// unit's effect and reports the classified result back to the dispatcher.
// Any number of executors run in parallel against the same queue.
type Executor struct {
	id         string
	dispatcher *Dispatcher
	ledger     Ledger
	campaigns  CampaignStore
	pending    PendingRewardStore
	supplier   supplier.Issuer
	cfg        ExecutorConfig
	log        *zap.Logger
}

func NewExecutor(id string, dispatcher *Dispatcher, ledger Ledger, campaigns CampaignStore, pending PendingRewardStore, issuer supplier.Issuer, cfg ExecutorConfig, log *zap.Logger) *Executor {
	return &Executor{
		id:         id,
		dispatcher: dispatcher,
		ledger:     ledger,
		campaigns:  campaigns,
		pending:    pending,
		supplier:   issuer,
		cfg:        cfg,
		log:        log.With(zap.String("worker_id", id)),
	}
}

// Run processes units until the context is cancelled.
func (e *Executor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		unit, err := e.dispatcher.Lease(ctx, e.id, e.cfg.LeaseVisibility)
		if err != nil {
			e.log.Error("lease failed", zap.Error(err))
			e.sleep(ctx)
			continue
		}
		if unit == nil {
			e.sleep(ctx)
			continue
		}
		e.Process(ctx, unit)
	}
}

func (e *Executor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(e.cfg.PollInterval):
	}
}

// Process runs one leased unit end to end.
func (e *Executor) Process(ctx context.Context, unit *models.WorkUnit) {
	status, entry, err := e.ledger.Reserve(ctx, unit.IdempotencyKey, e.id)
	if err != nil {
		// Leave the unit in flight; the lease expires and it is re-delivered.
		e.log.Error("ledger reserve failed",
			zap.String("unit_id", unit.ID.String()), zap.Error(err))
		return
	}

	switch status {
	case repositories.ReserveInFlight:
		e.log.Warn("unit already in flight elsewhere, skipping",
			zap.String("unit_id", unit.ID.String()))
		return

	case repositories.ReserveAlreadyTerminal:
		// Short-circuit straight to outcome publication; the supplier is not
		// called again.
		if err := e.dispatcher.Complete(ctx, unit.ID, resultFromLedger(entry)); err != nil {
			e.log.Error("failed to complete short-circuited unit",
				zap.String("unit_id", unit.ID.String()), zap.Error(err))
		}
		return
	}

	result := e.execute(ctx, unit)
	if err := e.dispatcher.Complete(ctx, unit.ID, result); err != nil {
		e.log.Error("failed to complete unit",
			zap.String("unit_id", unit.ID.String()),
			zap.String("outcome", string(result.Code)),
			zap.Error(err),
		)
	}
}

func (e *Executor) execute(ctx context.Context, unit *models.WorkUnit) ExecutionResult {
	switch unit.Kind {
	case models.WorkUnitKindIssuance:
		return e.executeIssuance(ctx, unit)
	case models.WorkUnitKindEndAction:
		return e.executeEndAction(ctx, unit)
	case models.WorkUnitKindCancelIssuance:
		return e.executeCancelIssuance(ctx, unit)
	default:
		return ExecutionResult{Code: OutcomeCodePermanent, Detail: fmt.Sprintf("unknown work unit kind %q", unit.Kind)}
	}
}

func (e *Executor) executeIssuance(ctx context.Context, unit *models.WorkUnit) ExecutionResult {
	campaign, err := e.campaigns.GetByID(ctx, unit.Payload.CampaignID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ExecutionResult{Code: OutcomeCodePermanent, Detail: fmt.Sprintf("campaign %s not found", unit.Payload.CampaignID)}
		}
		return ExecutionResult{Code: OutcomeCodeRetryable, Detail: fmt.Sprintf("load campaign: %v", err)}
	}

	// A logically cancelled campaign stops further issuance.
	if campaign.Status == models.CampaignStatusCancelled {
		return ExecutionResult{Code: OutcomeCodeCancelled, Detail: "campaign cancelled"}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.SupplierTimeout)
	defer cancel()

	res := e.supplier.Issue(callCtx, supplier.Request{
		AccountID:        unit.Payload.AccountID,
		CampaignID:       unit.Payload.CampaignID,
		RewardSlug:       unit.Payload.RewardSlug,
		Amount:           unit.Payload.Amount,
		IdempotencyToken: unit.SupplierToken,
	})

	switch res.Status {
	case supplier.StatusSuccess:
		return ExecutionResult{Code: OutcomeCodeSuccess, Detail: res.RewardRef}
	case supplier.StatusPermanent:
		return ExecutionResult{Code: OutcomeCodePermanent, Detail: res.Reason}
	case supplier.StatusRetryable:
		return ExecutionResult{Code: OutcomeCodeRetryable, Detail: res.Reason}
	default:
		return ExecutionResult{Code: OutcomeCodeUnknown, Detail: res.Reason}
	}
}

// executeEndAction applies the campaign's configured end action to its
// residual pending rewards. Conversion enqueues issuance units first and
// deletes afterwards, so a partial failure is retried without losing rewards:
// re-enqueued units deduplicate on their pending-reward-derived keys.
func (e *Executor) executeEndAction(ctx context.Context, unit *models.WorkUnit) ExecutionResult {
	campaign, err := e.campaigns.GetByID(ctx, unit.Payload.CampaignID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ExecutionResult{Code: OutcomeCodePermanent, Detail: fmt.Sprintf("campaign %s not found", unit.Payload.CampaignID)}
		}
		return ExecutionResult{Code: OutcomeCodeRetryable, Detail: fmt.Sprintf("load campaign: %v", err)}
	}

	action := campaign.EndAction
	if unit.Payload.EndAction != nil {
		action = *unit.Payload.EndAction
	}

	switch action.Kind {
	case models.EndActionConvert:
		return e.convertPendingRewards(ctx, campaign, action)
	case models.EndActionCancel:
		return e.cancelPendingRewards(ctx, campaign)
	default:
		// Unknown kinds are rejected at activation; seeing one here means the
		// configuration changed underneath us.
		return ExecutionResult{Code: OutcomeCodePermanent, Detail: fmt.Sprintf("unknown end action kind %q", action.Kind)}
	}
}

func (e *Executor) convertPendingRewards(ctx context.Context, campaign *models.Campaign, action models.EndActionConfig) ExecutionResult {
	rewards, err := e.pending.ListForCampaign(ctx, campaign.ID)
	if err != nil {
		return ExecutionResult{Code: OutcomeCodeRetryable, Detail: fmt.Sprintf("list pending rewards: %v", err)}
	}

	converted := 0
	for _, pr := range rewards {
		if action.QualifyingThreshold > 0 && pr.Amount < int64(action.QualifyingThreshold) {
			continue
		}
		amount := pr.Amount * int64(action.ConversionRatePercent) / 100

		for i := 0; i < pr.Count; i++ {
			issuance := models.NewWorkUnit(models.WorkUnitKindIssuance, models.WorkUnitPayload{
				AccountID:  pr.AccountID,
				CampaignID: campaign.ID,
				RewardSlug: pr.RewardSlug,
				Amount:     amount,
				Reason:     "converted",
				SourceRef:  pr.ID.String() + "#" + strconv.Itoa(i),
			})
			if _, err := e.dispatcher.Enqueue(ctx, issuance); err != nil {
				return ExecutionResult{Code: OutcomeCodeRetryable, Detail: fmt.Sprintf("enqueue converted issuance: %v", err)}
			}
			converted++
		}
	}

	if _, err := e.pending.DeleteForCampaign(ctx, campaign.ID); err != nil {
		return ExecutionResult{Code: OutcomeCodeRetryable, Detail: fmt.Sprintf("delete pending rewards: %v", err)}
	}
	return ExecutionResult{Code: OutcomeCodeSuccess, Detail: fmt.Sprintf("converted %d pending rewards", converted)}
}

// cancelPendingRewards records the cancellation events before deleting the
// rows. A record failure leaves the rewards in place and the unit retries;
// deterministic event ids keep the replayed records single rows.
func (e *Executor) cancelPendingRewards(ctx context.Context, campaign *models.Campaign) ExecutionResult {
	rewards, err := e.pending.ListForCampaign(ctx, campaign.ID)
	if err != nil {
		return ExecutionResult{Code: OutcomeCodeRetryable, Detail: fmt.Sprintf("list pending rewards: %v", err)}
	}

	for _, pr := range rewards {
		accountID := pr.AccountID
		event := events.New(events.KindRewardCancelled, pr.ID.String(), campaign.ID, &accountID,
			"pending reward removed: campaign ended")
		if err := e.dispatcher.recorder.Record(ctx, event); err != nil {
			return ExecutionResult{Code: OutcomeCodeRetryable,
				Detail: fmt.Sprintf("record pending reward cancellation: %v", err)}
		}
	}

	if _, err := e.pending.DeleteForCampaign(ctx, campaign.ID); err != nil {
		return ExecutionResult{Code: OutcomeCodeRetryable, Detail: fmt.Sprintf("delete pending rewards: %v", err)}
	}
	return ExecutionResult{Code: OutcomeCodeSuccess, Detail: fmt.Sprintf("cancelled %d pending rewards", len(rewards))}
}

// executeCancelIssuance finalizes the targeted issuance as cancelled if it
// has not run yet. An issuance that already completed keeps its outcome; the
// cancel unit's own completion event is the compensating record downstream.
func (e *Executor) executeCancelIssuance(ctx context.Context, unit *models.WorkUnit) ExecutionResult {
	target := unit.Payload.TargetKey
	if target == "" {
		return ExecutionResult{Code: OutcomeCodePermanent, Detail: "cancel unit without target key"}
	}

	cancelled, err := e.dispatcher.CancelPending(ctx, target)
	if err != nil {
		return ExecutionResult{Code: OutcomeCodeRetryable, Detail: fmt.Sprintf("cancel pending unit: %v", err)}
	}

	won, stored, err := e.ledger.Finalize(ctx, target, models.OutcomeCancelled, unit.Payload.Reason)
	if err != nil {
		return ExecutionResult{Code: OutcomeCodeRetryable, Detail: fmt.Sprintf("finalize cancellation: %v", err)}
	}
	if !won && stored != nil && stored.Outcome != models.OutcomeCancelled {
		// The issuance finished first; its outcome stands.
		return ExecutionResult{Code: OutcomeCodeSuccess,
			Detail: fmt.Sprintf("issuance already %s, compensation recorded", stored.Outcome)}
	}
	if cancelled {
		return ExecutionResult{Code: OutcomeCodeSuccess, Detail: "issuance cancelled"}
	}
	return ExecutionResult{Code: OutcomeCodeSuccess, Detail: "issuance already terminal"}
}

func resultFromLedger(entry *models.LedgerEntry) ExecutionResult {
	switch entry.Outcome {
	case models.OutcomeSuccess:
		return ExecutionResult{Code: OutcomeCodeSuccess, Detail: entry.Detail, Replayed: true}
	case models.OutcomeCancelled:
		return ExecutionResult{Code: OutcomeCodeCancelled, Detail: entry.Detail, Replayed: true}
	default:
		return ExecutionResult{Code: OutcomeCodePermanent, Detail: entry.Detail, Replayed: true}
	}
}
