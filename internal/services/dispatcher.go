package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loyalty-platform/backend/internal/events"
	"github.com/loyalty-platform/backend/internal/models"
	"github.com/loyalty-platform/backend/internal/retry"
)

// OutcomeCode classifies how an execution attempt went.
type OutcomeCode string

const (
	OutcomeCodeSuccess   OutcomeCode = "success"
	OutcomeCodeCancelled OutcomeCode = "cancelled"
	OutcomeCodeRetryable OutcomeCode = "retryable"
	OutcomeCodePermanent OutcomeCode = "permanent"
	OutcomeCodeUnknown   OutcomeCode = "unknown"
)

// ExecutionResult is what an executor reports back for a leased unit. Detail
// holds the reward reference on success and the failure reason otherwise.
// Replayed marks a result reconstructed from the ledger instead of a fresh
// execution; replays finalize but never append attempt records.
type ExecutionResult struct {
	Code     OutcomeCode
	Detail   string
	Replayed bool
}

// Dispatcher owns work unit delivery: deduplicated enqueue, leasing, and
// completion. Completion drives the retry policy, the idempotency ledger and
// the event outbox, in that order, so a crash at any point is healed by
// re-delivery plus deterministic event ids.
type Dispatcher struct {
	queue    WorkUnitQueue
	ledger   Ledger
	recorder events.Recorder
	policy   retry.Policy
	log      *zap.Logger
}

func NewDispatcher(queue WorkUnitQueue, ledger Ledger, recorder events.Recorder, policy retry.Policy, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		ledger:   ledger,
		recorder: recorder,
		policy:   policy,
		log:      log,
	}
}

// Enqueue makes the unit visible to executors, deduplicating on idempotency
// key. When an entry with the same key already exists the existing unit is
// returned and nothing is written.
func (d *Dispatcher) Enqueue(ctx context.Context, unit *models.WorkUnit) (*models.WorkUnit, error) {
	stored, created, err := d.queue.Enqueue(ctx, unit)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s unit: %w", unit.Kind, err)
	}
	if !created {
		d.log.Debug("enqueue deduplicated",
			zap.String("kind", unit.Kind),
			zap.String("idempotency_key", unit.IdempotencyKey),
			zap.String("existing_status", stored.Status),
		)
	}
	return stored, nil
}

// Lease claims one eligible unit for workerID, or nil when none is due.
func (d *Dispatcher) Lease(ctx context.Context, workerID string, visibility time.Duration) (*models.WorkUnit, error) {
	return d.queue.Lease(ctx, workerID, visibility)
}

// CancelPending terminates a not-yet-leased unit by idempotency key.
func (d *Dispatcher) CancelPending(ctx context.Context, key string) (bool, error) {
	return d.queue.CancelPending(ctx, key)
}

// ReapExpiredLeases returns timed-out in-flight units to pending.
func (d *Dispatcher) ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	return d.queue.ReapExpiredLeases(ctx, now)
}

// Complete records the outcome of an executed unit. Calling it again for an
// already terminal unit is a logged no-op, which makes worker re-delivery
// after crashes safe.
func (d *Dispatcher) Complete(ctx context.Context, unitID uuid.UUID, result ExecutionResult) error {
	unit, err := d.queue.Get(ctx, unitID)
	if err != nil {
		return fmt.Errorf("load unit %s: %w", unitID, err)
	}
	if unit.IsTerminal() {
		d.log.Info("complete on terminal unit ignored",
			zap.String("unit_id", unitID.String()),
			zap.String("status", unit.Status),
			zap.String("outcome", string(result.Code)),
		)
		return nil
	}

	switch result.Code {
	case OutcomeCodeSuccess:
		return d.finalize(ctx, unit, models.OutcomeSuccess, result.Detail)

	case OutcomeCodeCancelled:
		return d.finalize(ctx, unit, models.OutcomeCancelled, result.Detail)

	case OutcomeCodePermanent:
		if !result.Replayed {
			if err := d.queue.RecordAttempt(ctx, models.RetryAttempt{
				WorkUnitID:  unit.ID,
				Attempt:     unit.Attempts,
				FailureKind: string(retry.FailurePermanent),
				GaveUp:      true,
			}); err != nil {
				d.log.Warn("failed to record attempt", zap.Error(err))
			}
		}
		return d.finalize(ctx, unit, models.OutcomeFailed, result.Detail)

	case OutcomeCodeRetryable, OutcomeCodeUnknown:
		kind := retry.FailureRetryable
		if result.Code == OutcomeCodeUnknown {
			kind = retry.FailureUnknown
		}
		decision := retry.Decide(unit.Attempts, kind, d.policy)

		if err := d.queue.RecordAttempt(ctx, models.RetryAttempt{
			WorkUnitID:  unit.ID,
			Attempt:     unit.Attempts,
			FailureKind: string(kind),
			Delay:       decision.Delay,
			GaveUp:      !decision.Retry,
		}); err != nil {
			d.log.Warn("failed to record attempt", zap.Error(err))
		}

		if !decision.Retry {
			return d.finalize(ctx, unit, models.OutcomeFailed,
				fmt.Sprintf("retries exhausted after %d attempts: %s", unit.Attempts, result.Detail))
		}

		nextEligibleAt := time.Now().UTC().Add(decision.Delay)
		if err := d.queue.MarkRetryScheduled(ctx, unit.ID, nextEligibleAt, result.Detail); err != nil {
			return fmt.Errorf("schedule retry for unit %s: %w", unit.ID, err)
		}
		d.log.Info("unit scheduled for retry",
			zap.String("unit_id", unit.ID.String()),
			zap.Int("attempt", unit.Attempts),
			zap.Duration("delay", decision.Delay),
		)
		return nil

	default:
		return fmt.Errorf("unknown outcome code %q for unit %s", result.Code, unit.ID)
	}
}

// finalize commits a terminal outcome in three steps: ledger entry, outbox
// event, unit status. The unit flips terminal last, so a failure in either
// earlier step leaves it in flight and lease expiry re-delivers it; the
// already-terminal short-circuit plus deterministic event ids make the replay
// converge without a second supplier call or a duplicate event row. The
// ledger is first-writer-wins; a completion that lost the race emits the
// winning outcome's event rather than its own.
func (d *Dispatcher) finalize(ctx context.Context, unit *models.WorkUnit, outcome, detail string) error {
	won, stored, err := d.ledger.Finalize(ctx, unit.IdempotencyKey, outcome, detail)
	if err != nil {
		return fmt.Errorf("finalize ledger for %s: %w", unit.IdempotencyKey, err)
	}
	if !won && stored != nil && stored.Outcome != outcome {
		d.log.Warn("ledger conflict: outcome already finalized differently",
			zap.String("idempotency_key", unit.IdempotencyKey),
			zap.String("stored_outcome", stored.Outcome),
			zap.String("attempted_outcome", outcome),
		)
	}
	if stored != nil {
		outcome, detail = stored.Outcome, stored.Detail
	}

	event := events.New(eventKindFor(unit.Kind, outcome), unit.IdempotencyKey,
		unit.Payload.CampaignID, accountRef(unit), detail)
	if err := d.recorder.Record(ctx, event); err != nil {
		// A record failure must not mark the unit terminal: the re-delivered
		// unit short-circuits on the ledger entry and records the event then.
		// Recording never re-triggers issuance.
		return fmt.Errorf("record outcome event %s: %w", event.EventID, err)
	}

	switch outcome {
	case models.OutcomeSuccess, models.OutcomeCancelled:
		if err := d.queue.MarkSucceeded(ctx, unit.ID); err != nil {
			return fmt.Errorf("mark unit %s succeeded: %w", unit.ID, err)
		}
	default:
		if err := d.queue.MarkFailedPermanent(ctx, unit.ID, detail); err != nil {
			return fmt.Errorf("mark unit %s failed: %w", unit.ID, err)
		}
	}
	return nil
}

func eventKindFor(unitKind, outcome string) string {
	switch outcome {
	case models.OutcomeSuccess:
		switch unitKind {
		case models.WorkUnitKindEndAction:
			return events.KindCampaignEnded
		case models.WorkUnitKindCancelIssuance:
			return events.KindRewardCancelled
		default:
			return events.KindRewardIssued
		}
	case models.OutcomeCancelled:
		return events.KindRewardCancelled
	default:
		return events.KindRewardIssueFailed
	}
}

func accountRef(unit *models.WorkUnit) *uuid.UUID {
	if unit.Payload.AccountID == uuid.Nil {
		return nil
	}
	id := unit.Payload.AccountID
	return &id
}
