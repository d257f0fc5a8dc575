package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalty-platform/backend/internal/models"
)

// WorkUnitRepo is the persistent task queue. All mutations are single-row
// compare-and-set operations; leasing uses FOR UPDATE SKIP LOCKED so parallel
// executors never claim the same unit.
type WorkUnitRepo struct {
	pool *pgxpool.Pool
}

func NewWorkUnitRepo(pool *pgxpool.Pool) *WorkUnitRepo {
	return &WorkUnitRepo{pool: pool}
}

const workUnitColumns = `id, kind, payload, idempotency_key, supplier_token, status, attempts,
	next_eligible_at, leased_by, lease_expires_at, last_error_kind, created_at, updated_at`

func scanWorkUnit(row pgx.Row) (*models.WorkUnit, error) {
	var u models.WorkUnit
	var payload []byte
	err := row.Scan(&u.ID, &u.Kind, &payload, &u.IdempotencyKey, &u.SupplierToken, &u.Status,
		&u.Attempts, &u.NextEligibleAt, &u.LeasedBy, &u.LeaseExpiresAt, &u.LastErrorKind,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &u.Payload); err != nil {
		return nil, fmt.Errorf("decode payload for unit %s: %w", u.ID, err)
	}
	return &u, nil
}

// Enqueue persists the unit as pending, deduplicating on idempotency key.
// The returned bool is false when an entry with the same key already existed,
// in which case the existing unit is returned instead.
func (r *WorkUnitRepo) Enqueue(ctx context.Context, unit *models.WorkUnit) (*models.WorkUnit, bool, error) {
	payload, err := json.Marshal(unit.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode payload: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO work_units (id, kind, payload, idempotency_key, supplier_token, status, next_eligible_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+workUnitColumns+`
	`, unit.ID, unit.Kind, payload, unit.IdempotencyKey, unit.SupplierToken,
		models.WorkUnitStatusPending, unit.NextEligibleAt)

	created, err := scanWorkUnit(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	existing, err := r.GetByKey(ctx, unit.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *WorkUnitRepo) Get(ctx context.Context, id uuid.UUID) (*models.WorkUnit, error) {
	return scanWorkUnit(r.pool.QueryRow(ctx, `
		SELECT `+workUnitColumns+` FROM work_units WHERE id = $1
	`, id))
}

func (r *WorkUnitRepo) GetByKey(ctx context.Context, key string) (*models.WorkUnit, error) {
	return scanWorkUnit(r.pool.QueryRow(ctx, `
		SELECT `+workUnitColumns+` FROM work_units WHERE idempotency_key = $1
	`, key))
}

// Lease atomically claims the oldest eligible unit for workerID, moving it to
// in_flight with a visibility timeout, and increments its attempt counter.
// Returns nil when no unit is eligible.
func (r *WorkUnitRepo) Lease(ctx context.Context, workerID string, visibility time.Duration) (*models.WorkUnit, error) {
	now := time.Now().UTC()
	unit, err := scanWorkUnit(r.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM work_units
			WHERE status IN ($1, $2)
			  AND (next_eligible_at IS NULL OR next_eligible_at <= $3)
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE work_units u
		SET status = $4, attempts = attempts + 1, leased_by = $5,
		    lease_expires_at = $6, updated_at = now()
		FROM next WHERE u.id = next.id
		RETURNING u.id, u.kind, u.payload, u.idempotency_key, u.supplier_token, u.status,
		          u.attempts, u.next_eligible_at, u.leased_by, u.lease_expires_at,
		          u.last_error_kind, u.created_at, u.updated_at
	`, models.WorkUnitStatusPending, models.WorkUnitStatusRetryScheduled, now,
		models.WorkUnitStatusInFlight, workerID, now.Add(visibility)))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return unit, err
}

// MarkSucceeded moves an in-flight unit to succeeded. Completing an already
// terminal unit is reported via ErrStaleStatus so the caller can treat the
// re-delivery as a no-op.
func (r *WorkUnitRepo) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return r.finishUnit(ctx, id, models.WorkUnitStatusSucceeded, nil)
}

func (r *WorkUnitRepo) MarkFailedPermanent(ctx context.Context, id uuid.UUID, errorKind string) error {
	return r.finishUnit(ctx, id, models.WorkUnitStatusFailedPermanent, &errorKind)
}

func (r *WorkUnitRepo) finishUnit(ctx context.Context, id uuid.UUID, status string, errorKind *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE work_units
		SET status = $1, last_error_kind = $2, leased_by = NULL,
		    lease_expires_at = NULL, next_eligible_at = NULL, updated_at = now()
		WHERE id = $3 AND status = $4
	`, status, errorKind, id, models.WorkUnitStatusInFlight)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// MarkRetryScheduled parks an in-flight unit until nextEligibleAt.
func (r *WorkUnitRepo) MarkRetryScheduled(ctx context.Context, id uuid.UUID, nextEligibleAt time.Time, errorKind string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE work_units
		SET status = $1, next_eligible_at = $2, last_error_kind = $3,
		    leased_by = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $4 AND status = $5
	`, models.WorkUnitStatusRetryScheduled, nextEligibleAt, errorKind,
		id, models.WorkUnitStatusInFlight)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// ListPendingIssuances returns issuance units under a campaign that have not
// reached a terminal state, for cancellation fan-out.
func (r *WorkUnitRepo) ListPendingIssuances(ctx context.Context, campaignID uuid.UUID) ([]models.WorkUnit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+workUnitColumns+` FROM work_units
		WHERE kind = $1
		  AND status IN ($2, $3)
		  AND payload->>'campaign_id' = $4
		ORDER BY created_at
	`, models.WorkUnitKindIssuance, models.WorkUnitStatusPending,
		models.WorkUnitStatusRetryScheduled, campaignID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []models.WorkUnit
	for rows.Next() {
		u, err := scanWorkUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

// CancelPending terminates a not-yet-executed unit by idempotency key.
// In-flight units are left alone: cancellation never preempts a supplier call.
func (r *WorkUnitRepo) CancelPending(ctx context.Context, key string) (bool, error) {
	errorKind := models.OutcomeCancelled
	tag, err := r.pool.Exec(ctx, `
		UPDATE work_units
		SET status = $1, last_error_kind = $2, next_eligible_at = NULL, updated_at = now()
		WHERE idempotency_key = $3 AND status IN ($4, $5)
	`, models.WorkUnitStatusFailedPermanent, errorKind, key,
		models.WorkUnitStatusPending, models.WorkUnitStatusRetryScheduled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReapExpiredLeases returns crashed workers' units to pending. This is the
// at-least-once re-delivery path; idempotency keys make re-execution safe.
func (r *WorkUnitRepo) ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE work_units
		SET status = $1, leased_by = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE status = $2 AND lease_expires_at IS NOT NULL AND lease_expires_at <= $3
	`, models.WorkUnitStatusPending, models.WorkUnitStatusInFlight, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RecordAttempt appends a retry attempt record. Append-only, observability.
func (r *WorkUnitRepo) RecordAttempt(ctx context.Context, attempt models.RetryAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO retry_attempts (work_unit_id, attempt, failure_kind, delay_ms, gave_up)
		VALUES ($1, $2, $3, $4, $5)
	`, attempt.WorkUnitID, attempt.Attempt, attempt.FailureKind,
		attempt.Delay.Milliseconds(), attempt.GaveUp)
	return err
}
