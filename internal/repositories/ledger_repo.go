package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalty-platform/backend/internal/models"
)

// ReserveStatus is the answer to "may I act on this key?".
type ReserveStatus string

const (
	// ReserveAcquired: no terminal outcome and nobody else holds the unit.
	ReserveAcquired ReserveStatus = "acquired"
	// ReserveInFlight: another worker holds a live lease on the unit.
	ReserveInFlight ReserveStatus = "in_flight"
	// ReserveAlreadyTerminal: a terminal outcome is already recorded; the
	// caller must not re-call the supplier.
	ReserveAlreadyTerminal ReserveStatus = "already_terminal"
)

// LedgerRepo owns the write-once record of terminal outcomes per idempotency
// key. It is consulted before every external call attempt.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Reserve checks whether work keyed by key may proceed for workerID. A
// terminal ledger entry short-circuits; a live lease held by a different
// worker reports in-flight.
func (r *LedgerRepo) Reserve(ctx context.Context, key, workerID string) (ReserveStatus, *models.LedgerEntry, error) {
	entry, err := r.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", nil, err
	}
	if entry != nil {
		return ReserveAlreadyTerminal, entry, nil
	}

	var leasedBy *string
	var leaseExpiresAt *time.Time
	err = r.pool.QueryRow(ctx, `
		SELECT leased_by, lease_expires_at FROM work_units
		WHERE idempotency_key = $1 AND status = $2
	`, key, models.WorkUnitStatusInFlight).Scan(&leasedBy, &leaseExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReserveAcquired, nil, nil
		}
		return "", nil, err
	}

	if leasedBy != nil && *leasedBy != workerID &&
		leaseExpiresAt != nil && leaseExpiresAt.After(time.Now().UTC()) {
		return ReserveInFlight, nil, nil
	}
	return ReserveAcquired, nil, nil
}

// Finalize commits a terminal outcome, first writer wins. The returned entry
// is whatever the ledger holds after the call; won is false when another
// writer got there first.
func (r *LedgerRepo) Finalize(ctx context.Context, key, outcome, detail string) (won bool, entry *models.LedgerEntry, err error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO issuance_ledger (idempotency_key, outcome, detail)
		VALUES ($1, $2, $3)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, outcome, detail)
	if err != nil {
		return false, nil, err
	}

	stored, err := r.Get(ctx, key)
	if err != nil {
		return false, nil, err
	}
	return tag.RowsAffected() > 0, stored, nil
}

func (r *LedgerRepo) Get(ctx context.Context, key string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := r.pool.QueryRow(ctx, `
		SELECT idempotency_key, outcome, detail, created_at
		FROM issuance_ledger WHERE idempotency_key = $1
	`, key).Scan(&e.IdempotencyKey, &e.Outcome, &e.Detail, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}
