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

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleStatus is returned by compare-and-set status updates when the
	// row was no longer in the expected state.
	ErrStaleStatus = errors.New("status changed concurrently")
)

type CampaignRepo struct {
	pool *pgxpool.Pool
}

func NewCampaignRepo(pool *pgxpool.Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

const campaignColumns = `id, slug, name, slot, loyalty_type, status, start_date, end_date, end_action, created_at, updated_at`

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	var endAction []byte
	err := row.Scan(&c.ID, &c.Slug, &c.Name, &c.Slot, &c.LoyaltyType, &c.Status,
		&c.StartDate, &c.EndDate, &endAction, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(endAction) > 0 {
		if err := json.Unmarshal(endAction, &c.EndAction); err != nil {
			return nil, fmt.Errorf("decode end action for campaign %s: %w", c.Slug, err)
		}
	}
	return &c, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	endAction, err := json.Marshal(c.EndAction)
	if err != nil {
		return fmt.Errorf("encode end action: %w", err)
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (slug, name, slot, loyalty_type, status, start_date, end_date, end_action)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, c.Slug, c.Name, c.Slot, c.LoyaltyType, c.Status, c.StartDate, c.EndDate, endAction,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *CampaignRepo) GetBySlug(ctx context.Context, slug string) (*models.Campaign, error) {
	return scanCampaign(r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE slug = $1
	`, slug))
}

func (r *CampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	return scanCampaign(r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE id = $1
	`, id))
}

// ListDueForEnd returns active campaigns whose end date has passed.
func (r *CampaignRepo) ListDueForEnd(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = $1 AND end_date IS NOT NULL AND end_date <= $2
		ORDER BY end_date
	`, models.CampaignStatusActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// HasActiveInSlot reports whether another campaign is already active in the
// given slot. Activation's start precondition.
func (r *CampaignRepo) HasActiveInSlot(ctx context.Context, slot string, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM campaigns WHERE slot = $1 AND status = $2 AND id <> $3
		)
	`, slot, models.CampaignStatusActive, excludeID).Scan(&exists)
	return exists, err
}

// UpdateStatus performs a compare-and-set status transition. ErrStaleStatus
// means the campaign was not in the expected state anymore.
func (r *CampaignRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// SetEndDate schedules the campaign's end. The caller enforces immutability
// of an already scheduled end date outside draft.
func (r *CampaignRepo) SetEndDate(ctx context.Context, id uuid.UUID, endDate time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET end_date = $1, updated_at = now() WHERE id = $2
	`, endDate, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
