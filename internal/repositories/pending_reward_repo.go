package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalty-platform/backend/internal/models"
)

type PendingRewardRepo struct {
	pool *pgxpool.Pool
}

func NewPendingRewardRepo(pool *pgxpool.Pool) *PendingRewardRepo {
	return &PendingRewardRepo{pool: pool}
}

func (r *PendingRewardRepo) Create(ctx context.Context, pr *models.PendingReward) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO pending_rewards (account_id, campaign_id, reward_slug, count, amount, conversion_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, pr.AccountID, pr.CampaignID, pr.RewardSlug, pr.Count, pr.Amount, pr.ConversionDate,
	).Scan(&pr.ID, &pr.CreatedAt)
}

func (r *PendingRewardRepo) ListForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.PendingReward, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, campaign_id, reward_slug, count, amount, conversion_date, created_at
		FROM pending_rewards WHERE campaign_id = $1
		ORDER BY created_at
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rewards []models.PendingReward
	for rows.Next() {
		var pr models.PendingReward
		if err := rows.Scan(&pr.ID, &pr.AccountID, &pr.CampaignID, &pr.RewardSlug,
			&pr.Count, &pr.Amount, &pr.ConversionDate, &pr.CreatedAt); err != nil {
			return nil, err
		}
		rewards = append(rewards, pr)
	}
	return rewards, rows.Err()
}

// DeleteForCampaign removes all of a campaign's pending rewards, returning
// the deleted rows so the caller can convert them or emit cancellation events.
func (r *PendingRewardRepo) DeleteForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.PendingReward, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM pending_rewards WHERE campaign_id = $1
		RETURNING id, account_id, campaign_id, reward_slug, count, amount, conversion_date, created_at
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deleted []models.PendingReward
	for rows.Next() {
		var pr models.PendingReward
		if err := rows.Scan(&pr.ID, &pr.AccountID, &pr.CampaignID, &pr.RewardSlug,
			&pr.Count, &pr.Amount, &pr.ConversionDate, &pr.CreatedAt); err != nil {
			return nil, err
		}
		deleted = append(deleted, pr)
	}
	return deleted, rows.Err()
}
