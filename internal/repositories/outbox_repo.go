package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalty-platform/backend/internal/events"
)

// OutboxRepo is the durable side of the event publisher: terminal outcomes
// are recorded here in the same logical step that produced them, and the
// relay drains rows to the outbound stream afterwards. Event ids are
// deterministic, so re-recording the same outcome is a no-op.
type OutboxRepo struct {
	pool *pgxpool.Pool
}

func NewOutboxRepo(pool *pgxpool.Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

func (r *OutboxRepo) Record(ctx context.Context, event events.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_outbox (event_id, kind, campaign_id, account_id, occurred_at, outcome_detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.Kind, event.CampaignID, event.AccountID,
		event.Timestamp, event.OutcomeDetail)
	return err
}

func (r *OutboxRepo) ListUnpublished(ctx context.Context, limit int) ([]events.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, kind, campaign_id, account_id, occurred_at, outcome_detail
		FROM event_outbox
		WHERE published_at IS NULL
		ORDER BY occurred_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []events.Event
	for rows.Next() {
		var e events.Event
		if err := rows.Scan(&e.EventID, &e.Kind, &e.CampaignID, &e.AccountID,
			&e.Timestamp, &e.OutcomeDetail); err != nil {
			return nil, err
		}
		pending = append(pending, e)
	}
	return pending, rows.Err()
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE event_outbox SET published_at = now() WHERE event_id = $1
	`, eventID)
	return err
}
