package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OutboxSource is the slice of the outbox the relay needs.
type OutboxSource interface {
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, eventID string) error
}

// Relay drains unpublished outbox rows into a Redis Stream. Delivery is
// at-least-once: a crash between XADD and MarkPublished re-sends the event,
// and consumers deduplicate on event id.
type Relay struct {
	source   OutboxSource
	client   *redis.Client
	stream   string
	interval time.Duration
	batch    int
	log      *zap.Logger
}

func NewRelay(source OutboxSource, client *redis.Client, stream string, interval time.Duration, batch int, log *zap.Logger) *Relay {
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		source:   source,
		client:   client,
		stream:   stream,
		interval: interval,
		batch:    batch,
		log:      log,
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				r.log.Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// Drain publishes one batch of unpublished events.
func (r *Relay) Drain(ctx context.Context) error {
	pending, err := r.source.ListUnpublished(ctx, r.batch)
	if err != nil {
		return err
	}

	for _, event := range pending {
		payload, err := json.Marshal(event)
		if err != nil {
			r.log.Error("unmarshalable outbox event",
				zap.String("event_id", event.EventID.String()),
				zap.Error(err),
			)
			continue
		}

		err = r.client.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]any{
				"event_id": event.EventID.String(),
				"kind":     event.Kind,
				"payload":  string(payload),
			},
		}).Err()
		if err != nil {
			// Leave the row unpublished; the next drain retries it.
			r.log.Warn("event publish failed",
				zap.String("event_id", event.EventID.String()),
				zap.Error(err),
			)
			continue
		}

		if err := r.source.MarkPublished(ctx, event.EventID.String()); err != nil {
			r.log.Warn("failed to mark event published",
				zap.String("event_id", event.EventID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}
