package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event kinds
const (
	KindRewardIssued      = "reward_issued"
	KindRewardIssueFailed = "reward_issue_failed"
	KindRewardCancelled   = "reward_cancelled"
	KindCampaignEnded     = "campaign_ended"
	KindCampaignCancelled = "campaign_cancelled"
)

// eventNamespace seeds deterministic event ids. Recording the same logical
// outcome twice produces the same id, so the outbox deduplicates and
// downstream consumers see at most one row per outcome.
var eventNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

type Event struct {
	EventID       uuid.UUID  `json:"event_id"`
	Kind          string     `json:"kind"`
	CampaignID    uuid.UUID  `json:"campaign_id"`
	AccountID     *uuid.UUID `json:"account_id,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	OutcomeDetail string     `json:"outcome_detail,omitempty"`
}

// New builds an event whose id is derived from kind plus a caller-chosen
// dedup scope (an idempotency key, a pending reward id, a campaign id).
func New(kind, scope string, campaignID uuid.UUID, accountID *uuid.UUID, detail string) Event {
	return Event{
		EventID:       uuid.NewSHA1(eventNamespace, []byte(kind+"|"+scope)),
		Kind:          kind,
		CampaignID:    campaignID,
		AccountID:     accountID,
		Timestamp:     time.Now().UTC(),
		OutcomeDetail: detail,
	}
}

// Recorder persists an event to the durable outbox. Recording is the commit
// point; actual delivery to the outbound channel is the relay's job and is
// retried independently of whatever produced the event.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}
