package models

import (
	"time"

	"github.com/google/uuid"
)

// PendingReward is an allocation-window reward that has been earned but not
// yet issued. A campaign's end action decides what happens to them: convert
// into real issuances, or cancel.
type PendingReward struct {
	ID             uuid.UUID `json:"id"`
	AccountID      uuid.UUID `json:"account_id"`
	CampaignID     uuid.UUID `json:"campaign_id"`
	RewardSlug     string    `json:"reward_slug"`
	Count          int       `json:"count"`
	Amount         int64     `json:"amount"`
	ConversionDate time.Time `json:"conversion_date"`
	CreatedAt      time.Time `json:"created_at"`
}
