package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Work unit kinds
const (
	WorkUnitKindIssuance       = "issuance"
	WorkUnitKindEndAction      = "end_action"
	WorkUnitKindCancelIssuance = "cancel_issuance"
)

// Work unit statuses
const (
	WorkUnitStatusPending         = "pending"
	WorkUnitStatusInFlight        = "in_flight"
	WorkUnitStatusRetryScheduled  = "retry_scheduled"
	WorkUnitStatusSucceeded       = "succeeded"
	WorkUnitStatusFailedPermanent = "failed_permanent"
)

func IsTerminalWorkUnitStatus(status string) bool {
	return status == WorkUnitStatusSucceeded || status == WorkUnitStatusFailedPermanent
}

// WorkUnitPayload carries everything an executor needs to run a unit without
// further lookups beyond the campaign row.
type WorkUnitPayload struct {
	AccountID  uuid.UUID `json:"account_id,omitempty"`
	CampaignID uuid.UUID `json:"campaign_id"`
	RewardSlug string    `json:"reward_slug,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	// SourceRef identifies the qualifying event or pending reward an issuance
	// originated from, so two issuances for the same account are distinct units.
	SourceRef string `json:"source_ref,omitempty"`
	// TargetKey is the idempotency key of the issuance a cancel_issuance unit
	// targets.
	TargetKey string           `json:"target_key,omitempty"`
	EndAction *EndActionConfig `json:"end_action,omitempty"`
}

type WorkUnit struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	Payload        WorkUnitPayload `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	// SupplierToken is sent to the reward supplier on every attempt so that a
	// call whose response was lost cannot cause a second issuance supplier-side.
	SupplierToken  uuid.UUID  `json:"supplier_token"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
	LeasedBy       *string    `json:"leased_by,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LastErrorKind  *string    `json:"last_error_kind,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (u *WorkUnit) IsTerminal() bool {
	return IsTerminalWorkUnitStatus(u.Status)
}

// IdempotencyKey derives the deterministic key for a unit from its kind and
// the payload fields that define it. Two units describing the same logical
// piece of work always hash to the same key.
func IdempotencyKey(kind string, p WorkUnitPayload) string {
	var parts []string
	switch kind {
	case WorkUnitKindEndAction:
		parts = []string{kind, p.CampaignID.String(), "end"}
	case WorkUnitKindCancelIssuance:
		parts = []string{kind, p.TargetKey}
	default:
		parts = []string{kind, p.CampaignID.String(), p.AccountID.String(), p.SourceRef}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// NewWorkUnit builds a pending unit with its idempotency key and a fresh
// supplier-side idempotency token.
func NewWorkUnit(kind string, p WorkUnitPayload) *WorkUnit {
	return &WorkUnit{
		ID:             uuid.New(),
		Kind:           kind,
		Payload:        p,
		IdempotencyKey: IdempotencyKey(kind, p),
		SupplierToken:  uuid.New(),
		Status:         WorkUnitStatusPending,
	}
}
