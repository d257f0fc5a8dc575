package models

import (
	"time"

	"github.com/google/uuid"
)

// Terminal outcomes recorded in the issuance ledger.
const (
	OutcomeSuccess   = "success"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// LedgerEntry is the write-once record of a terminal outcome for an
// idempotency key. First writer wins; later writers detect a mismatch and
// log rather than overwrite.
type LedgerEntry struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Outcome        string    `json:"outcome"`
	Detail         string    `json:"detail,omitempty"` // reward reference or error reason
	CreatedAt      time.Time `json:"created_at"`
}

// RetryAttempt is an append-only observability record of one policy decision.
type RetryAttempt struct {
	ID          int64         `json:"id"`
	WorkUnitID  uuid.UUID     `json:"work_unit_id"`
	Attempt     int           `json:"attempt"`
	FailureKind string        `json:"failure_kind"`
	Delay       time.Duration `json:"delay"`
	GaveUp      bool          `json:"gave_up"`
	CreatedAt   time.Time     `json:"created_at"`
}
