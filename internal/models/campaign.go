package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusEnded     = "ended"
	CampaignStatusCancelled = "cancelled"
)

// Loyalty types
const (
	LoyaltyTypeStamps      = "stamps"
	LoyaltyTypeAccumulator = "accumulator"
)

// Valid state transitions: from -> []to
var ValidCampaignTransitions = map[string][]string{
	CampaignStatusDraft:     {CampaignStatusActive, CampaignStatusCancelled},
	CampaignStatusActive:    {CampaignStatusEnded, CampaignStatusCancelled},
	CampaignStatusEnded:     {},
	CampaignStatusCancelled: {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidCampaignTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsValidLoyaltyType(t string) bool {
	return t == LoyaltyTypeStamps || t == LoyaltyTypeAccumulator
}

func IsTerminalStatus(status string) bool {
	return status == CampaignStatusEnded || status == CampaignStatusCancelled
}

// ConflictError is returned for invalid lifecycle transitions and activation
// precondition failures. It is surfaced synchronously to the administrative
// caller and is never retried.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

type Campaign struct {
	ID          uuid.UUID       `json:"id"`
	Slug        string          `json:"slug"`
	Name        string          `json:"name"`
	Slot        string          `json:"slot"` // at most one active campaign per slot
	LoyaltyType string          `json:"loyalty_type"`
	Status      string          `json:"status"`
	StartDate   *time.Time      `json:"start_date,omitempty"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
	EndAction   EndActionConfig `json:"end_action"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsActivable reports whether the campaign has everything it needs to go
// active: a known loyalty type and a valid end-action configuration.
func (c *Campaign) IsActivable() error {
	if c.Status != CampaignStatusDraft {
		return NewConflictError("campaign %s is %s, only draft campaigns can be activated", c.Slug, c.Status)
	}
	if !IsValidLoyaltyType(c.LoyaltyType) {
		return NewConflictError("campaign %s has unknown loyalty type %q", c.Slug, c.LoyaltyType)
	}
	if err := c.EndAction.Validate(); err != nil {
		return NewConflictError("campaign %s end action: %v", c.Slug, err)
	}
	return nil
}

func (c *Campaign) IsTerminal() bool {
	return IsTerminalStatus(c.Status)
}
