package models

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{CampaignStatusDraft, CampaignStatusActive, true},
		{CampaignStatusActive, CampaignStatusEnded, true},

		// Cancellation paths
		{CampaignStatusDraft, CampaignStatusCancelled, true},
		{CampaignStatusActive, CampaignStatusCancelled, true},

		// Invalid transitions
		{CampaignStatusDraft, CampaignStatusEnded, false},
		{CampaignStatusActive, CampaignStatusDraft, false},
		{CampaignStatusEnded, CampaignStatusActive, false},
		{CampaignStatusEnded, CampaignStatusCancelled, false},
		{CampaignStatusCancelled, CampaignStatusActive, false},
		{CampaignStatusCancelled, CampaignStatusEnded, false},
		{"nonexistent", CampaignStatusActive, false},
		{CampaignStatusDraft, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	for _, status := range []string{CampaignStatusEnded, CampaignStatusCancelled} {
		if !IsTerminalStatus(status) {
			t.Errorf("expected %q to be terminal", status)
		}
		if len(ValidCampaignTransitions[status]) != 0 {
			t.Errorf("terminal status %q has outgoing transitions %v", status, ValidCampaignTransitions[status])
		}
	}
	for _, status := range []string{CampaignStatusDraft, CampaignStatusActive} {
		if IsTerminalStatus(status) {
			t.Errorf("expected %q not to be terminal", status)
		}
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	statuses := []string{
		CampaignStatusDraft,
		CampaignStatusActive,
		CampaignStatusEnded,
		CampaignStatusCancelled,
	}
	for _, status := range statuses {
		if _, ok := ValidCampaignTransitions[status]; !ok {
			t.Errorf("status %q missing from transition table", status)
		}
	}
}

func TestIsActivable(t *testing.T) {
	base := Campaign{
		Slug:        "summer-stamps",
		Slot:        "default",
		LoyaltyType: LoyaltyTypeStamps,
		Status:      CampaignStatusDraft,
		EndAction:   EndActionConfig{Kind: EndActionCancel},
	}

	tests := []struct {
		name    string
		mutate  func(c *Campaign)
		wantErr bool
	}{
		{"valid draft", func(c *Campaign) {}, false},
		{"already active", func(c *Campaign) { c.Status = CampaignStatusActive }, true},
		{"ended", func(c *Campaign) { c.Status = CampaignStatusEnded }, true},
		{"bad loyalty type", func(c *Campaign) { c.LoyaltyType = "karma" }, true},
		{"missing end action", func(c *Campaign) { c.EndAction = EndActionConfig{} }, true},
		{"valid convert action", func(c *Campaign) {
			c.EndAction = EndActionConfig{Kind: EndActionConvert, ConversionRatePercent: 50}
		}, false},
		{"convert without rate", func(c *Campaign) {
			c.EndAction = EndActionConfig{Kind: EndActionConvert}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.IsActivable()
			if (err != nil) != tt.wantErr {
				t.Errorf("IsActivable() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
