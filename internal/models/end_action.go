package models

import "fmt"

// End-action kinds. The kind selects which fields of EndActionConfig are
// required; unknown kinds are rejected at activation time, not at execution
// time.
const (
	EndActionConvert = "convert"
	EndActionCancel  = "cancel"
)

// EndActionConfig is the tagged variant describing what happens to a
// campaign's residual pending rewards when the campaign ends.
//
//   - convert: pending rewards become reward issuance work units, optionally
//     gated by a qualifying threshold and scaled by a conversion rate.
//   - cancel: pending rewards are removed and cancellation events emitted.
type EndActionConfig struct {
	Kind                  string `json:"kind"`
	ConversionRatePercent int    `json:"conversion_rate_percent,omitempty"`
	QualifyingThreshold   int    `json:"qualifying_threshold,omitempty"`
}

func (c EndActionConfig) Validate() error {
	switch c.Kind {
	case EndActionConvert:
		if c.ConversionRatePercent <= 0 || c.ConversionRatePercent > 100 {
			return fmt.Errorf("conversion rate must be in (0, 100], got %d", c.ConversionRatePercent)
		}
		if c.QualifyingThreshold < 0 {
			return fmt.Errorf("qualifying threshold must not be negative, got %d", c.QualifyingThreshold)
		}
		return nil
	case EndActionCancel:
		return nil
	case "":
		return fmt.Errorf("end action kind is required")
	default:
		return fmt.Errorf("unknown end action kind %q", c.Kind)
	}
}
