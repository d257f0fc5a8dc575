// Package retry is the pure decision logic for failed work units: given an
// attempt count and a failure classification, decide whether to retry, after
// what delay, or give up. It performs no I/O so policies can be unit tested
// in isolation.
package retry

import (
	"math/rand/v2"
	"time"
)

// FailureKind classifies a failed attempt.
type FailureKind string

const (
	FailureRetryable FailureKind = "retryable"
	FailurePermanent FailureKind = "permanent"
	FailureUnknown   FailureKind = "unknown"
)

// Policy bounds retry behavior.
type Policy struct {
	// MaxAttempts is the total number of attempts allowed for retryable
	// failures, including the first one.
	MaxAttempts int
	// UnknownMaxAttempts bounds units whose failures could not be classified.
	// Unknown failures fail safe toward retry but with a tighter budget.
	UnknownMaxAttempts int
	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration
	// BackoffCeiling caps the exponential growth.
	BackoffCeiling time.Duration
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide evaluates the policy for a unit that has just failed its
// attempt-th attempt. Permanent failures always give up immediately.
// Retryable and unknown failures retry with bounded exponential backoff
// until their attempt budget is spent.
func Decide(attempt int, kind FailureKind, p Policy) Decision {
	if kind == FailurePermanent {
		return Decision{}
	}

	limit := p.MaxAttempts
	if kind == FailureUnknown {
		limit = p.UnknownMaxAttempts
		if limit <= 0 || limit > p.MaxAttempts {
			limit = p.MaxAttempts
		}
	}

	if attempt >= limit {
		return Decision{}
	}
	return Decision{Retry: true, Delay: Backoff(attempt, p)}
}

// Backoff computes the delay before the retry following the attempt-th
// failure: base * 2^(attempt-1) capped at the ceiling, with equal jitter so
// concurrent retries against the supplier spread out while delays still grow
// attempt over attempt.
func Backoff(attempt int, p Policy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := p.BackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= p.BackoffCeiling {
			backoff = p.BackoffCeiling
			break
		}
	}
	if backoff > p.BackoffCeiling {
		backoff = p.BackoffCeiling
	}
	if backoff <= 0 {
		return 0
	}

	half := backoff / 2
	return half + rand.N(half+1)
}
