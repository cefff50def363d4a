// Package ratelimit paces request dispatch and tracks vendor quotas.
//
// Three pieces cooperate:
//   - Pacer caps dispatches per second inside one process.
//   - Window enforces a rolling one-second ceiling shared through Redis, for
//     loaders that run several processes against the same vendor account.
//   - QuotaTracker follows a vendor's remaining-quota headers and blocks or
//     throttles requests as the quota runs out.
package ratelimit

import (
	"time"
)

// Redis key suffixes for quota state storage. Keys are prefixed with
// "bulkfetch:quota:<vendor>:".
const (
	RedisKeyRemaining      = "remaining"
	RedisKeyResetTimestamp = "reset_timestamp"
	RedisKeyLastUpdate     = "last_update"
)

// Default thresholds for quota decisions.
const (
	// QuotaThresholdCritical blocks all requests when remaining quota falls below this value.
	QuotaThresholdCritical = 5

	// QuotaThresholdWarning applies throttling when remaining quota falls below this value.
	QuotaThresholdWarning = 20

	// QuotaThresholdHealthy indicates normal operation.
	QuotaThresholdHealthy = 50
)

// Thresholds configures when the quota state turns critical or warning.
type Thresholds struct {
	Critical int
	Warning  int
	Healthy  int
}

// DefaultThresholds returns the package default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: QuotaThresholdCritical,
		Warning:  QuotaThresholdWarning,
		Healthy:  QuotaThresholdHealthy,
	}
}

// QuotaState represents a vendor's remaining request quota.
// The state is shared across loader processes via Redis.
type QuotaState struct {
	// Remaining is the number of requests (or units) left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the vendor refills the quota.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from response headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= Thresholds.Healthy.
	IsHealthy bool `json:"is_healthy"`

	Thresholds Thresholds `json:"-"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *QuotaState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked.
// A quota whose reset time has passed is never blocking.
func (s *QuotaState) NeedsCriticalBlock() bool {
	if !s.ResetAt.IsZero() && s.TimeUntilReset() == 0 {
		return false
	}
	return s.Remaining < s.thresholds().Critical
}

// NeedsThrottling returns true if requests should be throttled.
func (s *QuotaState) NeedsThrottling() bool {
	if !s.ResetAt.IsZero() && s.TimeUntilReset() == 0 {
		return false
	}
	return s.Remaining < s.thresholds().Warning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the quota resets.
// Returns 0 if the reset time has already passed.
func (s *QuotaState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *QuotaState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= s.thresholds().Healthy
}

func (s *QuotaState) thresholds() Thresholds {
	if s.Thresholds == (Thresholds{}) {
		return DefaultThresholds()
	}
	return s.Thresholds
}
