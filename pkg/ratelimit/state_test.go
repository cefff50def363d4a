package ratelimit

import (
	"testing"
	"time"
)

func TestQuotaState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *QuotaState
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &QuotaState{LastUpdate: time.Now()},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &QuotaState{LastUpdate: time.Now().Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "just under max age",
			state:    &QuotaState{LastUpdate: time.Now().Add(-4 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.state.IsStale(tt.maxAge); result != tt.expected {
				t.Errorf("IsStale() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestQuotaState_NeedsCriticalBlock(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		resetAt   time.Time
		expected  bool
	}{
		{"well above critical threshold", 50, time.Now().Add(time.Minute), false},
		{"at critical threshold", QuotaThresholdCritical, time.Now().Add(time.Minute), false},
		{"just below critical threshold", QuotaThresholdCritical - 1, time.Now().Add(time.Minute), true},
		{"zero remaining", 0, time.Now().Add(time.Minute), true},
		{"zero remaining after reset", 0, time.Now().Add(-time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &QuotaState{Remaining: tt.remaining, ResetAt: tt.resetAt}
			if result := state.NeedsCriticalBlock(); result != tt.expected {
				t.Errorf("NeedsCriticalBlock() = %v, want %v (remaining=%d)", result, tt.expected, tt.remaining)
			}
		})
	}
}

func TestQuotaState_NeedsThrottling(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		expected  bool
	}{
		{"healthy", 50, false},
		{"at warning threshold", QuotaThresholdWarning, false},
		{"just below warning threshold", QuotaThresholdWarning - 1, true},
		{"just above critical threshold", QuotaThresholdCritical, true},
		{"critical is not throttling", QuotaThresholdCritical - 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &QuotaState{Remaining: tt.remaining, ResetAt: time.Now().Add(time.Minute)}
			if result := state.NeedsThrottling(); result != tt.expected {
				t.Errorf("NeedsThrottling() = %v, want %v (remaining=%d)", result, tt.expected, tt.remaining)
			}
		})
	}
}

func TestQuotaState_CustomThresholds(t *testing.T) {
	state := &QuotaState{
		Remaining:  90,
		ResetAt:    time.Now().Add(time.Minute),
		Thresholds: Thresholds{Critical: 100, Warning: 500, Healthy: 1000},
	}

	if !state.NeedsCriticalBlock() {
		t.Error("expected critical block with custom thresholds")
	}

	state.Remaining = 400
	if !state.NeedsThrottling() {
		t.Error("expected throttling with custom thresholds")
	}

	state.UpdateHealth()
	if state.IsHealthy {
		t.Error("expected unhealthy below custom healthy threshold")
	}
}

func TestQuotaState_TimeUntilReset(t *testing.T) {
	tests := []struct {
		name     string
		resetAt  time.Time
		expected time.Duration
		delta    time.Duration
	}{
		{"reset in future", time.Now().Add(30 * time.Second), 30 * time.Second, time.Second},
		{"reset in past", time.Now().Add(-10 * time.Second), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &QuotaState{ResetAt: tt.resetAt}
			result := state.TimeUntilReset()
			diff := result - tt.expected
			if diff < 0 {
				diff = -diff
			}
			if diff > tt.delta {
				t.Errorf("TimeUntilReset() = %v, want %v (±%v)", result, tt.expected, tt.delta)
			}
		})
	}
}

func TestQuotaState_UpdateHealth(t *testing.T) {
	tests := []struct {
		remaining int
		expected  bool
	}{
		{100, true},
		{QuotaThresholdHealthy, true},
		{QuotaThresholdHealthy - 1, false},
		{0, false},
	}

	for _, tt := range tests {
		state := &QuotaState{Remaining: tt.remaining}
		state.UpdateHealth()
		if state.IsHealthy != tt.expected {
			t.Errorf("UpdateHealth() remaining=%d IsHealthy = %v, want %v", tt.remaining, state.IsHealthy, tt.expected)
		}
	}
}
