package cache

import (
	"testing"
	"time"
)

func TestCacheEntry_Lifetime(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		expires     time.Time
		wantExpired bool
		wantTTLMin  time.Duration
		wantTTLMax  time.Duration
	}{
		{"one hour left", now.Add(time.Hour), false, 59 * time.Minute, time.Hour},
		{"default ttl left", now.Add(DefaultTTL), false, DefaultTTL - time.Second, DefaultTTL},
		{"expired an hour ago", now.Add(-time.Hour), true, 0, 0},
		{"expired a second ago", now.Add(-time.Second), true, 0, 0},
		{"zero expires", time.Time{}, true, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{Expires: tt.expires}

			if got := entry.IsExpired(); got != tt.wantExpired {
				t.Errorf("IsExpired() = %v, want %v", got, tt.wantExpired)
			}
			if got := entry.TTL(); got < tt.wantTTLMin || got > tt.wantTTLMax {
				t.Errorf("TTL() = %v, want between %v and %v", got, tt.wantTTLMin, tt.wantTTLMax)
			}
		})
	}
}

func TestCacheEntry_Age(t *testing.T) {
	if got := (&CacheEntry{}).Age(); got != 0 {
		t.Errorf("Age() of unset CachedAt = %v, want 0", got)
	}

	entry := &CacheEntry{CachedAt: time.Now().Add(-90 * time.Second)}
	if got := entry.Age(); got < 90*time.Second || got > 91*time.Second {
		t.Errorf("Age() = %v, want ~90s", got)
	}
}
