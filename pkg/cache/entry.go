package cache

import (
	"net/http"
	"time"
)

// CacheEntry is a stored page payload. Only successful pages are written.
type CacheEntry struct {
	Data       []byte      `json:"data"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`

	// Expires is when the page stops counting as fetched for a restarted run.
	Expires  time.Time `json:"expires"`
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired reports whether the entry is past Expires. A zero Expires is
// always expired.
func (e *CacheEntry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL is the remaining lifetime, never negative.
func (e *CacheEntry) TTL() time.Duration {
	return max(time.Until(e.Expires), 0)
}

// Age is how long ago the page was fetched.
func (e *CacheEntry) Age() time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	return time.Since(e.CachedAt)
}
