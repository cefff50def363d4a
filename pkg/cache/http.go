package cache

import (
	"net/http"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when neither an Expires header nor a
	// caller TTL is available.
	DefaultTTL = 24 * time.Hour
)

// NewEntry builds a cache entry from a fetched page.
func NewEntry(status int, header http.Header, body []byte, ttl time.Duration) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Data:       body,
		StatusCode: status,
		Headers:    header.Clone(),
		Expires:    parseExpires(header, ttl),
		CachedAt:   now,
	}
}

// parseExpires returns the Expires header time, or now + ttl when the header
// is absent or unparseable. A past Expires yields an already-expired entry.
func parseExpires(headers http.Header, ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return time.Now().Add(ttl)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return time.Now().Add(ttl)
	}

	if expires.Before(time.Now()) {
		return time.Now()
	}

	return expires
}
