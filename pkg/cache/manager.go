package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCacheMiss means no live entry exists for the key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry means the stored value could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// purgeBatch is the SCAN page size used by Purge.
const purgeBatch = 500

// Manager stores page payloads in Redis so a restarted run skips pages it
// already fetched.
type Manager struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewManager creates a cache manager on top of redisClient.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:  redisClient,
		logger: log.With().Str("component", "page-cache").Logger(),
	}
}

// Get returns the live entry for key, or ErrCacheMiss. Undecodable values
// are dropped so the page is fetched again.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	raw, err := m.redis.Get(ctx, key.String()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		CacheMisses.WithLabelValues(key.Vendor).Inc()
		return nil, ErrCacheMiss
	case err != nil:
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	entry := &CacheEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Dropping undecodable cache entry")
		_ = m.Delete(ctx, key)
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.WithLabelValues(key.Vendor).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(key.Vendor).Inc()
	return entry, nil
}

// Set stores entry until its Expires time. Expired entries are not written.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}
	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := m.redis.Set(ctx, key.String(), raw, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheSize.Add(float64(len(raw)))
	return nil
}

// Delete removes the entry for key.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Purge removes every entry stored for vendor and returns how many were
// removed. It forces the next run to fetch all pages again.
func (m *Manager) Purge(ctx context.Context, vendor string) (int, error) {
	if vendor == "" {
		return 0, errors.New("purge requires a vendor")
	}
	pattern := CacheKey{Vendor: vendor}.prefix() + "*"

	removed := 0
	var cursor uint64
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, pattern, purgeBatch).Result()
		if err != nil {
			CacheErrors.WithLabelValues("purge").Inc()
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := m.redis.Unlink(ctx, keys...).Result()
			if err != nil {
				CacheErrors.WithLabelValues("purge").Inc()
				return removed, fmt.Errorf("redis unlink: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	m.logger.Info().Str("vendor", vendor).Int("removed", removed).Msg("Page cache purged")
	return removed, nil
}
