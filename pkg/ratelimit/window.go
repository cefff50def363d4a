package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// windowScript admits one dispatch into a rolling window stored as a sorted
// set of dispatch timestamps. It returns 0 when admitted, otherwise the
// number of milliseconds until the oldest entry leaves the window. Time comes
// from the Redis server so every process shares one clock.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local member = ARGV[3]

local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  return 0
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
  wait = 1
end
return wait
`)

// Window is a sliding-window limiter shared by every process using the same
// Redis key. At most Limit dispatches are admitted per Period.
type Window struct {
	redis  *redis.Client
	key    string
	limit  int
	period time.Duration
	logger zerolog.Logger
}

// NewWindow creates a shared limiter for the given vendor.
func NewWindow(redisClient *redis.Client, vendor string, limit int, period time.Duration, logger zerolog.Logger) (*Window, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if limit < 1 {
		return nil, fmt.Errorf("window limit must be >= 1 (got %d)", limit)
	}
	if period <= 0 {
		period = time.Second
	}
	return &Window{
		redis:  redisClient,
		key:    "bulkfetch:window:" + vendor,
		limit:  limit,
		period: period,
		logger: logger.With().Str("vendor", vendor).Logger(),
	}, nil
}

// Wait blocks until the shared window admits a dispatch.
func (w *Window) Wait(ctx context.Context) error {
	start := time.Now()
	for {
		member, err := uniqueMember()
		if err != nil {
			return err
		}

		waitMs, err := windowScript.Run(ctx, w.redis, []string{w.key},
			w.limit, w.period.Milliseconds(), member).Int64()
		if err != nil {
			return fmt.Errorf("window admit: %w", err)
		}
		if waitMs == 0 {
			observeWait("window", time.Since(start))
			return nil
		}

		w.logger.Debug().Int64("wait_ms", waitMs).Msg("Shared rate window full, waiting")

		timer := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("window wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func uniqueMember() (string, error) {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate window member: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
