package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	quotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bulkfetch_quota_remaining",
		Help: "Requests remaining in the current vendor quota window",
	}, []string{"vendor"})

	quotaBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_quota_blocks_total",
		Help: "Total number of requests blocked due to critical vendor quota",
	}, []string{"vendor"})

	quotaThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_quota_throttles_total",
		Help: "Total number of requests throttled due to low vendor quota",
	}, []string{"vendor"})
)

// QuotaHeaders names the response headers a vendor reports its quota in.
type QuotaHeaders struct {
	// Remaining carries the requests left in the window (e.g. "X-RateLimit-Remaining").
	Remaining string

	// Reset carries the seconds until the window refills.
	Reset string
}

// TrackerOptions configures a QuotaTracker.
type TrackerOptions struct {
	Vendor     string
	Headers    QuotaHeaders
	Thresholds Thresholds

	// ThrottleDelay is slept before a request when the quota is in warning state.
	ThrottleDelay time.Duration
}

// QuotaTracker monitors a vendor's quota headers and gates requests.
type QuotaTracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	opts   TrackerOptions
}

// NewQuotaTracker creates a new quota tracker.
func NewQuotaTracker(redisClient *redis.Client, logger zerolog.Logger, opts TrackerOptions) *QuotaTracker {
	defaults := DefaultThresholds()
	if opts.Thresholds.Critical == 0 {
		opts.Thresholds.Critical = defaults.Critical
	}
	if opts.Thresholds.Warning == 0 {
		opts.Thresholds.Warning = defaults.Warning
	}
	if opts.Thresholds.Healthy == 0 {
		opts.Thresholds.Healthy = defaults.Healthy
	}
	if opts.ThrottleDelay == 0 {
		opts.ThrottleDelay = time.Second
	}
	if opts.Headers.Remaining == "" {
		opts.Headers.Remaining = "X-RateLimit-Remaining"
	}
	if opts.Headers.Reset == "" {
		opts.Headers.Reset = "X-RateLimit-Reset"
	}
	return &QuotaTracker{
		redis:  redisClient,
		logger: logger.With().Str("vendor", opts.Vendor).Logger(),
		opts:   opts,
	}
}

func (t *QuotaTracker) key(suffix string) string {
	return "bulkfetch:quota:" + t.opts.Vendor + ":" + suffix
}

// GetState retrieves the current quota state from Redis.
// Returns a default healthy state if no data exists in Redis.
func (t *QuotaTracker) GetState(ctx context.Context) (*QuotaState, error) {
	remaining, err := t.redis.Get(ctx, t.key(RedisKeyRemaining)).Int()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No quota state in Redis, returning default healthy state")
		return &QuotaState{
			Remaining:  t.opts.Thresholds.Healthy * 2,
			ResetAt:    time.Now().Add(60 * time.Second),
			LastUpdate: time.Now(),
			IsHealthy:  true,
			Thresholds: t.opts.Thresholds,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, t.key(RedisKeyResetTimestamp)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, t.key(RedisKeyLastUpdate)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &QuotaState{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
		Thresholds: t.opts.Thresholds,
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses the vendor quota headers and updates Redis state.
// Responses without the remaining header are ignored.
func (t *QuotaTracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(t.opts.Headers.Remaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", t.opts.Headers.Remaining, err)
	}

	resetStr := headers.Get(t.opts.Headers.Reset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", t.opts.Headers.Reset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", t.opts.Headers.Reset, err)
	}

	now := time.Now()
	state := &QuotaState{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
		Thresholds: t.opts.Thresholds,
	}
	state.UpdateHealth()

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	// Keys expire shortly after the reset so stale state never outlives a window.
	expiry := time.Duration(resetSeconds)*time.Second + time.Minute

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, t.key(RedisKeyRemaining), remain, expiry)
	pipe.Set(ctx, t.key(RedisKeyResetTimestamp), state.ResetAt.Unix(), expiry)
	pipe.Set(ctx, t.key(RedisKeyLastUpdate), lastUpdateJSON, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store quota state in redis: %w", err)
	}

	quotaRemaining.WithLabelValues(t.opts.Vendor).Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Vendor quota CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Vendor quota WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Vendor quota state updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on the current quota.
// Returns false if the request should be blocked due to critical quota.
// Returns true but may sleep for throttling if in warning state.
func (t *QuotaTracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get quota state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Vendor quota critical - blocking request")

		quotaBlocksTotal.WithLabelValues(t.opts.Vendor).Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Vendor quota warning - throttling request")

		quotaThrottlesTotal.WithLabelValues(t.opts.Vendor).Inc()

		timer := time.NewTimer(t.opts.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}

// Reset removes the stored quota state for the vendor.
func (t *QuotaTracker) Reset(ctx context.Context) error {
	err := t.redis.Del(ctx,
		t.key(RedisKeyRemaining),
		t.key(RedisKeyResetTimestamp),
		t.key(RedisKeyLastUpdate),
	).Err()
	if err != nil {
		return fmt.Errorf("reset quota state: %w", err)
	}
	return nil
}
