// Package client fetches single pages with per-attempt timeouts, bounded
// retry of transient failures and polling of queued vendor reports.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/analytics-loaders/bulkfetch/pkg/cache"
	"github.com/analytics-loaders/bulkfetch/pkg/request"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for page fetches.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_requests_total",
		Help: "Total HTTP attempts by vendor and status",
	}, []string{"vendor", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bulkfetch_request_duration_seconds",
		Help:    "HTTP attempt duration in seconds by vendor",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"vendor"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bulkfetch_retry_backoff_seconds",
		Help:    "Backoff duration before retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_outcomes_total",
		Help: "Total page outcomes by kind",
	}, []string{"kind"})
)

// ErrorClass represents a classification of failed attempts.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx and other non-retryable statuses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and quota blocks.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connection-level failures (DNS, refused).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents attempts that hit the per-attempt timeout.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassProcessing represents queued responses that are not ready yet.
	ErrorClassProcessing ErrorClass = "processing"

	// ErrorClassCancelled represents caller cancellation.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// Doer sends HTTP requests. *http.Client and *Session satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PageCache stores successful payloads so restarted runs skip fetched pages.
// *cache.Manager satisfies it.
type PageCache interface {
	Get(ctx context.Context, key cache.CacheKey) (*cache.CacheEntry, error)
	Set(ctx context.Context, key cache.CacheKey, entry *cache.CacheEntry) error
}

// QuotaGate follows the vendor quota. *ratelimit.QuotaTracker satisfies it.
type QuotaGate interface {
	ShouldAllowRequest(ctx context.Context) (bool, error)
	UpdateFromHeaders(ctx context.Context, headers http.Header) error
}

// Limiter paces attempts. *ratelimit.Pacer, *ratelimit.Window and
// ratelimit.Chain satisfy it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Fetcher executes one request spec to a typed Outcome.
type Fetcher struct {
	doer      Doer
	policy    Policy
	vendor    string
	userAgent string
	cache     PageCache
	cacheTTL  time.Duration
	quota     QuotaGate
	limiter   Limiter
	logger    zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithVendor labels logs, metrics and cache keys with the vendor name.
func WithVendor(vendor string) Option {
	return func(f *Fetcher) { f.vendor = vendor }
}

// WithUserAgent sets the User-Agent header on every attempt.
func WithUserAgent(userAgent string) Option {
	return func(f *Fetcher) { f.userAgent = userAgent }
}

// WithCache enables the page cache.
func WithCache(c PageCache) Option {
	return func(f *Fetcher) { f.cache = c }
}

// WithCacheTTL sets how long cached pages are served when the response has
// no Expires header.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) { f.cacheTTL = ttl }
}

// WithQuota gates attempts on the vendor quota.
func WithQuota(q QuotaGate) Option {
	return func(f *Fetcher) { f.quota = q }
}

// WithLimiter makes every HTTP attempt wait on l, retries and report polls
// included. A limiter error is logged and the attempt is sent anyway.
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// New creates a Fetcher.
func New(doer Doer, policy Policy, opts ...Option) (*Fetcher, error) {
	if doer == nil {
		return nil, fmt.Errorf("doer is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	f := &Fetcher{
		doer:     doer,
		policy:   policy,
		cacheTTL: cache.DefaultTTL,
		logger:   log.With().Str("component", "fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.vendor != "" {
		f.logger = f.logger.With().Str("vendor", f.vendor).Logger()
	}
	return f, nil
}

// Policy returns the retry policy of the fetcher.
func (f *Fetcher) Policy() Policy {
	return f.policy
}

// Fetch runs spec until it succeeds, exhausts its retries or fails fatally.
// It never returns an error: every failure is carried by the Outcome.
func (f *Fetcher) Fetch(ctx context.Context, spec request.Spec) Outcome {
	out := f.fetch(ctx, spec)
	out.PageID = spec.PageID
	outcomesTotal.WithLabelValues(out.Kind.String()).Inc()

	switch out.Kind {
	case OutcomeSuccess:
		f.logger.Debug().
			Int("page", spec.PageID).
			Int("status", out.Status).
			Int("attempt", out.Attempts).
			Bool("cached", out.FromCache).
			Msg("Page fetched")
	default:
		f.logger.Warn().
			Err(out.Err).
			Int("page", spec.PageID).
			Int("status", out.Status).
			Int("attempt", out.Attempts).
			Str("outcome", out.Kind.String()).
			Msg("Page failed")
	}
	return out
}

func (f *Fetcher) fetch(ctx context.Context, spec request.Spec) Outcome {
	if err := spec.Validate(); err != nil {
		return fatal(0, 0, ErrorClassClient, nil, fmt.Errorf("invalid request spec: %w", err))
	}

	key := f.cacheKey(spec)
	if f.cache != nil {
		entry, err := f.cache.Get(ctx, key)
		switch {
		case err == nil && entry != nil:
			out := success(entry.StatusCode, 0, entry.Data, entry.Headers)
			out.FromCache = true
			return out
		case err != nil && !errors.Is(err, cache.ErrCacheMiss):
			f.logger.Warn().Err(err).Int("page", spec.PageID).Msg("Cache get error")
		}
	}

	var (
		attempts  int
		transient int
		polls     int
	)

	for {
		if f.quota != nil {
			allowed, err := f.quota.ShouldAllowRequest(ctx)
			if ctx.Err() != nil {
				return fatal(0, attempts, ErrorClassCancelled, nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err()))
			}
			if err != nil {
				f.logger.Warn().Err(err).Msg("Quota check failed, sending anyway")
			} else if !allowed {
				return fatal(0, attempts, ErrorClassRateLimit, nil, ErrQuotaBlocked)
			}
		}

		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return fatal(0, attempts, ErrorClassCancelled, nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err()))
				}
				f.logger.Warn().Err(err).Int("page", spec.PageID).Msg("Rate limiter failed, sending anyway")
			}
		}

		attempts++
		res := f.attempt(ctx, spec)

		switch res.class {
		case "":
			f.store(ctx, key, res)
			return success(res.status, attempts, res.body, res.header)

		case ErrorClassCancelled:
			return fatal(res.status, attempts, ErrorClassCancelled, nil, res.err)

		case ErrorClassProcessing:
			if polls >= f.policy.AttemptCeiling {
				return exhausted(res.status, attempts, ErrorClassProcessing,
					fmt.Errorf("report still queued after %d polls", polls))
			}
			polls++
			transient = 0

			delay := f.policy.processingDelay(res.header)
			f.logger.Debug().
				Int("page", spec.PageID).
				Int("status", res.status).
				Int("attempt", attempts).
				Dur("delay", delay).
				Msg("Report queued, polling again")

			if err := f.sleep(ctx, ErrorClassProcessing, delay); err != nil {
				return fatal(res.status, attempts, ErrorClassCancelled, nil, err)
			}

		default:
			if !shouldRetry(res.class, f.policy) {
				// A status-based failure is described by the response body.
				cause := res.err
				if res.status != 0 {
					cause = nil
				}
				return fatal(res.status, attempts, res.class, res.body, cause)
			}
			transient++
			if transient >= f.policy.MaxRetries {
				return exhausted(res.status, attempts, res.class, res.err)
			}

			delay := f.policy.RetryBackoff
			if res.class == ErrorClassRateLimit {
				delay = f.policy.rateLimitDelay(res.header)
			}
			f.logger.Warn().
				Int("page", spec.PageID).
				Int("status", res.status).
				Int("attempt", attempts).
				Str("error_class", string(res.class)).
				Dur("delay", delay).
				Msg("Transient failure, retrying")

			if err := f.sleep(ctx, res.class, delay); err != nil {
				return fatal(res.status, attempts, ErrorClassCancelled, nil, err)
			}
		}
	}
}

func (f *Fetcher) sleep(ctx context.Context, class ErrorClass, delay time.Duration) error {
	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())
	return wait(ctx, delay)
}

// attemptResult is the classified result of one HTTP attempt. An empty
// class means success.
type attemptResult struct {
	status int
	header http.Header
	body   []byte
	class  ErrorClass
	err    error
}

// attempt sends spec once under the per-attempt timeout and reads the full
// body before the timeout ends.
func (f *Fetcher) attempt(ctx context.Context, spec request.Spec) attemptResult {
	attemptCtx, cancel := context.WithTimeout(ctx, f.policy.Timeout)
	defer cancel()

	req, err := spec.NewRequest(attemptCtx)
	if err != nil {
		return attemptResult{class: ErrorClassClient, err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	start := time.Now()
	resp, err := f.doer.Do(req)
	if err != nil {
		requestDuration.WithLabelValues(f.vendor).Observe(time.Since(start).Seconds())
		class := f.classifyError(ctx, err)
		requestsTotal.WithLabelValues(f.vendor, string(class)).Inc()
		return attemptResult{class: class, err: f.wrapTransportError(ctx, class, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	requestDuration.WithLabelValues(f.vendor).Observe(time.Since(start).Seconds())
	if err != nil {
		// The response never arrived in full, so no status is reported.
		class := f.classifyError(ctx, err)
		requestsTotal.WithLabelValues(f.vendor, string(class)).Inc()
		return attemptResult{header: resp.Header, class: class, err: f.wrapTransportError(ctx, class, err)}
	}

	requestsTotal.WithLabelValues(f.vendor, strconv.Itoa(resp.StatusCode)).Inc()

	if f.quota != nil {
		if err := f.quota.UpdateFromHeaders(ctx, resp.Header); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}
	}

	res := attemptResult{
		status: resp.StatusCode,
		header: resp.Header,
		body:   body,
		class:  f.classifyStatus(resp.StatusCode),
	}
	if res.class != "" && res.class != ErrorClassProcessing {
		res.err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return res
}

// classifyStatus maps an HTTP status to an error class.
func (f *Fetcher) classifyStatus(status int) ErrorClass {
	switch {
	case status >= 200 && status < 300:
		if f.policy.isProcessing(status) {
			return ErrorClassProcessing
		}
		return ""
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// classifyError maps a transport error to an error class. ctx is the
// caller's context, not the per-attempt one.
func (f *Fetcher) classifyError(ctx context.Context, err error) ErrorClass {
	if ctx.Err() != nil {
		return ErrorClassCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassNetwork
}

func (f *Fetcher) wrapTransportError(ctx context.Context, class ErrorClass, err error) error {
	if class == ErrorClassCancelled {
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	}
	return err
}

func (f *Fetcher) store(ctx context.Context, key cache.CacheKey, res attemptResult) {
	if f.cache == nil {
		return
	}
	entry := cache.NewEntry(res.status, res.header, res.body, f.cacheTTL)
	if err := f.cache.Set(ctx, key, entry); err != nil {
		f.logger.Warn().Err(err).Msg("Failed to cache page")
	}
}

// cacheKey identifies spec by method, URL, merged query and body.
func (f *Fetcher) cacheKey(spec request.Spec) cache.CacheKey {
	key := cache.CacheKey{
		Vendor: f.vendor,
		Method: spec.Method,
		Body:   spec.Body,
	}
	u, err := url.Parse(spec.URL)
	if err != nil {
		key.Endpoint = spec.URL
		key.QueryParams = spec.Query
		return key
	}
	query := u.Query()
	for name, values := range spec.Query {
		for _, v := range values {
			query.Add(name, v)
		}
	}
	u.RawQuery = ""
	u.Fragment = ""
	key.Endpoint = u.String()
	key.QueryParams = query
	return key
}
