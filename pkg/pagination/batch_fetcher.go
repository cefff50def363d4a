package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/analytics-loaders/bulkfetch/pkg/client"
	"github.com/analytics-loaders/bulkfetch/pkg/ratelimit"
	"github.com/analytics-loaders/bulkfetch/pkg/request"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	subBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bulkfetch_sub_batches_total",
		Help: "Total number of sub-batches dispatched",
	})

	inFlightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bulkfetch_in_flight_requests",
		Help: "Number of page fetches currently in flight",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bulkfetch_batch_duration_seconds",
		Help:    "Duration of FetchAll calls in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
)

// Config holds batch fetcher configuration
type Config struct {
	// ConcurrencyCeiling is the sub-batch size and the maximum number of
	// requests in flight at once
	ConcurrencyCeiling int

	// MaxRequestsPerSecond caps HTTP requests in any one-second window,
	// retries and report polls included
	MaxRequestsPerSecond int

	// Policy is the retry policy applied to every page
	Policy client.Policy
}

// DefaultConfig returns a conservative configuration
func DefaultConfig() Config {
	return Config{
		ConcurrencyCeiling:   10,
		MaxRequestsPerSecond: 5,
		Policy:               client.DefaultPolicy(),
	}
}

// Validate checks the batch configuration
func (c Config) Validate() error {
	if c.ConcurrencyCeiling < 1 {
		return fmt.Errorf("concurrency ceiling must be >= 1 (got %d)", c.ConcurrencyCeiling)
	}
	if c.MaxRequestsPerSecond < 1 {
		return fmt.Errorf("max requests per second must be >= 1 (got %d)", c.MaxRequestsPerSecond)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	return nil
}

// PageFetcher fetches one page to a typed outcome. *client.Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, spec request.Spec) client.Outcome
}

// FetcherFactory builds the page fetcher for one batch on top of the batch's
// connection pool. The fetcher must wait on limiter before every request it
// sends.
type FetcherFactory func(doer client.Doer, policy client.Policy, limiter client.Limiter) (PageFetcher, error)

// BatchFetcher runs request specs in sequential sub-batches
type BatchFetcher struct {
	config  Config
	factory FetcherFactory
	limiter ratelimit.Limiter
	logger  zerolog.Logger
}

// Option configures a BatchFetcher
type Option func(*BatchFetcher)

// WithClientOptions configures the default page fetcher.
func WithClientOptions(opts ...client.Option) Option {
	return func(bf *BatchFetcher) { bf.factory = clientFactory(opts) }
}

// WithFetcherFactory replaces how page fetchers are built.
func WithFetcherFactory(factory FetcherFactory) Option {
	return func(bf *BatchFetcher) { bf.factory = factory }
}

// WithLimiter adds a limiter consulted after the local pacer on every
// request, such as a ratelimit.Window shared with other processes.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(bf *BatchFetcher) { bf.limiter = l }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(bf *BatchFetcher) { bf.logger = logger }
}

// NewBatchFetcher creates a new batch fetcher. The configuration is checked
// by FetchAll.
func NewBatchFetcher(config Config, opts ...Option) *BatchFetcher {
	bf := &BatchFetcher{
		config:  config,
		factory: clientFactory(nil),
		logger:  log.With().Str("component", "batch-fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(bf)
	}
	return bf
}

func clientFactory(opts []client.Option) FetcherFactory {
	return func(doer client.Doer, policy client.Policy, limiter client.Limiter) (PageFetcher, error) {
		all := append([]client.Option{client.WithLimiter(limiter)}, opts...)
		f, err := client.New(doer, policy, all...)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// FetchAll fetches every spec and returns one outcome per spec in
// submission order. Failed pages are reported in their outcomes and never
// abort the batch.
//
// Cancellation is observed between sub-batches only: a sub-batch that has
// started runs to completion. On cancellation the outcomes collected so far
// are returned with ctx.Err().
func (bf *BatchFetcher) FetchAll(ctx context.Context, specs []request.Spec) ([]client.Outcome, error) {
	if err := bf.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch config: %w", err)
	}
	if len(specs) == 0 {
		return []client.Outcome{}, nil
	}

	start := time.Now()
	defer func() {
		batchDuration.Observe(time.Since(start).Seconds())
	}()

	pacer, err := ratelimit.NewPacer(bf.config.MaxRequestsPerSecond)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.Chain{pacer, bf.limiter}

	session := client.NewSession(bf.config.ConcurrencyCeiling)
	defer session.Close()

	fetcher, err := bf.factory(session, bf.config.Policy, limiter)
	if err != nil {
		return nil, fmt.Errorf("create page fetcher: %w", err)
	}

	size := bf.config.ConcurrencyCeiling
	subBatches := (len(specs) + size - 1) / size

	bf.logger.Info().
		Int("pages", len(specs)).
		Int("sub_batches", subBatches).
		Int("concurrency", size).
		Int("rate", bf.config.MaxRequestsPerSecond).
		Msg("Starting batch fetch")

	outcomes := make([]client.Outcome, 0, len(specs))
	for i := 0; i < subBatches; i++ {
		if err := ctx.Err(); err != nil {
			bf.logger.Warn().
				Int("fetched", len(outcomes)).
				Int("total", len(specs)).
				Msg("Batch cancelled between sub-batches")
			return outcomes, err
		}

		lo := i * size
		hi := min(lo+size, len(specs))
		outcomes = append(outcomes, bf.runSubBatch(ctx, fetcher, specs[lo:hi], i)...)
	}

	summary := Summarize(outcomes)
	bf.logger.Info().
		Int("pages", len(outcomes)).
		Int("success", summary.Success).
		Int("exhausted", summary.Exhausted).
		Int("fatal", summary.Fatal).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return outcomes, nil
}

// runSubBatch starts every spec and waits for all of them. Pacing happens in
// the fetcher, per request. Outcomes are stored by index, so they come back
// in input order.
func (bf *BatchFetcher) runSubBatch(ctx context.Context, fetcher PageFetcher, specs []request.Spec, index int) []client.Outcome {
	subBatchesTotal.Inc()

	// A started sub-batch is never interrupted.
	detached := context.WithoutCancel(ctx)

	bf.logger.Debug().
		Int("sub_batch", index).
		Int("pages", len(specs)).
		Msg("Dispatching sub-batch")

	results := make([]client.Outcome, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		inFlightRequests.Inc()
		go func(i int, spec request.Spec) {
			defer wg.Done()
			defer inFlightRequests.Dec()
			results[i] = fetcher.Fetch(detached, spec)
		}(i, spec)
	}
	wg.Wait()

	return results
}

// Summary counts outcomes by kind.
type Summary struct {
	Success   int
	Exhausted int
	Fatal     int
}

// Summarize counts outcomes by kind.
func Summarize(outcomes []client.Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch o.Kind {
		case client.OutcomeSuccess:
			s.Success++
		case client.OutcomeRetriesExhausted:
			s.Exhausted++
		case client.OutcomeFatal:
			s.Fatal++
		}
	}
	return s
}
