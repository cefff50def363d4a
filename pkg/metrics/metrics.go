// Package metrics exposes the bulkfetch Prometheus metrics.
// All metrics are defined in their respective packages (client, pagination,
// ratelimit, cache) and registered via promauto on the default registry.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by bulkfetch.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		logger.Info().Msg("Metrics server stopped")
		return nil
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - bulkfetch_requests_total{vendor, status} (Counter): HTTP attempts by vendor and status
//     (status is the HTTP code, or timeout/network/cancelled)
//   - bulkfetch_request_duration_seconds{vendor} (Histogram): Attempt duration by vendor
//   - bulkfetch_outcomes_total{kind} (Counter): Page outcomes (success, retries_exhausted, fatal)
//
// Retry Metrics (pkg/client):
//   - bulkfetch_retries_total{error_class} (Counter): Retries and queued-report polls by class
//   - bulkfetch_retry_backoff_seconds{error_class} (Histogram): Sleep before each retry
//
// Batch Metrics (pkg/pagination):
//   - bulkfetch_sub_batches_total (Counter): Sub-batches dispatched
//   - bulkfetch_in_flight_requests (Gauge): Page fetches in flight
//   - bulkfetch_batch_duration_seconds (Histogram): FetchAll duration
//
// Rate Limit Metrics (pkg/ratelimit):
//   - bulkfetch_rate_limit_waits_total{limiter} (Counter): Dispatches delayed by pacer or window
//   - bulkfetch_rate_limit_wait_seconds{limiter} (Histogram): Time spent waiting
//   - bulkfetch_quota_remaining{vendor} (Gauge): Vendor quota left
//   - bulkfetch_quota_blocks_total{vendor} (Counter): Requests blocked by critical quota
//   - bulkfetch_quota_throttles_total{vendor} (Counter): Requests throttled by low quota
//
// Cache Metrics (pkg/cache):
//   - bulkfetch_cache_hits_total{vendor} (Counter): Pages served from cache
//   - bulkfetch_cache_misses_total{vendor} (Counter): Cache misses
//   - bulkfetch_cache_written_bytes_total (Counter): Bytes written to the cache
//   - bulkfetch_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Failed page ratio
//   sum(rate(bulkfetch_outcomes_total{kind!="success"}[15m])) /
//   sum(rate(bulkfetch_outcomes_total[15m]))
//
//   # Queued report polling per vendor
//   rate(bulkfetch_retries_total{error_class="processing"}[5m])
//
//   # P95 attempt latency
//   histogram_quantile(0.95, rate(bulkfetch_request_duration_seconds_bucket[5m]))
