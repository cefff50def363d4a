package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy holds the retry configuration for a single page fetch. Vendor
// constants (attempt ceilings, sleep durations) belong here, never in code.
type Policy struct {
	// MaxRetries is the number of consecutive transient failures (timeouts,
	// retried 5xx, 429) after which a page is given up.
	MaxRetries int

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// RetryBackoff is the fixed delay before retrying a transient failure.
	RetryBackoff time.Duration

	// RetryAfterHeader names the response header carrying the server's
	// suggested delay in seconds (Yandex Direct uses "retryIn").
	RetryAfterHeader string

	// ProcessingDelay is used when a queued response carries no delay header.
	ProcessingDelay time.Duration

	// AttemptCeiling bounds how many times a queued ("processing") response
	// is polled again before the page is reported as exhausted.
	AttemptCeiling int

	// ProcessingStatuses are the statuses meaning "accepted, not ready yet".
	ProcessingStatuses []int

	// RetryServerErrors treats 5xx responses as transient.
	RetryServerErrors bool
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:         5,
		Timeout:            30 * time.Second,
		RetryBackoff:       60 * time.Second,
		RetryAfterHeader:   "retryIn",
		ProcessingDelay:    60 * time.Second,
		AttemptCeiling:     30,
		ProcessingStatuses: []int{http.StatusCreated, http.StatusAccepted},
		RetryServerErrors:  true,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1 (got %d)", p.MaxRetries)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %s)", p.Timeout)
	}
	if p.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must not be negative (got %s)", p.RetryBackoff)
	}
	if p.ProcessingDelay < 0 {
		return fmt.Errorf("processing_delay must not be negative (got %s)", p.ProcessingDelay)
	}
	if p.AttemptCeiling < 0 {
		return fmt.Errorf("attempt_ceiling must not be negative (got %d)", p.AttemptCeiling)
	}
	for _, status := range p.ProcessingStatuses {
		if status < 200 || status > 299 {
			return fmt.Errorf("processing status %d is not a 2xx status", status)
		}
	}
	return nil
}

func (p Policy) isProcessing(status int) bool {
	for _, s := range p.ProcessingStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// processingDelay returns the server-suggested delay for a queued response.
func (p Policy) processingDelay(header http.Header) time.Duration {
	if d, ok := headerDelay(header, p.RetryAfterHeader); ok {
		return d
	}
	return p.ProcessingDelay
}

// rateLimitDelay honours the vendor header first, then Retry-After.
func (p Policy) rateLimitDelay(header http.Header) time.Duration {
	if d, ok := headerDelay(header, p.RetryAfterHeader); ok {
		return d
	}
	if d, ok := headerDelay(header, "Retry-After"); ok {
		return d
	}
	return p.RetryBackoff
}

// headerDelay parses an integer-seconds header value.
func headerDelay(header http.Header, name string) (time.Duration, bool) {
	if name == "" || header == nil {
		return 0, false
	}
	raw := strings.TrimSpace(header.Get(name))
	if raw == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// wait sleeps for d, returning early with ErrContextCancelled if ctx ends.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
