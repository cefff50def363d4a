package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", p.MaxRetries)
	}
	if p.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", p.Timeout)
	}
	if p.RetryAfterHeader != "retryIn" {
		t.Errorf("RetryAfterHeader = %q, want retryIn", p.RetryAfterHeader)
	}
	if p.ProcessingDelay != 60*time.Second {
		t.Errorf("ProcessingDelay = %v, want 60s", p.ProcessingDelay)
	}
	if !p.isProcessing(http.StatusCreated) || !p.isProcessing(http.StatusAccepted) {
		t.Error("201 and 202 should be processing statuses")
	}
	if p.isProcessing(http.StatusOK) {
		t.Error("200 should not be a processing status")
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero max retries", func(p *Policy) { p.MaxRetries = 0 }},
		{"zero timeout", func(p *Policy) { p.Timeout = 0 }},
		{"negative backoff", func(p *Policy) { p.RetryBackoff = -time.Second }},
		{"negative processing delay", func(p *Policy) { p.ProcessingDelay = -time.Second }},
		{"negative ceiling", func(p *Policy) { p.AttemptCeiling = -1 }},
		{"non-2xx processing status", func(p *Policy) { p.ProcessingStatuses = []int{302} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestPolicy_ProcessingDelay(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name   string
		header http.Header
		want   time.Duration
	}{
		{"header present", http.Header{"Retryin": {"5"}}, 5 * time.Second},
		{"header with spaces", http.Header{"Retryin": {" 2 "}}, 2 * time.Second},
		{"zero", http.Header{"Retryin": {"0"}}, 0},
		{"missing header", http.Header{}, 60 * time.Second},
		{"not a number", http.Header{"Retryin": {"soon"}}, 60 * time.Second},
		{"negative", http.Header{"Retryin": {"-3"}}, 60 * time.Second},
		{"nil header", nil, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.processingDelay(tt.header); got != tt.want {
				t.Errorf("processingDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_RateLimitDelay(t *testing.T) {
	p := DefaultPolicy()
	p.RetryBackoff = 7 * time.Second

	tests := []struct {
		name   string
		header http.Header
		want   time.Duration
	}{
		{"vendor header wins", http.Header{"Retryin": {"3"}, "Retry-After": {"9"}}, 3 * time.Second},
		{"retry-after", http.Header{"Retry-After": {"9"}}, 9 * time.Second},
		{"fallback backoff", http.Header{}, 7 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.rateLimitDelay(tt.header); got != tt.want {
				t.Errorf("rateLimitDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_CustomRetryHeader(t *testing.T) {
	p := DefaultPolicy()
	p.RetryAfterHeader = "X-Report-Wait"

	header := http.Header{}
	header.Set("X-Report-Wait", "4")
	header.Set("retryIn", "30")

	if got := p.processingDelay(header); got != 4*time.Second {
		t.Errorf("processingDelay() = %v, want 4s", got)
	}
}

func TestWait(t *testing.T) {
	start := time.Now()
	if err := wait(context.Background(), 50*time.Millisecond); err != nil {
		t.Fatalf("wait() error = %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("wait() returned early")
	}

	if err := wait(context.Background(), 0); err != nil {
		t.Errorf("wait(0) error = %v", err)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := wait(ctx, 5*time.Second)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("wait() error = %v, want ErrContextCancelled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("wait() ignored cancellation")
	}
}
