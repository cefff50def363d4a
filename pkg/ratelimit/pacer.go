package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	limiterWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_rate_limit_waits_total",
		Help: "Total number of dispatches that had to wait for a rate limiter",
	}, []string{"limiter"})

	limiterWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bulkfetch_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a rate limiter before dispatch",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"limiter"})
)

// Limiter gates request dispatch. Wait blocks until the caller may send one
// request or ctx ends.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Pacer spaces dispatches so that no more than perSecond of them start in
// any one-second window. Burst is fixed at 1, which keeps the guarantee for
// every half-open window and not just on average.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer allowing perSecond dispatches per second.
func NewPacer(perSecond int) (*Pacer, error) {
	if perSecond < 1 {
		return nil, fmt.Errorf("requests per second must be >= 1 (got %d)", perSecond)
	}
	interval := time.Second / time.Duration(perSecond)
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}, nil
}

// Wait blocks until the next dispatch slot.
func (p *Pacer) Wait(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	observeWait("pacer", time.Since(start))
	return nil
}

// Chain applies several limiters in order. A nil entry is skipped.
type Chain []Limiter

// Wait waits on every limiter of the chain.
func (c Chain) Wait(ctx context.Context) error {
	for _, l := range c {
		if l == nil {
			continue
		}
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func observeWait(limiter string, waited time.Duration) {
	if waited < time.Millisecond {
		return
	}
	limiterWaitsTotal.WithLabelValues(limiter).Inc()
	limiterWaitSeconds.WithLabelValues(limiter).Observe(waited.Seconds())
}
