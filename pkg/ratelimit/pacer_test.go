package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewPacer_Invalid(t *testing.T) {
	for _, n := range []int{0, -3} {
		if _, err := NewPacer(n); err == nil {
			t.Errorf("NewPacer(%d) expected error", n)
		}
	}
}

func TestPacer_RespectsRate(t *testing.T) {
	const perSecond = 10
	pacer, err := NewPacer(perSecond)
	if err != nil {
		t.Fatalf("NewPacer() error = %v", err)
	}

	ctx := context.Background()
	var stamps []time.Time
	for i := 0; i < 25; i++ {
		if err := pacer.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		stamps = append(stamps, time.Now())
	}

	// Any perSecond+1 consecutive dispatches must span at least one second.
	tolerance := 20 * time.Millisecond
	for i := perSecond; i < len(stamps); i++ {
		span := stamps[i].Sub(stamps[i-perSecond])
		if span < time.Second-tolerance {
			t.Errorf("dispatches %d..%d span %v, want >= 1s", i-perSecond, i, span)
		}
	}
}

func TestPacer_ContextCancelled(t *testing.T) {
	pacer, err := NewPacer(1)
	if err != nil {
		t.Fatalf("NewPacer() error = %v", err)
	}

	// First token is available immediately.
	if err := pacer.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := pacer.Wait(ctx); err == nil {
		t.Error("Wait() expected error for cancelled context")
	}
}

type countingLimiter struct {
	calls int
	err   error
}

func (c *countingLimiter) Wait(context.Context) error {
	c.calls++
	return c.err
}

func TestChain_Wait(t *testing.T) {
	first := &countingLimiter{}
	failing := &countingLimiter{err: errors.New("redis down")}
	last := &countingLimiter{}

	if err := (Chain{first, nil, last}).Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if first.calls != 1 || last.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", first.calls, last.calls)
	}

	err := (Chain{first, failing, last}).Wait(context.Background())
	if err == nil {
		t.Fatal("expected error from failing limiter")
	}
	if last.calls != 1 {
		t.Error("limiter after a failure must not be called")
	}
}
