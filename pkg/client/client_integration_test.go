//go:build integration

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/analytics-loaders/bulkfetch/pkg/cache"
	"github.com/analytics-loaders/bulkfetch/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	tcwait "github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   tcwait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_RestartableRun(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	var requestsMade atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestsMade.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[1,2,3]}`))
	}))
	defer server.Close()

	manager := cache.NewManager(redisClient)
	ctx := context.Background()
	spec := getSpec(server.URL + "/stat/v1/data")

	// Two fetchers stand in for two runs of the same loader.
	for run := 1; run <= 2; run++ {
		f, err := New(http.DefaultClient, testPolicy(),
			WithVendor("metrika"), WithCache(manager), WithLogger(zerolog.Nop()))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		out := f.Fetch(ctx, spec)
		if !out.OK() {
			t.Fatalf("run %d: Kind = %s, err = %v", run, out.Kind, out.Err)
		}
		if wantCached := run == 2; out.FromCache != wantCached {
			t.Errorf("run %d: FromCache = %v, want %v", run, out.FromCache, wantCached)
		}
	}

	if requestsMade.Load() != 1 {
		t.Errorf("requests = %d, want 1", requestsMade.Load())
	}
}

func TestIntegration_CacheExpiration(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	var requestsMade atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestsMade.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	f, err := New(http.DefaultClient, testPolicy(),
		WithVendor("callibri"),
		WithCache(cache.NewManager(redisClient)),
		WithCacheTTL(time.Second),
		WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	f.Fetch(ctx, getSpec(server.URL))
	time.Sleep(1500 * time.Millisecond)
	out := f.Fetch(ctx, getSpec(server.URL))

	if out.FromCache {
		t.Error("expired page served from cache")
	}
	if requestsMade.Load() != 2 {
		t.Errorf("requests = %d, want 2", requestsMade.Load())
	}
}

func TestIntegration_QuotaTracking(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	var requestsMade atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestsMade.Add(1)
		w.Header().Set("X-RateLimit-Remaining", "2")
		w.Header().Set("X-RateLimit-Reset", "60")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tracker := ratelimit.NewQuotaTracker(redisClient, zerolog.Nop(), ratelimit.TrackerOptions{Vendor: "webmaster"})
	f, err := New(http.DefaultClient, testPolicy(), WithVendor("webmaster"), WithQuota(tracker), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if out := f.Fetch(ctx, getSpec(server.URL)); !out.OK() {
		t.Fatalf("first fetch: Kind = %s, err = %v", out.Kind, out.Err)
	}

	// The first response reported a critical quota.
	out := f.Fetch(ctx, getSpec(server.URL))
	if out.Kind != OutcomeFatal || !errors.Is(out.Err, ErrQuotaBlocked) {
		t.Errorf("second fetch: Kind = %s, Err = %v, want fatal ErrQuotaBlocked", out.Kind, out.Err)
	}
	if requestsMade.Load() != 1 {
		t.Errorf("requests = %d, want 1", requestsMade.Load())
	}
}
