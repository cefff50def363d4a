//go:build integration

package main

import (
	"context"
	"testing"

	"github.com/analytics-loaders/bulkfetch/internal/testutil"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis starts a Redis container and returns its redis:// URL.
func startRedis(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { redisC.Terminate(ctx) })

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return "redis://" + host + ":" + port.Port() + "/0"
}

func TestRunCmd_CachedRerun(t *testing.T) {
	t.Setenv("REDIS_URL", startRedis(t))
	t.Setenv("METRICS_ADDR", "")

	mock := testutil.NewMockVendor()
	defer mock.Close()

	cfgPath := writeConfig(t, mock.URL(), `    shared_rate_limit: true
    cache:
      enabled: true
      ttl: 10m
    quota:
      critical: 1
`)
	args := []string{"run", "--config", cfgPath, "--vendor", "mock",
		"--endpoint", "stats", "--from", "2024-01-01", "--to", "2024-01-08"}

	t.Log("Run 1: pages from the vendor")
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("run 1 error = %v", err)
	}
	for _, rec := range readRecords(t, out) {
		if rec.FromCache {
			t.Errorf("run 1 page %d came from cache", rec.Page)
		}
	}
	if got := mock.RequestCount(); got != 3 {
		t.Fatalf("after run 1: vendor requests = %d, want 3", got)
	}

	t.Log("Run 2: pages from the cache")
	out, err = execute(t, args...)
	if err != nil {
		t.Fatalf("run 2 error = %v", err)
	}
	for _, rec := range readRecords(t, out) {
		if !rec.FromCache {
			t.Errorf("run 2 page %d was fetched again", rec.Page)
		}
	}
	if got := mock.RequestCount(); got != 3 {
		t.Errorf("after run 2: vendor requests = %d, want 3", got)
	}

	t.Log("Run 3: --refresh drops the cache")
	if _, err := execute(t, append(args, "--refresh")...); err != nil {
		t.Fatalf("run 3 error = %v", err)
	}
	if got := mock.RequestCount(); got != 6 {
		t.Errorf("after run 3: vendor requests = %d, want 6", got)
	}
}
