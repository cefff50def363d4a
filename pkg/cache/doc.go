// Package cache stores successfully fetched page payloads in Redis so an
// interrupted bulk fetch can be re-run without hitting the vendor API again
// for pages it already has.
//
// Keys are derived from the request content (vendor, method, URL, sorted
// query and a body digest), never from the page number, so a re-built batch
// maps onto the same entries even when the page order changes.
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		Vendor:      "metrika",
//		Method:      "GET",
//		Endpoint:    "https://api-metrika.yandex.net/stat/v1/data",
//		QueryParams: url.Values{"date1": {"2023-01-01"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the vendor, then:
//		_ = manager.Set(ctx, key, cache.NewEntry(resp.StatusCode, resp.Header, body, 24*time.Hour))
//	}
//
// Entry lifetime comes from the response Expires header when present and
// from the caller-provided TTL otherwise. Manager.Purge drops every entry of
// a vendor when a run must start from scratch.
package cache
