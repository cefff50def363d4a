// Package pagination runs batches of page requests with bounded concurrency.
//
// Vendors cap both parallel connections and request rate, so specs are run
// in sequential sub-batches of at most ConcurrencyCeiling requests, and every
// HTTP request, retries and report polls included, waits for a slot from a
// pacer allowing MaxRequestsPerSecond.
//
// Example usage:
//
//	specs, _ := request.PeriodBuilder{...}.Build()
//	fetcher := pagination.NewBatchFetcher(pagination.DefaultConfig(),
//		pagination.WithClientOptions(client.WithVendor("callibri")))
//	outcomes, err := fetcher.FetchAll(ctx, specs)
//
// The batch fetcher:
//   - Opens one connection pool per FetchAll and closes it on return
//   - Waits for every page of a sub-batch before starting the next
//   - Returns outcomes in submission order
//   - Reports failed pages as outcomes instead of aborting
//   - Checks for cancellation only between sub-batches
package pagination
