// Package pagination loads large persisted collections in parallel batches.
//
// A load counts the records of each collection, splits the requested window
// into fixed-size batches (see ComputeOverlap and PlanBatches) and fetches
// them on a bounded worker pool. Batches complete in any order, but results
// are assembled by (collection, batch sequence) so the output order is
// deterministic.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(st)
//	res, err := fetcher.Collect(ctx, []string{"seen-example-com"}, pagination.DefaultOptions())
//	items := res.Flatten()
//
// Collect keeps every record in memory. Stream hands each batch to a callback
// instead and can resume an interrupted run through a Ledger:
//
//	ledger := pagination.NewLedger(kv, "", 0)
//	err := fetcher.Stream(ctx, ids, process, pagination.StreamOptions{
//		Options: pagination.DefaultOptions(),
//		Ledger:  ledger,
//	})
//
// The first failed batch cancels the rest of the load and is returned as a
// *FetchError. No partial results are returned.
package pagination
