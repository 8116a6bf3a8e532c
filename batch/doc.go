/*
Package batch aggregates many small requests into batches dispatched
through a bounded-concurrency queue.

# Overview

A Processor buffers requests until either BatchSize is reached or the
oldest request has waited MaxBatchWait, whichever comes first. Each cut
batch is stable-sorted by priority (descending, ties keep arrival order),
executed by the consumer-supplied BatchFunc, and its outputs are
distributed back to the blocked callers by index.

Failed batches are retried whole with linear backoff; on final failure
every request in the batch is rejected with the causing error. Errors
never leak across batches.

# Usage

	proc := batch.New(func(ctx context.Context, reqs []*batch.Request[Image]) ([]Description, error) {
		return client.DescribeAll(ctx, reqs)
	}, batch.Config{
		BatchSize:            10,
		MaxBatchWait:         100 * time.Millisecond,
		MaxConcurrentBatches: 3,
	})
	defer proc.Close()

	desc, err := proc.ProcessWith(ctx, img, 5, 2*time.Second)

The BatchFunc typically acquires a client from a pool and wraps the
downstream call in a circuit breaker; the processor itself depends on
neither, so composition stays at the call site.

Cancellation is timeout-only: a request that times out while still pending
is removed before it is ever batched, but once claimed into a batch it can
no longer be individually cancelled.
*/
package batch
