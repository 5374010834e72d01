package pool

import "sync/atomic"

// GlobalMetrics aggregates the process-wide counters spec.md §5 describes
// as living behind a single pool_mtx; atomics give the same single-writer-
// at-a-time guarantee without a shared lock across pool shards.
type GlobalMetrics struct {
	Threads          atomic.Int64
	ThreadsCreated   atomic.Int64
	ThreadsDestroyed atomic.Int64
	ThreadsLimited   atomic.Int64
	Queued           atomic.Int64
	Dropped          atomic.Int64
	Lqueue           atomic.Int64
}
