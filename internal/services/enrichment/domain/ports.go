package domain

import (
	"context"
	"time"
)

// Repo is the persistence surface for the cache and the queue. The caller
// owns transactions; nothing here commits on its own
type Repo interface {
	// LookupIndexBatch resolves all keys in one round trip
	LookupIndexBatch(ctx context.Context, keys []TypedKey) (map[TypedKey]IndexRecord, error)

	// UpsertIndexBatch writes records with confidence-monotonic conflict
	// semantics; an upsert is itself a cache touch (hit_count moves)
	UpsertIndexBatch(ctx context.Context, recs []IndexUpsert) (UpsertResult, error)

	// UpdateHitCount bumps one row's hit counter, reporting whether it existed
	UpdateHitCount(ctx context.Context, key TypedKey) (bool, error)

	// TouchHits bumps hit counters for many rows in one statement
	TouchHits(ctx context.Context, keys []TypedKey) error

	// Enqueue inserts pending lookup requests, deferring duplicate in-flight
	// names to the partial unique index
	Enqueue(ctx context.Context, reqs []EnqueueRequest) (EnqueueResult, error)

	// Dequeue atomically claims up to n ready pending rows, FIFO by created_at
	Dequeue(ctx context.Context, n int) ([]QueueItem, error)

	// MarkDone finishes a processing row; missing rows are a queue state error
	MarkDone(ctx context.Context, id int64) error

	// MarkFailed records a failure with the new attempt count, either
	// rescheduling with backoff or parking the row as failed
	MarkFailed(ctx context.Context, id int64, lastErr string, attempts int) error

	// RecoverStale resets rows stuck in processing longer than olderThan
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)

	// QueueDepth reports row counts per status
	QueueDepth(ctx context.Context) (map[string]int64, error)

	// ReadyDepth reports pending rows whose retry time has arrived
	ReadyDepth(ctx context.Context) (int64, error)

	// EnsureSchema creates the cache and queue tables when missing
	EnsureSchema(ctx context.Context) error
}

// WorkerPort drains the queue through the external provider
type WorkerPort interface {
	Run(ctx context.Context) error
	DrainOnce(ctx context.Context, batch int) (int, error)
}

// RecoveryPort exposes stale-row recovery for startup and on-demand sweeps
type RecoveryPort interface {
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
}
