package repo

import (
	"context"
	"time"

	"wdh/internal/platform/store"
	"wdh/internal/services/enrichment/domain"

	perr "wdh/internal/platform/errors"
	pstrings "wdh/internal/platform/strings"
)

// Enqueue inserts pending lookup requests in one statement. The partial
// unique index on normalized_name for in-flight statuses does the dedup;
// application code must not second-guess it
func (r *queries) Enqueue(
	ctx context.Context,
	reqs []domain.EnqueueRequest,
) (domain.EnqueueResult, error) {
	var res domain.EnqueueResult
	if len(reqs) == 0 {
		return res, nil
	}

	raws := make([]string, len(reqs))
	norms := make([]string, len(reqs))
	temps := make([]string, len(reqs))
	for i, req := range reqs {
		raws[i] = req.RawName
		norms[i] = req.NormalizedName
		temps[i] = req.TempID
	}

	const sql = `
		INSERT INTO enrichment_requests (
			raw_name, normalized_name, temp_id, status, attempts, created_at, updated_at
		)
		SELECT v.raw_name, v.normalized_name, NULLIF(v.temp_id, ''), 'pending', 0, NOW(), NOW()
		FROM unnest($1::text[], $2::text[], $3::text[]) AS v(raw_name, normalized_name, temp_id)
		ON CONFLICT (normalized_name) WHERE status IN ('pending', 'processing') DO NOTHING
		RETURNING 1
	`
	rows, err := r.q.Query(ctx, sql, raws, norms, temps)
	if err != nil {
		// Two resolvers racing the same normalized name can both pass the
		// partial-index predicate; the loser's violation means the name is
		// already in flight, which is what the caller wanted
		if perr.IsDuplicateKey(err) {
			res.Skipped = len(reqs)
			return res, nil
		}
		return res, perr.FromPostgres(err, "enrichment enqueue failed")
	}
	defer rows.Close()

	for rows.Next() {
		var one int
		if err := rows.Scan(&one); err != nil {
			return res, err
		}
		res.Queued++
	}
	res.Skipped = len(reqs) - res.Queued
	return res, rows.Err()
}

// Dequeue claims up to n ready rows, FIFO by created_at. The CTE row-locks
// with SKIP LOCKED so concurrent workers never double-claim and never wait
// on each other
func (r *queries) Dequeue(ctx context.Context, n int) ([]domain.QueueItem, error) {
	const sql = `
		WITH cte AS (
			SELECT id
			FROM enrichment_requests
			WHERE status = 'pending'
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE enrichment_requests q
		SET status = 'processing', updated_at = NOW()
		FROM cte
		WHERE q.id = cte.id
		RETURNING q.id, q.raw_name, q.normalized_name, COALESCE(q.temp_id, ''),
		          q.status, q.attempts, COALESCE(q.last_error, ''),
		          q.next_retry_at, q.created_at, q.updated_at
	`
	out, err := store.Many(ctx, r.q, func(row store.Row) (domain.QueueItem, error) {
		var it domain.QueueItem
		err := row.Scan(
			&it.ID, &it.RawName, &it.NormalizedName, &it.TempID,
			&it.Status, &it.Attempts, &it.LastError,
			&it.NextRetryAt, &it.CreatedAt, &it.UpdatedAt,
		)
		return it, err
	}, sql, n)
	if err != nil {
		return nil, perr.FromPostgres(err, "enrichment dequeue failed")
	}
	return out, nil
}

// MarkDone finishes a processing row. A zero-row update means the state
// machine was violated somewhere and the caller should know
func (r *queries) MarkDone(ctx context.Context, id int64) error {
	const sql = `
		UPDATE enrichment_requests
		SET status = 'done', updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	tag, err := r.q.Exec(ctx, sql, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return perr.Conflictf("queue row %d not in processing", id)
	}
	return nil
}

// MarkFailed records a failure with the new attempt count. Below the
// attempt ceiling the row goes back to pending with the bounded backoff
// curve; at the ceiling it parks as failed with no retry time
func (r *queries) MarkFailed(ctx context.Context, id int64, lastErr string, attempts int) error {
	if attempts >= domain.MaxRetryAttempts {
		const sql = `
			UPDATE enrichment_requests
			SET status = 'failed', attempts = $2, last_error = LEFT($3, 500),
			    next_retry_at = NULL, updated_at = NOW()
			WHERE id = $1 AND status = 'processing'
		`
		tag, err := r.q.Exec(ctx, sql, id, attempts, pstrings.SQLNull(lastErr))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return perr.Conflictf("queue row %d not in processing", id)
		}
		return nil
	}

	const sql = `
		UPDATE enrichment_requests
		SET status = 'pending', attempts = $2, last_error = LEFT($3, 500),
		    next_retry_at = NOW() + $4::interval, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	tag, err := r.q.Exec(ctx, sql, id, attempts, pstrings.SQLNull(lastErr), domain.RetryDelay(attempts).String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return perr.Conflictf("queue row %d not in processing", id)
	}
	return nil
}

// RecoverStale hands rows orphaned by crashed workers back to pending,
// charging an attempt and applying the same backoff curve
func (r *queries) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = domain.StaleAfterDefault
	}
	const sql = `
		UPDATE enrichment_requests
		SET status = 'pending',
		    attempts = attempts + 1,
		    next_retry_at = NOW() + (CASE LEAST(attempts + 1, 3)
		        WHEN 1 THEN interval '1 minute'
		        WHEN 2 THEN interval '5 minutes'
		        ELSE interval '15 minutes' END),
		    updated_at = NOW()
		WHERE status = 'processing' AND updated_at < NOW() - $1::interval
	`
	tag, err := r.q.Exec(ctx, sql, olderThan.String())
	if err != nil {
		return 0, perr.FromPostgres(err, "stale recovery failed")
	}
	return int(tag.RowsAffected()), nil
}

// QueueDepth reports row counts per status
func (r *queries) QueueDepth(ctx context.Context) (map[string]int64, error) {
	const sql = `SELECT status, COUNT(*) FROM enrichment_requests GROUP BY status`
	rows, err := r.q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// ReadyDepth reports pending rows whose retry time has arrived; schedulers
// key off this rather than the raw pending count
func (r *queries) ReadyDepth(ctx context.Context) (int64, error) {
	const sql = `
		SELECT COUNT(*)
		FROM enrichment_requests
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= NOW())
	`
	return store.Scalar[int64](ctx, r.q, sql)
}
