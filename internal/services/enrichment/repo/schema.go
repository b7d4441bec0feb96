package repo

import (
	"context"

	perr "wdh/internal/platform/errors"
)

// EnsureSchema creates the cache and queue tables plus the in-flight
// uniqueness index when missing. Types mirror the logical schema; column
// names are stable because the learning service and the warehouse both
// address them by name
func (r *queries) EnsureSchema(ctx context.Context) error {
	const sql = `
		CREATE TABLE IF NOT EXISTS enrichment_index (
			lookup_key    text        NOT NULL,
			lookup_type   text        NOT NULL,
			company_id    text        NOT NULL,
			confidence    numeric(3,2) NOT NULL DEFAULT 0,
			source        text        NOT NULL DEFAULT '',
			source_domain text,
			source_table  text,
			hit_count     bigint      NOT NULL DEFAULT 0,
			last_hit_at   timestamptz,
			created_at    timestamptz NOT NULL DEFAULT NOW(),
			updated_at    timestamptz NOT NULL DEFAULT NOW(),
			PRIMARY KEY (lookup_key, lookup_type)
		);

		CREATE TABLE IF NOT EXISTS enrichment_requests (
			id              bigserial PRIMARY KEY,
			raw_name        text        NOT NULL,
			normalized_name text        NOT NULL,
			temp_id         text,
			status          text        NOT NULL DEFAULT 'pending',
			attempts        int         NOT NULL DEFAULT 0,
			last_error      text,
			next_retry_at   timestamptz,
			created_at      timestamptz NOT NULL DEFAULT NOW(),
			updated_at      timestamptz NOT NULL DEFAULT NOW()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS enrichment_requests_inflight_name
			ON enrichment_requests (normalized_name)
			WHERE status IN ('pending', 'processing');

		CREATE INDEX IF NOT EXISTS enrichment_requests_ready
			ON enrichment_requests (created_at)
			WHERE status = 'pending';
	`
	if _, err := r.q.Exec(ctx, sql); err != nil {
		return perr.FromPostgres(err, "enrichment schema bootstrap failed")
	}
	return nil
}
