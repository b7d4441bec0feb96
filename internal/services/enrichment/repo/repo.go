// Package repo provides Postgres bindings for the enrichment cache and queue
package repo

import (
	"context"

	"wdh/internal/modkit/repokit"
	"wdh/internal/services/enrichment/domain"

	perr "wdh/internal/platform/errors"
)

type (
	// PG is a Postgres binder for domain.Repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// Compile-time assertion: queries implements domain.Repo
var _ domain.Repo = (*queries)(nil)

// NewPG returns a Postgres binder for Repo
func NewPG() repokit.Binder[domain.Repo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.Repo { return &queries{q: q} }

// LookupIndexBatch resolves all keys in a single round trip. Keys and types
// are paired positionally through unnest; per-row probes do not survive
// batches of 10^4 rows and up
func (r *queries) LookupIndexBatch(
	ctx context.Context,
	keys []domain.TypedKey,
) (map[domain.TypedKey]domain.IndexRecord, error) {
	out := make(map[domain.TypedKey]domain.IndexRecord, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	ks := make([]string, len(keys))
	ts := make([]string, len(keys))
	for i, k := range keys {
		ks[i] = k.Key
		ts[i] = string(k.Type)
	}

	const sql = `
		WITH probe AS (
			SELECT DISTINCT k.lookup_key, k.lookup_type
			FROM unnest($1::text[], $2::text[]) AS k(lookup_key, lookup_type)
		)
		SELECT i.lookup_key, i.lookup_type, i.company_id, i.confidence,
		       i.source, COALESCE(i.source_domain, ''), COALESCE(i.source_table, ''),
		       i.hit_count, i.last_hit_at, i.created_at, i.updated_at
		FROM enrichment_index i
		JOIN probe p ON p.lookup_key = i.lookup_key AND p.lookup_type = i.lookup_type
	`
	rows, err := r.q.Query(ctx, sql, ks, ts)
	if err != nil {
		return nil, perr.FromPostgres(err, "enrichment index batch lookup failed")
	}
	defer rows.Close()

	for rows.Next() {
		var rec domain.IndexRecord
		var typ string
		if err := rows.Scan(
			&rec.LookupKey, &typ, &rec.CompanyID, &rec.Confidence,
			&rec.Source, &rec.SourceDomain, &rec.SourceTable,
			&rec.HitCount, &rec.LastHitAt, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.LookupType = domain.LookupType(typ)
		out[domain.TypedKey{Type: rec.LookupType, Key: rec.LookupKey}] = rec
	}
	return out, rows.Err()
}

// UpsertIndexBatch writes records in one statement. Conflict semantics keep
// the cache confidence-monotonic: confidence only ever rises, identity
// fields follow only a strictly higher confidence, and the conflict itself
// counts as a cache touch
func (r *queries) UpsertIndexBatch(
	ctx context.Context,
	recs []domain.IndexUpsert,
) (domain.UpsertResult, error) {
	var res domain.UpsertResult
	recs = dedupeUpserts(recs)
	if len(recs) == 0 {
		return res, nil
	}

	n := len(recs)
	keys := make([]string, n)
	types := make([]string, n)
	ids := make([]string, n)
	confs := make([]float64, n)
	sources := make([]string, n)
	domains := make([]string, n)
	tables := make([]string, n)
	for i, rec := range recs {
		keys[i] = rec.Key
		types[i] = string(rec.Type)
		ids[i] = rec.CompanyID
		confs[i] = rec.Confidence
		sources[i] = rec.Source
		domains[i] = rec.SourceDomain
		tables[i] = rec.SourceTable
	}

	const sql = `
		INSERT INTO enrichment_index (
			lookup_key, lookup_type, company_id, confidence,
			source, source_domain, source_table,
			hit_count, last_hit_at, created_at, updated_at
		)
		SELECT v.lookup_key, v.lookup_type, v.company_id, v.confidence,
		       v.source, NULLIF(v.source_domain, ''), NULLIF(v.source_table, ''),
		       0, NULL, NOW(), NOW()
		FROM unnest(
			$1::text[], $2::text[], $3::text[], $4::numeric[],
			$5::text[], $6::text[], $7::text[]
		) AS v(lookup_key, lookup_type, company_id, confidence, source, source_domain, source_table)
		ON CONFLICT (lookup_key, lookup_type) DO UPDATE SET
			company_id    = CASE WHEN excluded.confidence > enrichment_index.confidence
			                     THEN excluded.company_id ELSE enrichment_index.company_id END,
			source        = CASE WHEN excluded.confidence > enrichment_index.confidence
			                     THEN excluded.source ELSE enrichment_index.source END,
			source_domain = CASE WHEN excluded.confidence > enrichment_index.confidence
			                     THEN excluded.source_domain ELSE enrichment_index.source_domain END,
			source_table  = CASE WHEN excluded.confidence > enrichment_index.confidence
			                     THEN excluded.source_table ELSE enrichment_index.source_table END,
			confidence    = GREATEST(enrichment_index.confidence, excluded.confidence),
			hit_count     = enrichment_index.hit_count + 1,
			last_hit_at   = NOW(),
			updated_at    = NOW()
		RETURNING (xmax = 0) AS inserted
	`
	rows, err := r.q.Query(ctx, sql, keys, types, ids, confs, sources, domains, tables)
	if err != nil {
		return res, perr.FromPostgres(err, "enrichment index upsert failed")
	}
	defer rows.Close()

	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return res, err
		}
		if inserted {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}
	return res, rows.Err()
}

// dedupeUpserts collapses duplicate (key, type) pairs within one batch,
// keeping the highest confidence, so the single INSERT cannot touch a row
// twice
func dedupeUpserts(recs []domain.IndexUpsert) []domain.IndexUpsert {
	if len(recs) < 2 {
		return recs
	}
	seen := make(map[domain.TypedKey]int, len(recs))
	out := recs[:0]
	for _, rec := range recs {
		k := domain.TypedKey{Type: rec.Type, Key: rec.Key}
		if i, ok := seen[k]; ok {
			if rec.Confidence > out[i].Confidence {
				out[i] = rec
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, rec)
	}
	return out
}

// UpdateHitCount bumps one cache row, reporting whether it existed
func (r *queries) UpdateHitCount(ctx context.Context, key domain.TypedKey) (bool, error) {
	const sql = `
		UPDATE enrichment_index
		SET hit_count = hit_count + 1, last_hit_at = NOW(), updated_at = NOW()
		WHERE lookup_key = $1 AND lookup_type = $2
	`
	tag, err := r.q.Exec(ctx, sql, key.Key, string(key.Type))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TouchHits bumps hit counters for many rows in one statement
func (r *queries) TouchHits(ctx context.Context, keys []domain.TypedKey) error {
	if len(keys) == 0 {
		return nil
	}
	ks := make([]string, len(keys))
	ts := make([]string, len(keys))
	for i, k := range keys {
		ks[i] = k.Key
		ts[i] = string(k.Type)
	}
	const sql = `
		UPDATE enrichment_index i
		SET hit_count = i.hit_count + 1, last_hit_at = NOW(), updated_at = NOW()
		FROM unnest($1::text[], $2::text[]) AS k(lookup_key, lookup_type)
		WHERE i.lookup_key = k.lookup_key AND i.lookup_type = k.lookup_type
	`
	_, err := r.q.Exec(ctx, sql, ks, ts)
	return err
}
