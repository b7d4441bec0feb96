// Package service mines resolved pipeline batches for new cache mappings.
// Learning is advisory: it never blocks the pipeline, and a failed write
// only costs the mappings a later batch will rediscover
package service

import (
	"context"

	"wdh/internal/core/normalize"
	"wdh/internal/core/tempid"
	"wdh/internal/modkit"
	"wdh/internal/platform/logger"
	"wdh/internal/services/learning/domain"

	endomain "wdh/internal/services/enrichment/domain"
	rdomain "wdh/internal/services/resolver/domain"
)

// Svc is the learning service
type Svc struct {
	repo endomain.Repo
	cfg  domain.Config
	log  logger.Logger
}

// New constructs the learning service over an enrichment repo
func New(_ modkit.Deps, repo endomain.Repo, cfg domain.Config) *Svc {
	return &Svc{
		repo: repo,
		cfg:  cfg,
		log:  *logger.Named("learning"),
	}
}

// Learn mines one resolved batch from sourceDomain/sourceTable. Errors are
// logged and reported through the result; callers keep going regardless
func (s *Svc) Learn(ctx context.Context, sourceDomain, sourceTable string, batch rdomain.Batch) domain.Result {
	if !s.cfg.DomainEnabled(sourceDomain) {
		return skip("domain not enabled")
	}
	cols, ok := s.cfg.Columns[sourceDomain]
	if !ok || cols.CompanyID == "" {
		return skip("no column map for domain")
	}
	eligible := 0
	for _, row := range batch {
		if learnableID(row.Get(cols.CompanyID)) {
			eligible++
		}
	}
	if eligible < s.cfg.MinRecords {
		return skip("batch below learning threshold")
	}
	if s.repo == nil {
		return skip("no repository")
	}

	pairs, ambiguous := s.minePairs(batch, cols)
	res := domain.Result{Pairs: len(pairs), Ambiguous: ambiguous}
	if len(pairs) == 0 {
		return res
	}

	ups := make([]endomain.IndexUpsert, 0, len(pairs))
	for k, id := range pairs {
		conf := s.cfg.ConfidenceFor(k.Type)
		if conf < s.cfg.MinConfidence {
			continue
		}
		ups = append(ups, endomain.IndexUpsert{
			Key:          k.Key,
			Type:         k.Type,
			CompanyID:    id,
			Confidence:   conf,
			Source:       endomain.SourceLearning,
			SourceDomain: sourceDomain,
			SourceTable:  sourceTable,
		})
	}
	if len(ups) == 0 {
		return res
	}

	out, err := s.repo.UpsertIndexBatch(ctx, ups)
	if err != nil {
		s.log.Warn().Err(err).
			Str("source_domain", sourceDomain).
			Int("pairs", len(ups)).
			Msg("learning write failed, mappings dropped")
		res.Skipped = true
		res.Reason = "cache write failed"
		return res
	}
	res.Written = out.Inserted
	res.Touched = out.Skipped

	s.log.Info().
		Str("source_domain", sourceDomain).
		Str("source_table", sourceTable).
		Int("pairs", res.Pairs).
		Int("ambiguous", res.Ambiguous).
		Int("written", res.Written).
		Msg("learning pass complete")
	return res
}

// minePairs extracts distinct key-to-id pairs per enabled dimension. Only
// plain numeric canonical ids teach the cache; temp ids and sentinels carry
// no signal. A key seen with two different ids is ambiguous and dropped
func (s *Svc) minePairs(batch rdomain.Batch, cols domain.ColumnMap) (map[endomain.TypedKey]string, int) {
	pairs := make(map[endomain.TypedKey]string)
	conflicted := make(map[endomain.TypedKey]struct{})

	record := func(t endomain.LookupType, key, id string) {
		if key == "" || !s.cfg.TypeEnabled(t) {
			return
		}
		tk := endomain.TypedKey{Type: t, Key: key}
		if _, bad := conflicted[tk]; bad {
			return
		}
		if prev, seen := pairs[tk]; seen {
			if prev != id {
				delete(pairs, tk)
				conflicted[tk] = struct{}{}
			}
			return
		}
		pairs[tk] = id
	}

	for _, row := range batch {
		id := row.Get(cols.CompanyID)
		if !learnableID(id) {
			continue
		}
		norm := normalize.Name(row.Get(cols.CustomerName))
		plan := row.Get(cols.PlanCode)

		record(endomain.TypePlanCode, plan, id)
		record(endomain.TypeAccountNumber, row.Get(cols.AccountNumber), id)
		record(endomain.TypeAccountName, row.Get(cols.AccountName), id)
		record(endomain.TypeCustomerName, norm, id)
		if plan != "" && norm != "" {
			record(endomain.TypePlanCustomer, plan+"|"+norm, id)
		}
	}
	return pairs, len(conflicted)
}

// learnableID accepts plain numeric canonical ids only
func learnableID(id string) bool {
	if id == "" || tempid.IsTemp(id) || !rdomain.IsValidID(id) {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func skip(reason string) domain.Result {
	return domain.Result{Skipped: true, Reason: reason}
}
