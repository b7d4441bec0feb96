// Package service implements the layered batch company resolver: in-memory
// overrides, then the persistent cache, then existing-column passthrough,
// then a budgeted external sync, then deterministic temp ids with an async
// queue handoff. Each layer only sees rows the layers above left unresolved
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wdh/internal/core/normalize"
	"wdh/internal/core/tempid"
	"wdh/internal/modkit"
	"wdh/internal/platform/logger"
	"wdh/internal/platform/store"
	"wdh/internal/services/resolver/domain"

	perr "wdh/internal/platform/errors"
	endomain "wdh/internal/services/enrichment/domain"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Svc is the resolver service. A nil repo degrades the run to the override,
// passthrough and temp-id layers; a nil provider skips the external sync
type Svc struct {
	deps      modkit.Deps
	repo      endomain.Repo
	provider  endomain.Provider
	overrides *OverrideSet
	salt      string
	validate  *validator.Validate
	log       logger.Logger
}

// New constructs the resolver service
func New(deps modkit.Deps, repo endomain.Repo, provider endomain.Provider, overrides *OverrideSet, salt string) *Svc {
	if overrides == nil {
		overrides = NewOverrideSet(nil)
	}
	return &Svc{
		deps:      deps,
		repo:      repo,
		provider:  provider,
		overrides: overrides,
		salt:      salt,
		validate:  validator.New(),
		log:       *logger.Named("resolver"),
	}
}

// Resolve runs the full layer stack over batch in place, writing ids into
// the strategy's output column. The batch is mutated; the returned stats
// describe the run
func (s *Svc) Resolve(
	ctx context.Context,
	batch domain.Batch,
	strat domain.Strategy,
	eqc domain.EqcConfig,
) (*domain.Stats, error) {
	if err := s.validate.Struct(strat); err != nil {
		return nil, validationErr(err, "resolution strategy invalid")
	}
	if err := s.validate.Struct(eqc); err != nil {
		return nil, validationErr(err, "eqc config invalid")
	}

	runID := uuid.NewString()
	ctx = store.WithRunID(ctx, runID)
	stats := domain.NewStats(runID, len(batch))
	if len(batch) == 0 {
		return stats, nil
	}

	if !columnPresent(batch, strat.CustomerNameColumn) {
		return nil, perr.Newf(perr.ErrorCodeValidation,
			"customer name column %q absent from batch", strat.CustomerNameColumn)
	}
	for i := range batch {
		if batch[i] == nil {
			batch[i] = domain.Row{}
		}
		batch[i][strat.OutputColumn] = ""
	}

	obs := NewObserver(runID)
	for range batch {
		obs.RecordLookup()
	}

	// normalized customer names are reused by every layer below
	norms := make([]string, len(batch))
	for i, r := range batch {
		norms[i] = normalize.Name(r.Get(strat.CustomerNameColumn))
	}
	resolved := make([]bool, len(batch))

	warm, err := s.warmCache(ctx, norms)
	if err != nil {
		return nil, err
	}

	s.stepOverrides(batch, strat, resolved, stats, obs)
	if err := s.stepCache(ctx, batch, strat, norms, warm, resolved, stats, obs); err != nil {
		return nil, err
	}
	s.stepExisting(ctx, batch, strat, norms, resolved, stats, obs)
	s.stepExternal(ctx, batch, strat, eqc, norms, resolved, stats, obs)
	s.stepTempIDs(ctx, batch, strat, norms, resolved, stats, obs)

	for i := range batch {
		if !resolved[i] {
			stats.Unresolved++
		}
	}

	s.export(ctx, obs, eqc)
	s.logRun(stats, obs)
	return stats, nil
}

func columnPresent(batch domain.Batch, col string) bool {
	for _, r := range batch {
		if _, ok := r[col]; ok {
			return true
		}
	}
	return false
}

// validationErr wraps a validator failure and tags the first offending field
func validationErr(err error, msg string) error {
	out := perr.Wrap(err, perr.ErrorCodeValidation, msg)
	var fes validator.ValidationErrors
	if errors.As(err, &fes) && len(fes) > 0 {
		out = perr.WithField(out, fes[0].Field())
	}
	return out
}

// overrideColumn maps a sub-layer to the strategy column it matches against
func overrideColumn(strat domain.Strategy, mt domain.MatchType) string {
	switch mt {
	case domain.MatchPlan, domain.MatchHardcode:
		return strat.PlanCodeColumn
	case domain.MatchAccount:
		return strat.AccountNumberColumn
	case domain.MatchName:
		return strat.CustomerNameColumn
	case domain.MatchAccountName:
		return strat.AccountNameColumn
	default:
		return ""
	}
}

// stepOverrides applies the in-memory YAML layer; first sub-layer hit wins
func (s *Svc) stepOverrides(
	batch domain.Batch,
	strat domain.Strategy,
	resolved []bool,
	stats *domain.Stats,
	obs *Observer,
) {
	if s.overrides.Len() == 0 {
		return
	}
	subLayers := []domain.MatchType{
		domain.MatchPlan, domain.MatchAccount, domain.MatchHardcode,
		domain.MatchName, domain.MatchAccountName,
	}
	for i, row := range batch {
		if resolved[i] {
			continue
		}
		for _, mt := range subLayers {
			val := row.Get(overrideColumn(strat, mt))
			if val == "" {
				continue
			}
			id, ok := s.overrides.Lookup(mt, val)
			if !ok {
				continue
			}
			row[strat.OutputColumn] = id
			resolved[i] = true
			stats.YamlHits[mt]++
			obs.RecordCacheHit("yaml:" + string(mt))
			break
		}
	}
	s.log.Debug().Int("hits", stats.YamlHitTotal()).Msg("override layer done")
}

// warmCache pre-loads the customer-name dimension for the whole batch in one
// round trip. A failure here is fatal; the run must not silently degrade to
// external lookups it would otherwise never make
func (s *Svc) warmCache(ctx context.Context, norms []string) (map[string]endomain.IndexRecord, error) {
	warm := make(map[string]endomain.IndexRecord)
	if s.repo == nil {
		return warm, nil
	}

	seen := make(map[string]struct{}, len(norms))
	keys := make([]endomain.TypedKey, 0, len(norms))
	for _, n := range norms {
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		keys = append(keys, endomain.TypedKey{Type: endomain.TypeCustomerName, Key: n})
	}
	if len(keys) == 0 {
		return warm, nil
	}

	recs, err := s.repo.LookupIndexBatch(ctx, keys)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDB, "cache warm lookup failed")
	}
	for k, rec := range recs {
		warm[k.Key] = rec
	}
	s.log.Debug().Int("names", len(keys)).Int("warm", len(warm)).Msg("cache warmed")
	return warm, nil
}

// cacheProbe is one priority slot of the persistent cache layer
type cacheProbe struct {
	typ endomain.LookupType
	key func(row domain.Row, norm string) string
}

func cacheProbes(strat domain.Strategy) []cacheProbe {
	return []cacheProbe{
		{endomain.TypePlanCode, func(r domain.Row, _ string) string {
			return r.Get(strat.PlanCodeColumn)
		}},
		{endomain.TypeAccountName, func(r domain.Row, _ string) string {
			return r.Get(strat.AccountNameColumn)
		}},
		{endomain.TypeAccountNumber, func(r domain.Row, _ string) string {
			return r.Get(strat.AccountNumberColumn)
		}},
		{endomain.TypeCustomerName, func(_ domain.Row, norm string) string {
			return norm
		}},
		{endomain.TypePlanCustomer, func(r domain.Row, norm string) string {
			plan := r.Get(strat.PlanCodeColumn)
			if plan == "" || norm == "" {
				return ""
			}
			return plan + "|" + norm
		}},
	}
}

// stepCache probes the persistent cache in fixed priority order. All keys
// for all unresolved rows travel in one batched lookup; the per-row walk is
// then pure map access. Rows with a sentinel company id keep probing
func (s *Svc) stepCache(
	ctx context.Context,
	batch domain.Batch,
	strat domain.Strategy,
	norms []string,
	warm map[string]endomain.IndexRecord,
	resolved []bool,
	stats *domain.Stats,
	obs *Observer,
) error {
	if s.repo == nil {
		return nil
	}
	probes := cacheProbes(strat)

	// customer_name is already warm; batch the other four dimensions
	seen := make(map[endomain.TypedKey]struct{})
	var keys []endomain.TypedKey
	for i, row := range batch {
		if resolved[i] {
			continue
		}
		for _, p := range probes {
			if p.typ == endomain.TypeCustomerName {
				continue
			}
			k := p.key(row, norms[i])
			if k == "" {
				continue
			}
			tk := endomain.TypedKey{Type: p.typ, Key: k}
			if _, dup := seen[tk]; dup {
				continue
			}
			seen[tk] = struct{}{}
			keys = append(keys, tk)
		}
	}

	recs := map[endomain.TypedKey]endomain.IndexRecord{}
	if len(keys) > 0 {
		var err error
		recs, err = s.repo.LookupIndexBatch(ctx, keys)
		if err != nil {
			return perr.Wrap(err, perr.ErrorCodeDB, "cache batch lookup failed")
		}
	}

	var touched []endomain.TypedKey
	for i, row := range batch {
		if resolved[i] {
			continue
		}
		path := make([]string, 0, len(probes))
		for pn, p := range probes {
			key := p.key(row, norms[i])
			var rec *endomain.IndexRecord
			if key != "" {
				if p.typ == endomain.TypeCustomerName {
					if r, ok := warm[key]; ok {
						rec = &r
					}
				} else if r, ok := recs[endomain.TypedKey{Type: p.typ, Key: key}]; ok {
					rec = &r
				}
			}
			switch {
			case rec == nil:
				path = append(path, fmt.Sprintf("DB-P%d:MISS", pn+1))
			case !domain.IsValidID(rec.CompanyID):
				path = append(path, fmt.Sprintf("DB-P%d:INVALID", pn+1))
			default:
				path = append(path, fmt.Sprintf("DB-P%d:HIT", pn+1))
				row[strat.OutputColumn] = rec.CompanyID
				resolved[i] = true
				stats.DBCacheHits++
				stats.DBCacheHitsByType[string(p.typ)]++
				obs.RecordCacheHit("db:" + string(p.typ))
				touched = append(touched, endomain.TypedKey{Type: p.typ, Key: key})
			}
			if resolved[i] {
				break
			}
		}
		stats.DecisionPaths[i] = strings.Join(path, "→")
	}

	if len(touched) > 0 {
		if err := s.repo.TouchHits(ctx, touched); err != nil {
			s.log.Warn().Err(err).Int("keys", len(touched)).Msg("cache hit-count touch failed")
		}
	}
	s.log.Debug().Int("hits", stats.DBCacheHits).Msg("cache layer done")
	return nil
}

// stepExisting passes through pre-resolved ids and back-flows them into the
// cache so the next run hits the database instead. Temp ids never back-flow
func (s *Svc) stepExisting(
	ctx context.Context,
	batch domain.Batch,
	strat domain.Strategy,
	norms []string,
	resolved []bool,
	stats *domain.Stats,
	obs *Observer,
) {
	if strat.ExistingIDColumn == "" {
		return
	}
	var backflow []endomain.IndexUpsert
	stage := func(typ endomain.LookupType, key, id string) {
		if key == "" {
			return
		}
		backflow = append(backflow, endomain.IndexUpsert{
			Key:        key,
			Type:       typ,
			CompanyID:  id,
			Confidence: endomain.ConfidenceBackflow,
			Source:     endomain.SourceBackflow,
		})
	}

	for i, row := range batch {
		if resolved[i] {
			continue
		}
		id := row.Get(strat.ExistingIDColumn)
		if !domain.IsValidID(id) {
			continue
		}
		row[strat.OutputColumn] = id
		resolved[i] = true
		stats.ExistingColumnHits++
		obs.RecordCacheHit("existing")

		if !strat.EnableBackflow || s.repo == nil || tempid.IsTemp(id) {
			continue
		}
		stage(endomain.TypePlanCode, row.Get(strat.PlanCodeColumn), id)
		stage(endomain.TypeAccountNumber, row.Get(strat.AccountNumberColumn), id)
		stage(endomain.TypeAccountName, row.Get(strat.AccountNameColumn), id)
		stage(endomain.TypeCustomerName, norms[i], id)
	}

	if len(backflow) > 0 {
		res, err := s.repo.UpsertIndexBatch(ctx, backflow)
		if err != nil {
			s.log.Warn().Err(err).Int("records", len(backflow)).Msg("backflow write failed")
		} else {
			stats.BackflowWritten = res.Inserted + res.Skipped
		}
	}
	s.log.Debug().Int("hits", stats.ExistingColumnHits).Msg("passthrough layer done")
}

// stepExternal resolves remaining rows through the provider under a strict
// per-run budget. Rows are grouped by normalized name so duplicates cost one
// call; the provider's own counter is authoritative for budget accounting
func (s *Svc) stepExternal(
	ctx context.Context,
	batch domain.Batch,
	strat domain.Strategy,
	eqc domain.EqcConfig,
	norms []string,
	resolved []bool,
	stats *domain.Stats,
	obs *Observer,
) {
	p := s.provider
	if p == nil || !eqc.Enabled || eqc.SyncBudget <= 0 {
		return
	}
	p.SetBudget(eqc.SyncBudget)
	stats.BudgetConfigured = p.Budget()
	before := p.RemainingBudget()

	type group struct {
		raw  string
		rows []int
	}
	groups := make(map[string]*group)
	var order []string
	for i, row := range batch {
		if resolved[i] || norms[i] == "" {
			continue
		}
		raw := row.Get(strat.CustomerNameColumn)
		if tempid.IsPlaceholder(raw) {
			continue
		}
		g, ok := groups[norms[i]]
		if !ok {
			g = &group{raw: raw}
			groups[norms[i]] = g
			order = append(order, norms[i])
		}
		g.rows = append(g.rows, i)
	}

	var staged []endomain.IndexUpsert
	for _, n := range order {
		if !p.Available() {
			break
		}
		g := groups[n]
		obs.RecordAPICall()
		hit, err := p.Lookup(ctx, g.raw)
		if err != nil {
			s.log.Warn().Err(err).Int("rows", len(g.rows)).Msg("external lookup failed")
			continue
		}
		if hit == nil || !domain.IsValidID(hit.CompanyID) {
			continue
		}
		for _, i := range g.rows {
			batch[i][strat.OutputColumn] = hit.CompanyID
			resolved[i] = true
			stats.EqcSyncHits++
			obs.RecordExternalHit()
		}
		staged = append(staged, endomain.IndexUpsert{
			Key:        n,
			Type:       endomain.TypeCustomerName,
			CompanyID:  hit.CompanyID,
			Confidence: endomain.ConfidenceEqc,
			Source:     endomain.SourceEqc,
		})
	}

	stats.BudgetConsumed = before - p.RemainingBudget()
	stats.BudgetRemaining = p.RemainingBudget()

	if s.repo != nil && len(staged) > 0 {
		if _, err := s.repo.UpsertIndexBatch(ctx, staged); err != nil {
			s.log.Warn().Err(err).Int("records", len(staged)).Msg("external hit cache write failed")
		}
	}
	s.log.Debug().
		Int("hits", stats.EqcSyncHits).
		Int("budget_consumed", stats.BudgetConsumed).
		Msg("external layer done")
}

// stepTempIDs closes the run: every remaining nameable row gets a stable
// deterministic id and, once per distinct normalized name, a queue entry for
// the async worker to resolve properly later
func (s *Svc) stepTempIDs(
	ctx context.Context,
	batch domain.Batch,
	strat domain.Strategy,
	norms []string,
	resolved []bool,
	stats *domain.Stats,
	obs *Observer,
) {
	if !strat.GenerateTempIDs {
		return
	}
	seen := make(map[string]struct{})
	var reqs []endomain.EnqueueRequest
	for i, row := range batch {
		if resolved[i] {
			continue
		}
		raw := row.Get(strat.CustomerNameColumn)
		id, ok := tempid.ForName(raw, s.salt)
		if !ok {
			continue
		}
		row[strat.OutputColumn] = id
		resolved[i] = true
		stats.TempIDsGenerated++
		obs.RecordTempID(raw, id)

		if !strat.EnableAsyncQueue || s.repo == nil || norms[i] == "" {
			continue
		}
		if _, dup := seen[norms[i]]; dup {
			continue
		}
		seen[norms[i]] = struct{}{}
		reqs = append(reqs, endomain.EnqueueRequest{
			RawName:        raw,
			NormalizedName: norms[i],
			TempID:         id,
		})
	}

	if len(reqs) > 0 {
		res, err := s.repo.Enqueue(ctx, reqs)
		if err != nil {
			s.log.Warn().Err(err).Int("names", len(reqs)).Msg("async enqueue failed")
		} else {
			stats.AsyncQueued = res.Queued
			obs.RecordAsyncQueued(res.Queued)
		}
	}
	if s.repo != nil {
		if d, err := s.repo.ReadyDepth(ctx); err == nil {
			obs.SetQueueDepth(d)
		}
	}
	s.log.Debug().Int("temp_ids", stats.TempIDsGenerated).Msg("temp-id layer done")
}

// logRun emits the per-run summary. Counts at info; per-row decision paths
// only at debug, they are large
func (s *Svc) logRun(stats *domain.Stats, obs *Observer) {
	snap := obs.Snapshot()
	s.log.Info().
		Str("run_id", stats.RunID).
		Int("rows", stats.TotalRows).
		Int("yaml_hits", stats.YamlHitTotal()).
		Int("db_cache_hits", stats.DBCacheHits).
		Int("existing_hits", stats.ExistingColumnHits).
		Int("eqc_hits", stats.EqcSyncHits).
		Int("temp_ids", stats.TempIDsGenerated).
		Int("async_queued", stats.AsyncQueued).
		Int("backflow_written", stats.BackflowWritten).
		Int("unresolved", stats.Unresolved).
		Int("budget_consumed", stats.BudgetConsumed).
		Float64("cache_hit_rate", snap.CacheHitRate).
		Msg("resolution run complete")

	for i, p := range stats.DecisionPaths {
		if p == "" {
			continue
		}
		s.log.Debug().Int("row", i).Str("path", p).Msg("cache decision path")
	}
}
