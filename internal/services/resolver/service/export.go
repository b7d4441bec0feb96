package service

import (
	"context"

	"wdh/internal/services/resolver/domain"
)

// export ships run telemetry to clickhouse. Analytics are best effort; a
// failed insert warns and the run result stands
func (s *Svc) export(ctx context.Context, obs *Observer, eqc domain.EqcConfig) {
	if s.deps.CH == nil {
		return
	}
	snap := obs.Snapshot()

	run := [][]any{{
		snap.RunID,
		snap.StartedAt,
		uint64(snap.TotalLookups),
		uint64(snap.CacheHits),
		uint64(snap.TempIDs),
		uint64(snap.APICalls),
		uint64(snap.AsyncQueued),
		snap.CacheHitRate,
		snap.TempIDRate,
	}}
	if err := s.deps.CH.Insert(ctx, "enrichment_runs", run); err != nil {
		s.log.Warn().Err(err).Str("run_id", snap.RunID).Msg("run export failed")
	}

	if !eqc.ExportUnknownNames {
		return
	}
	unknowns := obs.UnknownCompanies()
	if len(unknowns) == 0 {
		return
	}
	rows := make([][]any, 0, len(unknowns))
	for _, u := range unknowns {
		rows = append(rows, []any{
			snap.RunID,
			u.RawName,
			u.TempID,
			u.FirstSeen,
			uint64(u.Occurrences),
		})
	}
	if err := s.deps.CH.Insert(ctx, "unknown_companies", rows); err != nil {
		s.log.Warn().Err(err).Int("names", len(rows)).Msg("unknown company export failed")
	}
}
