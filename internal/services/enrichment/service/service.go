// Package service contains the async enrichment queue worker
package service

import (
	"context"
	"time"

	"wdh/internal/modkit"
	"wdh/internal/modkit/repokit"
	"wdh/internal/platform/logger"
	"wdh/internal/services/enrichment/domain"
	"wdh/internal/services/enrichment/repo"

	perr "wdh/internal/platform/errors"
)

// Config carries runtime knobs for the queue worker
type Config struct {
	BatchSize      int
	Tick           time.Duration
	StaleAfter     time.Duration
	RecoverOnStart bool
}

// Svc drains the durable lookup queue through the external provider
type Svc struct {
	Repo     domain.Repo
	binder   repokit.Binder[domain.Repo]
	db       repokit.TxRunner
	provider domain.Provider
	deps     modkit.Deps
	cfg      Config
	log      logger.Logger
}

var (
	_ domain.WorkerPort   = (*Svc)(nil)
	_ domain.RecoveryPort = (*Svc)(nil)
)

// New constructs the queue worker service
func New(deps modkit.Deps, provider domain.Provider, cfg Config) *Svc {
	if deps.PG == nil {
		panic("enrichment.Service requires a non nil TxRunner")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 500 * time.Millisecond
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = domain.StaleAfterDefault
	}

	b := repo.NewPG()
	return &Svc{
		Repo:     b.Bind(deps.PG),
		binder:   b,
		db:       deps.PG,
		provider: provider,
		deps:     deps,
		cfg:      cfg,
		log:      *logger.Named("enrichment"),
	}
}

// Run loops the worker until ctx cancels. Startup recovery hands back rows
// orphaned by a previous crash before the first drain
func (s *Svc) Run(ctx context.Context) error {
	if s.cfg.RecoverOnStart {
		n, err := s.Repo.RecoverStale(ctx, s.cfg.StaleAfter)
		if err != nil {
			return err
		}
		if n > 0 {
			s.log.Info().Int("recovered", n).Msg("stale processing rows reset to pending")
		}
	}

	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := s.DrainOnce(ctx, s.cfg.BatchSize); err != nil {
				return err
			}
		}
	}
}

// DrainOnce claims one batch and works through it, returning the number of
// rows processed. Adapter failures and empty results reschedule the row with
// backoff, and a row whose claim was lost is logged and skipped; only a
// non-retryable dequeue error aborts the drain
func (s *Svc) DrainOnce(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = s.cfg.BatchSize
	}
	if !s.provider.Available() {
		return 0, nil
	}

	items, err := s.Repo.Dequeue(ctx, batch)
	if err != nil {
		if perr.Retryable(err) {
			s.log.Warn().Err(err).Msg("dequeue hit contention, retrying next tick")
			return 0, nil
		}
		return 0, err
	}
	done, retried := 0, 0
	for _, it := range items {
		if !s.provider.Available() {
			s.markFailed(ctx, it, "lookup provider unavailable")
			retried++
			continue
		}

		hit, err := s.provider.Lookup(ctx, it.RawName)
		switch {
		case err != nil:
			s.markFailed(ctx, it, trimErr(err))
			retried++
		case hit == nil:
			s.markFailed(ctx, it, "provider returned no results")
			retried++
		default:
			s.cacheHit(ctx, it, hit)
			if err := s.Repo.MarkDone(ctx, it.ID); err != nil {
				// Another worker or a recovery pass took the row; the
				// cache write already landed, so just move on
				s.log.Error().Err(err).Int64("request_id", it.ID).
					Msg("mark_done lost the row, skipping")
				continue
			}
			done++
		}
	}
	if len(items) > 0 {
		s.log.Info().Int("claimed", len(items)).Int("done", done).Int("retried", retried).
			Msg("queue drain pass")
	}
	return len(items), nil
}

// cacheHit writes a confirmed mapping through to the cache. Cache write
// failures must not fail the queue item; the mapping will resurface
func (s *Svc) cacheHit(ctx context.Context, it domain.QueueItem, hit *domain.LookupHit) {
	_, err := s.Repo.UpsertIndexBatch(ctx, []domain.IndexUpsert{{
		Key:        it.NormalizedName,
		Type:       domain.TypeCustomerName,
		CompanyID:  hit.CompanyID,
		Confidence: domain.ConfidenceEqc,
		Source:     domain.SourceEqc,
	}})
	if err != nil {
		s.log.Warn().Err(err).Int64("request_id", it.ID).Msg("eqc cache write failed, continuing")
	}
}

// markFailed schedules a retry or parks the row. A mark-failed that itself
// fails is logged and swallowed so the original error is not lost
func (s *Svc) markFailed(ctx context.Context, it domain.QueueItem, reason string) {
	attempts := it.Attempts + 1
	if err := s.Repo.MarkFailed(ctx, it.ID, reason, attempts); err != nil {
		s.log.Error().Err(err).Int64("request_id", it.ID).Msg("mark_failed itself failed")
		return
	}
	if attempts >= domain.MaxRetryAttempts {
		s.log.Warn().Int64("request_id", it.ID).Int("attempts", attempts).
			Msg("lookup request parked as failed")
	}
}

// RecoverStale resets rows stuck in processing longer than olderThan
func (s *Svc) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.StaleAfter
	}
	return s.Repo.RecoverStale(ctx, olderThan)
}

func trimErr(err error) string {
	const n = 500
	s := err.Error()
	if len(s) <= n {
		return s
	}
	return s[:n]
}
