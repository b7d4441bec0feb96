package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"wdh/internal/core/normalize"
	"wdh/internal/modkit"
	"wdh/internal/platform/logger"
	"wdh/internal/services/resolver/domain"

	perr "wdh/internal/platform/errors"

	endomain "wdh/internal/services/enrichment/domain"

	"github.com/go-playground/validator/v10"
)

// fakeRepo is an in-memory enrichment repo for resolver runs
type fakeRepo struct {
	records map[endomain.TypedKey]endomain.IndexRecord
	upserts []endomain.IndexUpsert
	enq     []endomain.EnqueueRequest
	touched []endomain.TypedKey
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[endomain.TypedKey]endomain.IndexRecord)}
}

func (f *fakeRepo) put(typ endomain.LookupType, key, id string) {
	f.records[endomain.TypedKey{Type: typ, Key: key}] = endomain.IndexRecord{
		LookupKey: key, LookupType: typ, CompanyID: id, Confidence: 1.0,
		Source: endomain.SourceInternal,
	}
}

func (f *fakeRepo) LookupIndexBatch(_ context.Context, keys []endomain.TypedKey) (map[endomain.TypedKey]endomain.IndexRecord, error) {
	out := make(map[endomain.TypedKey]endomain.IndexRecord)
	for _, k := range keys {
		if rec, ok := f.records[k]; ok {
			out[k] = rec
		}
	}
	return out, nil
}

func (f *fakeRepo) UpsertIndexBatch(_ context.Context, recs []endomain.IndexUpsert) (endomain.UpsertResult, error) {
	f.upserts = append(f.upserts, recs...)
	return endomain.UpsertResult{Inserted: len(recs)}, nil
}

func (f *fakeRepo) UpdateHitCount(_ context.Context, _ endomain.TypedKey) (bool, error) {
	return true, nil
}

func (f *fakeRepo) TouchHits(_ context.Context, keys []endomain.TypedKey) error {
	f.touched = append(f.touched, keys...)
	return nil
}

func (f *fakeRepo) Enqueue(_ context.Context, reqs []endomain.EnqueueRequest) (endomain.EnqueueResult, error) {
	f.enq = append(f.enq, reqs...)
	return endomain.EnqueueResult{Queued: len(reqs)}, nil
}

func (f *fakeRepo) Dequeue(_ context.Context, _ int) ([]endomain.QueueItem, error) { return nil, nil }
func (f *fakeRepo) MarkDone(_ context.Context, _ int64) error                      { return nil }
func (f *fakeRepo) MarkFailed(_ context.Context, _ int64, _ string, _ int) error   { return nil }
func (f *fakeRepo) RecoverStale(_ context.Context, _ time.Duration) (int, error)   { return 0, nil }
func (f *fakeRepo) QueueDepth(_ context.Context) (map[string]int64, error)         { return nil, nil }
func (f *fakeRepo) ReadyDepth(_ context.Context) (int64, error)                    { return 0, nil }
func (f *fakeRepo) EnsureSchema(_ context.Context) error                           { return nil }

// fakeProvider scripts external lookups per raw name
type fakeProvider struct {
	budget  int
	used    int
	results map[string]*endomain.LookupHit
}

func (p *fakeProvider) Available() bool      { return p.used < p.budget }
func (p *fakeProvider) Budget() int          { return p.budget }
func (p *fakeProvider) RemainingBudget() int { return p.budget - p.used }
func (p *fakeProvider) SetBudget(n int)      { p.budget = n }

func (p *fakeProvider) Lookup(_ context.Context, raw string) (*endomain.LookupHit, error) {
	p.used++
	return p.results[raw], nil
}

func newTestSvc(repo endomain.Repo, p endomain.Provider, set *OverrideSet) *Svc {
	if set == nil {
		set = NewOverrideSet(nil)
	}
	return &Svc{
		deps:      modkit.Deps{},
		repo:      repo,
		provider:  p,
		overrides: set,
		salt:      "test-salt",
		validate:  validator.New(),
		log:       *logger.Named("resolver-test"),
	}
}

func strat() domain.Strategy {
	return domain.Strategy{
		PlanCodeColumn:      "plan",
		AccountNumberColumn: "acct",
		AccountNameColumn:   "acct_name",
		CustomerNameColumn:  "customer",
		ExistingIDColumn:    "existing",
		OutputColumn:        "company_id",
		GenerateTempIDs:     true,
		EnableBackflow:      true,
		EnableAsyncQueue:    true,
	}
}

func noEqc() domain.EqcConfig { return domain.EqcConfig{} }

func TestResolve_OverrideLayerWins(t *testing.T) {
	t.Parallel()

	set := NewOverrideSet([]domain.CompanyMapping{
		{AliasName: "平安养老", CanonicalID: "111", MatchType: domain.MatchName},
	})
	fr := newFakeRepo()
	// cache also knows the name; the override must win without touching it
	fr.put(endomain.TypeCustomerName, normalize.Name("平安养老"), "999")

	batch := domain.Batch{{"customer": "平安养老"}}
	stats, err := newTestSvc(fr, nil, set).Resolve(context.Background(), batch, strat(), noEqc())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := batch[0]["company_id"]; got != "111" {
		t.Fatalf("company_id = %q, want override id 111", got)
	}
	if stats.YamlHits[domain.MatchName] != 1 || stats.DBCacheHits != 0 {
		t.Fatalf("layer accounting wrong: %+v", stats)
	}
	if stats.DecisionPaths[0] != "" {
		t.Fatalf("override-resolved row must not carry a cache path, got %q", stats.DecisionPaths[0])
	}
}

func TestResolve_CacheHitByCustomerName(t *testing.T) {
	t.Parallel()

	raw := "北京燃气集团有限公司"
	fr := newFakeRepo()
	fr.put(endomain.TypeCustomerName, normalize.Name(raw), "614810477")

	batch := domain.Batch{{"customer": raw}}
	stats, err := newTestSvc(fr, nil, nil).Resolve(context.Background(), batch, strat(), noEqc())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if batch[0]["company_id"] != "614810477" {
		t.Fatalf("company_id = %q", batch[0]["company_id"])
	}
	want := "DB-P1:MISS→DB-P2:MISS→DB-P3:MISS→DB-P4:HIT"
	if stats.DecisionPaths[0] != want {
		t.Fatalf("path = %q, want %q", stats.DecisionPaths[0], want)
	}
	if stats.DBCacheHitsByType["customer_name"] != 1 {
		t.Fatalf("hit type accounting wrong: %+v", stats.DBCacheHitsByType)
	}
	if len(fr.touched) != 1 || fr.touched[0].Type != endomain.TypeCustomerName {
		t.Fatalf("hit must bump the cache counter, touched=%v", fr.touched)
	}
}

func TestResolve_CachePriorityPlanFirst(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fr.put(endomain.TypePlanCode, "P0001", "100")
	fr.put(endomain.TypeCustomerName, normalize.Name("某公司"), "200")

	batch := domain.Batch{{"plan": "P0001", "customer": "某公司"}}
	stats, err := newTestSvc(fr, nil, nil).Resolve(context.Background(), batch, strat(), noEqc())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if batch[0]["company_id"] != "100" {
		t.Fatalf("plan dimension must win, got %q", batch[0]["company_id"])
	}
	if stats.DecisionPaths[0] != "DB-P1:HIT" {
		t.Fatalf("path = %q", stats.DecisionPaths[0])
	}
}

func TestResolve_SentinelCacheRecordKeepsProbing(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fr.put(endomain.TypePlanCode, "P9", "N/A")
	fr.put(endomain.TypeCustomerName, normalize.Name("丙公司"), "300")

	batch := domain.Batch{{"plan": "P9", "customer": "丙公司"}}
	stats, err := newTestSvc(fr, nil, nil).Resolve(context.Background(), batch, strat(), noEqc())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if batch[0]["company_id"] != "300" {
		t.Fatalf("sentinel record must not resolve the row, got %q", batch[0]["company_id"])
	}
	want := "DB-P1:INVALID→DB-P2:MISS→DB-P3:MISS→DB-P4:HIT"
	if stats.DecisionPaths[0] != want {
		t.Fatalf("path = %q, want %q", stats.DecisionPaths[0], want)
	}
}

func TestResolve_ExistingColumnBackflow(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	batch := domain.Batch{
		{"plan": "PL9", "customer": "丁集团", "existing": "987"},
		{"customer": "戊公司", "existing": "IN_ABCDEFGHIJKLMNOP"},
		{"customer": "己公司", "existing": "N/A"},
	}
	stats, err := newTestSvc(fr, nil, nil).Resolve(context.Background(), batch, strat(), noEqc())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if batch[0]["company_id"] != "987" || batch[1]["company_id"] != "IN_ABCDEFGHIJKLMNOP" {
		t.Fatalf("passthrough wrong: %q %q", batch[0]["company_id"], batch[1]["company_id"])
	}
	if stats.ExistingColumnHits != 2 {
		t.Fatalf("ExistingColumnHits = %d, want 2", stats.ExistingColumnHits)
	}
	// sentinel existing id falls through to the temp-id layer
	if !strings.HasPrefix(batch[2]["company_id"], "IN_") {
		t.Fatalf("sentinel existing id must not pass through, got %q", batch[2]["company_id"])
	}

	// only the real id back-flows, keyed by plan code and normalized name
	var keys []string
	for _, up := range fr.upserts {
		if up.CompanyID == "IN_ABCDEFGHIJKLMNOP" {
			t.Fatalf("temp ids must never back-flow: %+v", up)
		}
		if up.Source != endomain.SourceBackflow || up.Confidence != endomain.ConfidenceBackflow {
			t.Fatalf("backflow shape wrong: %+v", up)
		}
		keys = append(keys, string(up.Type)+"="+up.Key)
	}
	joined := strings.Join(keys, ",")
	if !strings.Contains(joined, "plan_code=PL9") ||
		!strings.Contains(joined, "customer_name="+normalize.Name("丁集团")) {
		t.Fatalf("backflow keys wrong: %v", keys)
	}
}

func TestResolve_ExternalBudgetGrouping(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fp := &fakeProvider{results: map[string]*endomain.LookupHit{
		"甲公司": {CompanyID: "100", OfficialName: "甲公司有限"},
	}}
	batch := domain.Batch{
		{"customer": "甲公司"}, {"customer": "甲公司"}, {"customer": "甲公司"},
		{"customer": "乙公司"},
		{"customer": "丙公司"},
	}
	eqc := domain.EqcConfig{Enabled: true, SyncBudget: 2}
	stats, err := newTestSvc(fr, fp, nil).Resolve(context.Background(), batch, strat(), eqc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// three duplicate rows cost one call; the budget covers 甲 and 乙 only
	if fp.used != 2 {
		t.Fatalf("provider calls = %d, want 2", fp.used)
	}
	if stats.EqcSyncHits != 3 {
		t.Fatalf("EqcSyncHits = %d, want 3", stats.EqcSyncHits)
	}
	for i := 0; i < 3; i++ {
		if batch[i]["company_id"] != "100" {
			t.Fatalf("row %d not resolved by external hit: %q", i, batch[i]["company_id"])
		}
	}
	// 丙 never got a call and lands on a temp id
	if !strings.HasPrefix(batch[4]["company_id"], "IN_") {
		t.Fatalf("out-of-budget row should fall to temp id, got %q", batch[4]["company_id"])
	}
	if stats.BudgetConsumed != 2 || stats.BudgetRemaining != 0 {
		t.Fatalf("budget accounting wrong: %+v", stats)
	}

	// the confirmed hit is staged into the cache under the normalized name
	found := false
	for _, up := range fr.upserts {
		if up.Source == endomain.SourceEqc && up.Key == normalize.Name("甲公司") &&
			up.Confidence == endomain.ConfidenceEqc {
			found = true
		}
	}
	if !found {
		t.Fatalf("external hit missing from cache writes: %+v", fr.upserts)
	}
}

func TestResolve_TempIDsAndQueueDedup(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	batch := domain.Batch{
		{"customer": "未知公司"},
		{"customer": "未知公司"},
		{"customer": "0"},
		{"customer": "   "},
	}
	stats, err := newTestSvc(fr, nil, nil).Resolve(context.Background(), batch, strat(), noEqc())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if batch[0]["company_id"] == "" || batch[0]["company_id"] != batch[1]["company_id"] {
		t.Fatalf("same name must share one temp id: %q vs %q",
			batch[0]["company_id"], batch[1]["company_id"])
	}
	// placeholders stay unresolved rather than earning ids
	if batch[2]["company_id"] != "" || batch[3]["company_id"] != "" {
		t.Fatalf("placeholders must not get ids: %q %q",
			batch[2]["company_id"], batch[3]["company_id"])
	}
	if stats.TempIDsGenerated != 2 || stats.Unresolved != 2 {
		t.Fatalf("counter mismatch: %+v", stats)
	}
	// one queue entry per distinct normalized name
	if len(fr.enq) != 1 || fr.enq[0].NormalizedName != normalize.Name("未知公司") {
		t.Fatalf("enqueue dedup wrong: %+v", fr.enq)
	}
	if stats.AsyncQueued != 1 {
		t.Fatalf("AsyncQueued = %d, want 1", stats.AsyncQueued)
	}
}

func TestResolve_StrategyValidation(t *testing.T) {
	t.Parallel()

	svc := newTestSvc(newFakeRepo(), nil, nil)

	bad := strat()
	bad.CustomerNameColumn = ""
	_, err := svc.Resolve(context.Background(), domain.Batch{{"x": "y"}}, bad, noEqc())
	if err == nil {
		t.Fatalf("missing customer column config must fail")
	}
	if !perr.IsCode(err, perr.ErrorCodeValidation) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if e, ok := perr.As(err); !ok || e.Field() == "" {
		t.Fatalf("validation error should carry the offending field, got %v", err)
	}

	// configured column entirely absent from the batch is a config error too
	if _, err := svc.Resolve(context.Background(), domain.Batch{{"other": "v"}}, strat(), noEqc()); err == nil {
		t.Fatalf("absent customer column must fail")
	}
}

func TestResolve_StatsAddUp(t *testing.T) {
	t.Parallel()

	set := NewOverrideSet([]domain.CompanyMapping{
		{AliasName: "P1", CanonicalID: "10", MatchType: domain.MatchPlan},
	})
	fr := newFakeRepo()
	fr.put(endomain.TypeCustomerName, normalize.Name("庚公司"), "20")

	// one row per layer: override, cache, passthrough, temp id, placeholder
	batch := domain.Batch{
		{"plan": "P1", "customer": "任意"},
		{"customer": "庚公司"},
		{"customer": "辛公司", "existing": "30"},
		{"customer": "壬公司"},
		{"customer": "0"},
	}
	stats, err := newTestSvc(fr, nil, set).Resolve(context.Background(), batch, strat(), noEqc())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	sum := stats.YamlHitTotal() + stats.DBCacheHits + stats.ExistingColumnHits +
		stats.EqcSyncHits + stats.TempIDsGenerated + stats.Unresolved
	if sum != stats.TotalRows {
		t.Fatalf("layer counters %d do not sum to total %d: %+v", sum, stats.TotalRows, stats)
	}
	if stats.Resolved() != 4 {
		t.Fatalf("Resolved() = %d, want 4", stats.Resolved())
	}
}

func TestResolve_EmptyBatch(t *testing.T) {
	t.Parallel()

	stats, err := newTestSvc(newFakeRepo(), nil, nil).
		Resolve(context.Background(), domain.Batch{}, strat(), noEqc())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if stats.TotalRows != 0 || stats.Unresolved != 0 {
		t.Fatalf("empty batch stats wrong: %+v", stats)
	}
}
