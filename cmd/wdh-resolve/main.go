// Command wdh-resolve runs one batch through the company resolver. Rows
// arrive as NDJSON on stdin or a file, leave the same way with the output
// column filled in, and the run summary goes to the log
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"wdh/internal/modkit"
	"wdh/internal/modkit/module"
	"wdh/internal/modkit/repokit"
	"wdh/internal/platform/config"
	"wdh/internal/platform/logger"
	"wdh/internal/platform/store"

	ldomain "wdh/internal/services/learning/domain"
	lmod "wdh/internal/services/learning/module"
	rdomain "wdh/internal/services/resolver/domain"
	rmod "wdh/internal/services/resolver/module"
)

func main() {
	root := config.New()
	dbCfg := root.Prefix("SERVICE_PGSQL_")
	chCfg := root.Prefix("SERVICE_CH_")

	l := logger.Get()

	var (
		fIn        = flag.String("in", "-", "NDJSON input path, - for stdin")
		fOut       = flag.String("out", "-", "NDJSON output path, - for stdout")
		fPlan      = flag.String("plan-col", "", "plan code column")
		fAcct      = flag.String("acct-col", "", "account number column")
		fAcctName  = flag.String("acct-name-col", "", "account name column")
		fCustomer  = flag.String("customer-col", "", "customer name column (required)")
		fExisting  = flag.String("existing-col", "", "pre-resolved id column")
		fOverrides = flag.String("overrides", "", "override YAML path (default from env)")
		fBudget    = flag.Int("budget", 0, "external sync lookup budget (0 = from env)")
		fEqc       = flag.Bool("eqc", false, "enable the synchronous external lookup layer")
		fMigrate   = flag.Bool("migrate", false, "ensure cache and queue tables before resolving")
		fLearn     = flag.String("learn", "", "source domain to mine after resolving (empty = off)")
		fTable     = flag.String("learn-table", "", "source table label for learned mappings")
	)
	flag.Parse()

	if *fCustomer == "" {
		l.Panic().Msg("-customer-col is required")
	}

	// Postgres and ClickHouse are both optional here; without them the
	// resolver degrades to overrides, passthrough and temp ids
	pgURL := dbCfg.MayString("DBURL", "")
	st, err := store.Open(context.Background(), store.Config{
		PG: store.PGConfig{
			Enabled:     pgURL != "",
			URL:         pgURL,
			MaxConns:    int32(dbCfg.MayInt("MAX_CONNS", 4)),
			SlowQueryMs: dbCfg.MayInt("SLOW_MS", 500),
			LogSQL:      dbCfg.MayBool("LOG_SQL", false),
		},
		CH: store.CHConfig{
			Enabled: chCfg.MayString("URL", "") != "",
			URL:     chCfg.MayString("URL", ""),
			Role:    "resolver",
		},
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()
	repokit.MustGuard(context.Background(), st)

	deps := modkit.Deps{
		Cfg: root,
		PG:  st.PG,
		CH:  st.CH,
		Log: *l,
	}

	rm, err := rmod.New(deps, nil, rmod.Options{
		OverridePath: *fOverrides,
		Eqc: rdomain.EqcConfig{
			Enabled:    *fEqc,
			SyncBudget: *fBudget,
		},
	})
	if err != nil {
		l.Panic().Err(err).Msg("resolver module init failed")
	}
	module.Register(rm.Name(), rm.Ports())
	ports := module.MustPortsOf[rmod.Ports](rm)

	ctx := context.Background()

	if *fMigrate {
		if ports.Repo == nil {
			l.Panic().Msg("-migrate needs a configured SERVICE_PGSQL_DBURL")
		}
		if err := ports.Repo.EnsureSchema(ctx); err != nil {
			l.Fatal().Err(err).Msg("schema bootstrap failed")
		}
	}

	batch, err := readBatch(*fIn)
	if err != nil {
		l.Fatal().Err(err).Msg("input read failed")
	}

	strat := rm.Strategy(*fPlan, *fAcct, *fAcctName, *fCustomer, *fExisting)
	stats, err := ports.Resolver.Resolve(ctx, batch, strat, rm.Eqc())
	if err != nil {
		l.Fatal().Err(err).Msg("resolution run failed")
	}

	if err := writeBatch(*fOut, batch); err != nil {
		l.Fatal().Err(err).Msg("output write failed")
	}

	if *fLearn != "" {
		lm := lmod.New(deps, ldomain.Config{
			EnabledDomains: []string{*fLearn},
			Columns: map[string]ldomain.ColumnMap{
				*fLearn: {
					PlanCode:      *fPlan,
					AccountNumber: *fAcct,
					AccountName:   *fAcctName,
					CustomerName:  *fCustomer,
					CompanyID:     strat.OutputColumn,
				},
			},
		})
		module.Register(lm.Name(), lm.Ports())
		res := module.MustPortsOf[lmod.Ports](lm).
			Learner.Learn(ctx, *fLearn, *fTable, batch)
		if res.Skipped {
			l.Info().Str("reason", res.Reason).Msg("learning pass skipped")
		}
	}

	l.Info().
		Str("run_id", stats.RunID).
		Int("rows", stats.TotalRows).
		Int("resolved", stats.Resolved()).
		Int("unresolved", stats.Unresolved).
		Msg("wdh-resolve finished")
}

// readBatch decodes NDJSON rows. Values may be strings, numbers, bools or
// null; everything lands as a string with null reading as empty
func readBatch(path string) (rdomain.Batch, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var batch rdomain.Batch
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<24)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make(rdomain.Row, len(m))
		for k, v := range m {
			row[k] = stringify(v)
		}
		batch = append(batch, row)
	}
	return batch, sc.Err()
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		// keep integers clean; ids and plan codes are the common case
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func writeBatch(path string, batch rdomain.Batch) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, row := range batch {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}
