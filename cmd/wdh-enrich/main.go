// Command wdh-enrich runs the async enrichment side of the identity core:
// the durable queue worker, stale-row recovery sweeps and queue inspection
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"wdh/internal/adapters/eqc"
	"wdh/internal/modkit"
	"wdh/internal/modkit/module"
	"wdh/internal/modkit/repokit"
	"wdh/internal/platform/config"
	"wdh/internal/platform/logger"
	"wdh/internal/platform/store"

	enmod "wdh/internal/services/enrichment/module"
)

func mustSetEnv(key, val string) {
	if val != "" {
		_ = os.Setenv(key, val)
	}
}

func main() {
	root := config.New()
	dbCfg := root.Prefix("SERVICE_PGSQL_")

	l := logger.Get()

	st, err := store.Open(context.Background(), store.Config{
		PG: store.PGConfig{
			Enabled:     true,
			URL:         dbCfg.MustString("DBURL"),
			MaxConns:    int32(dbCfg.MayInt("MAX_CONNS", 4)),
			SlowQueryMs: dbCfg.MayInt("SLOW_MS", 500),
			LogSQL:      dbCfg.MayBool("LOG_SQL", false),
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

	// Flags
	var (
		fMode    = flag.String("mode", "worker", "enrich mode: worker | recover | depth | migrate")
		fBatch   = flag.Int("batch", 0, "queue claim batch size (0 = from env)")
		fTick    = flag.Duration("tick", 0, "worker poll interval (0 = from env)")
		fStale   = flag.Duration("stale", 0, "processing age before recovery hands rows back (0 = from env)")
		fMigrate = flag.Bool("migrate", false, "ensure cache and queue tables before starting")
	)
	flag.Parse()

	deps := modkit.Deps{
		Cfg: root,
		PG:  st.PG,
		Log: *l,
	}

	// Export flag knobs as env so FromConfig sees one source of truth
	if *fBatch > 0 {
		mustSetEnv("ENRICH_QUEUE_TAKE_BATCH", fmt.Sprintf("%d", *fBatch))
	}
	if *fTick > 0 {
		mustSetEnv("ENRICH_TICK", fTick.String())
	}
	if *fStale > 0 {
		mustSetEnv("ENRICH_STALE_AFTER", fStale.String())
	}

	provider := eqc.NewClient(eqc.FromConfig(root))

	em := enmod.New(deps, provider, enmod.Options{
		BatchSize:  *fBatch,
		Tick:       *fTick,
		StaleAfter: *fStale,
	})

	module.Register(em.Name(), em.Ports())
	ports := module.MustPortsOf[enmod.Ports](em)

	ctx := context.Background()

	if *fMigrate || *fMode == "migrate" {
		if err := ports.Repo.EnsureSchema(ctx); err != nil {
			l.Fatal().Err(err).Msg("schema bootstrap failed")
		}
		l.Info().Msg("enrichment schema ensured")
		if *fMode == "migrate" {
			return
		}
	}

	switch *fMode {
	case "worker":
		// Run forever (until ctx cancel) draining the lookup queue
		if err := ports.Worker.Run(ctx); err != nil {
			l.Fatal().Err(err).Msg("enrichment worker failed")
		}

	case "recover":
		// One recovery sweep, then exit
		stale := *fStale
		if stale <= 0 {
			stale = 15 * time.Minute
		}
		n, err := ports.Recovery.RecoverStale(ctx, stale)
		if err != nil {
			l.Fatal().Err(err).Msg("stale recovery sweep failed")
		}
		l.Info().Int("recovered", n).Msg("stale processing rows reset to pending")

	case "depth":
		depth, err := ports.Repo.QueueDepth(ctx)
		if err != nil {
			l.Fatal().Err(err).Msg("queue depth query failed")
		}
		ready, err := ports.Repo.ReadyDepth(ctx)
		if err != nil {
			l.Fatal().Err(err).Msg("ready depth query failed")
		}
		ev := l.Info().Int64("ready", ready)
		for status, n := range depth {
			ev = ev.Int64(status, n)
		}
		ev.Msg("queue depth")

	default:
		l.Panic().Str("mode", *fMode).Msg("unknown -mode (expected: worker | recover | depth | migrate)")
	}
}
