// Package module wires the batch resolver: repo binding, override loading,
// provider construction and the salt for temp ids
package module

import (
	"wdh/internal/adapters/eqc"
	"wdh/internal/core/tempid"
	"wdh/internal/modkit"
	"wdh/internal/services/resolver/domain"
	"wdh/internal/services/resolver/service"

	endomain "wdh/internal/services/enrichment/domain"
	enrepo "wdh/internal/services/enrichment/repo"
)

// Ports exposed by the resolver module
type Ports struct {
	Resolver domain.ResolverPort
	Repo     endomain.Repo
}

// Module defines the resolver module
type Module struct {
	deps  modkit.Deps
	opts  Options
	ports Ports
}

// New constructs the resolver module. A nil provider with AutoCreateProvider
// set builds one from EQC_ env; without Postgres the resolver runs degraded
// on the override, passthrough and temp-id layers
func New(deps modkit.Deps, provider endomain.Provider, overrides Options) (*Module, error) {
	opts := merge(FromConfig(deps.Cfg), overrides)

	var repo endomain.Repo
	if deps.PG != nil {
		repo = enrepo.NewPG().Bind(deps.PG)
	}

	if provider == nil && opts.Eqc.Enabled && opts.Eqc.AutoCreateProvider {
		po := eqc.FromConfig(deps.Cfg)
		po.Budget = opts.Eqc.SyncBudget
		po.AutoRefresh = opts.Eqc.AutoRefreshToken
		provider = eqc.NewClient(po)
	}

	set, err := service.LoadOverrides(opts.OverridePath)
	if err != nil {
		return nil, err
	}

	svc := service.New(deps, repo, provider, set, tempid.SaltFromEnv(deps.Cfg))

	m := &Module{deps: deps, opts: opts}
	m.ports = Ports{Resolver: svc, Repo: repo}
	return m, nil
}

// Name returns the module name
func (m *Module) Name() string { return "resolver" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Strategy builds the per-run strategy from the module defaults and the
// caller's column wiring
func (m *Module) Strategy(planCol, acctNumCol, acctNameCol, custCol, existingCol string) domain.Strategy {
	return domain.Strategy{
		PlanCodeColumn:      planCol,
		AccountNumberColumn: acctNumCol,
		AccountNameColumn:   acctNameCol,
		CustomerNameColumn:  custCol,
		ExistingIDColumn:    existingCol,
		OutputColumn:        m.opts.OutputColumn,
		GenerateTempIDs:     m.opts.GenerateTempIDs,
		EnableBackflow:      m.opts.EnableBackflow,
		EnableAsyncQueue:    m.opts.EnableAsyncQueue,
	}
}

// Eqc returns the per-run external lookup config
func (m *Module) Eqc() domain.EqcConfig { return m.opts.Eqc }

func merge(base, over Options) Options {
	if over.OverridePath != "" {
		base.OverridePath = over.OverridePath
	}
	if over.OutputColumn != "" {
		base.OutputColumn = over.OutputColumn
	}
	if over.GenerateTempIDs {
		base.GenerateTempIDs = true
	}
	if over.EnableBackflow {
		base.EnableBackflow = true
	}
	if over.EnableAsyncQueue {
		base.EnableAsyncQueue = true
	}
	if over.Eqc.Enabled {
		base.Eqc.Enabled = true
	}
	if over.Eqc.SyncBudget != 0 {
		base.Eqc.SyncBudget = over.Eqc.SyncBudget
	}
	return base
}
