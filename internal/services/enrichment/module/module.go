// Package module wires the enrichment queue worker and exposes its ports
package module

import (
	"wdh/internal/modkit"
	"wdh/internal/services/enrichment/domain"
	"wdh/internal/services/enrichment/service"
)

// Ports exposed by the enrichment module
type Ports struct {
	Worker   domain.WorkerPort
	Recovery domain.RecoveryPort
	Repo     domain.Repo
}

// Module defines the enrichment module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the enrichment module with its ports
func New(deps modkit.Deps, provider domain.Provider, overrides Options) *Module {
	opts := FromConfig(deps.Cfg)
	if overrides.BatchSize != 0 {
		opts.BatchSize = overrides.BatchSize
	}
	if overrides.Tick != 0 {
		opts.Tick = overrides.Tick
	}
	if overrides.StaleAfter != 0 {
		opts.StaleAfter = overrides.StaleAfter
	}
	if overrides.RecoverOnStart {
		opts.RecoverOnStart = true
	}

	svc := service.New(deps, provider, service.Config{
		BatchSize:      opts.BatchSize,
		Tick:           opts.Tick,
		StaleAfter:     opts.StaleAfter,
		RecoverOnStart: opts.RecoverOnStart,
	})

	m := &Module{deps: deps}
	m.ports = Ports{Worker: svc, Recovery: svc, Repo: svc.Repo}
	return m
}

// Name returns the module name
func (m *Module) Name() string { return "enrichment" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }
