// Package module wires the mapping-learning pass
package module

import (
	"wdh/internal/modkit"
	"wdh/internal/platform/config"
	"wdh/internal/services/learning/domain"
	"wdh/internal/services/learning/service"

	pstrings "wdh/internal/platform/strings"
	endomain "wdh/internal/services/enrichment/domain"
	enrepo "wdh/internal/services/enrichment/repo"
)

// Ports exposed by the learning module
type Ports struct {
	Learner *service.Svc
}

// Module defines the learning module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the learning module. Column maps cannot come from env and
// must arrive through overrides; a domain without one never learns
func New(deps modkit.Deps, overrides domain.Config) *Module {
	cfg := FromConfig(deps.Cfg)
	cfg.EnabledDomains = pstrings.IfEmpty(overrides.EnabledDomains, cfg.EnabledDomains)
	cfg.EnabledTypes = pstrings.IfEmpty(overrides.EnabledTypes, cfg.EnabledTypes)
	if overrides.MinRecords > 0 {
		cfg.MinRecords = overrides.MinRecords
	}
	if overrides.MinConfidence > 0 {
		cfg.MinConfidence = overrides.MinConfidence
	}
	for t, c := range overrides.Confidence {
		cfg.Confidence[t] = c
	}
	cfg.Columns = overrides.Columns

	var repo endomain.Repo
	if deps.PG != nil {
		repo = enrepo.NewPG().Bind(deps.PG)
	}

	m := &Module{deps: deps}
	m.ports = Ports{Learner: service.New(deps, repo, cfg)}
	return m
}

// Name returns the module name
func (m *Module) Name() string { return "learning" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// FromConfig reads learning options using the LEARN_ prefix
func FromConfig(cfg config.Conf) domain.Config {
	lc := cfg.Prefix("LEARN_")
	return domain.Config{
		EnabledDomains: lc.MayCSV("ENABLED_DOMAINS", nil),
		EnabledTypes: toTypes(lc.MayCSV("ENABLED_TYPES", []string{
			string(endomain.TypePlanCode),
			string(endomain.TypeAccountNumber),
			string(endomain.TypeAccountName),
			string(endomain.TypeCustomerName),
			string(endomain.TypePlanCustomer),
		})),
		MinRecords:    lc.MayInt("MIN_RECORDS", 10),
		MinConfidence: lc.MayFloat64("MIN_CONFIDENCE", 0.70),
		Confidence: map[endomain.LookupType]float64{
			endomain.TypePlanCode:      lc.MayFloat64("CONF_PLAN_CODE", 0.90),
			endomain.TypeAccountNumber: lc.MayFloat64("CONF_ACCOUNT_NUMBER", 0.90),
			endomain.TypeAccountName:   lc.MayFloat64("CONF_ACCOUNT_NAME", 0.85),
			endomain.TypeCustomerName:  lc.MayFloat64("CONF_CUSTOMER_NAME", 0.80),
			endomain.TypePlanCustomer:  lc.MayFloat64("CONF_PLAN_CUSTOMER", 0.95),
		},
	}
}

func toTypes(ss []string) []endomain.LookupType {
	out := make([]endomain.LookupType, 0, len(ss))
	for _, s := range ss {
		out = append(out, endomain.LookupType(s))
	}
	return out
}
