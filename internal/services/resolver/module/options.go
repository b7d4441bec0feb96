package module

import (
	"wdh/internal/platform/config"
	"wdh/internal/services/resolver/domain"
)

// Options carries the run defaults a deployment sets once. Column wiring
// stays per invocation; only feature flags and the override path live here
type Options struct {
	OverridePath string

	OutputColumn     string
	GenerateTempIDs  bool
	EnableBackflow   bool
	EnableAsyncQueue bool

	Eqc domain.EqcConfig
}

// FromConfig reads options using the RESOLVE_ prefix
func FromConfig(cfg config.Conf) Options {
	rc := cfg.Prefix("RESOLVE_")
	return Options{
		OverridePath:     rc.MayString("OVERRIDE_PATH", ""),
		OutputColumn:     rc.MayString("OUTPUT_COLUMN", "company_id"),
		GenerateTempIDs:  rc.MayBool("GENERATE_TEMP_IDS", true),
		EnableBackflow:   rc.MayBool("ENABLE_BACKFLOW", true),
		EnableAsyncQueue: rc.MayBool("ENABLE_ASYNC_QUEUE", true),
		Eqc: domain.EqcConfig{
			Enabled:            rc.MayBool("EQC_ENABLED", false),
			SyncBudget:         rc.MayInt("EQC_SYNC_BUDGET", 10),
			AutoCreateProvider: rc.MayBool("EQC_AUTO_PROVIDER", true),
			ExportUnknownNames: rc.MayBool("EXPORT_UNKNOWN_NAMES", true),
			AutoRefreshToken:   rc.MayBool("EQC_AUTO_REFRESH", true),
		},
	}
}
