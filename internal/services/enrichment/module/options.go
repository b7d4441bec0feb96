package module

import (
	"time"

	"wdh/internal/platform/config"
)

// Options controls the queue worker. Values may also be read from env
type Options struct {
	BatchSize      int
	Tick           time.Duration
	StaleAfter     time.Duration
	RecoverOnStart bool
}

// FromConfig reads options using the ENRICH_ prefix
func FromConfig(cfg config.Conf) Options {
	en := cfg.Prefix("ENRICH_")
	return Options{
		BatchSize:      en.MayInt("QUEUE_TAKE_BATCH", 64),
		Tick:           en.MayDuration("TICK", 500*time.Millisecond),
		StaleAfter:     en.MayDuration("STALE_AFTER", 15*time.Minute),
		RecoverOnStart: en.MayBool("RECOVER_ON_START", true),
	}
}
