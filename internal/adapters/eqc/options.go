package eqc

import "wdh/internal/platform/config"

// FromConfig reads client options using the EQC_ prefix
func FromConfig(cfg config.Conf) Options {
	ec := cfg.Prefix("EQC_")
	return Options{
		BaseURL:     ec.MayString("BASE_URL", ""),
		Token:       ec.MayString("TOKEN", ""),
		UserAgent:   ec.MayString("USER_AGENT", defaultUA),
		Timeout:     ec.MayDuration("TIMEOUT", defaultTimeout),
		Budget:      ec.MayInt("BUDGET", 10),
		AutoRefresh: ec.MayBool("AUTO_REFRESH", true),
		MaxRetries:  ec.MayInt("MAX_RETRIES", defaultMaxRetries),
	}
}
