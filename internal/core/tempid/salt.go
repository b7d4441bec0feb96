package tempid

import (
	"strings"

	"wdh/internal/platform/config"
	"wdh/internal/platform/logger"
)

// devSalt keeps development environments working without configuration.
// It must never appear in production; SaltFromEnv shouts when it does
const devSalt = "wdh-dev-alias-salt"

// SaltFromEnv reads WDH_ALIAS_SALT once at startup. When the variable is
// missing a development default is used: a warning in dev, an error-level
// log in production-like environments (APP_ENV=prod|production)
func SaltFromEnv(cfg config.Conf) string {
	if s := cfg.MayString("WDH_ALIAS_SALT", ""); s != "" {
		return s
	}

	env := strings.ToLower(cfg.MayString("APP_ENV", "dev"))
	log := logger.Named("tempid")
	if env == "prod" || env == "production" {
		log.Error().Str("env", env).Msg("WDH_ALIAS_SALT missing, falling back to dev salt")
	} else {
		log.Warn().Str("env", env).Msg("WDH_ALIAS_SALT missing, using dev salt")
	}
	return devSalt
}
