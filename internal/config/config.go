package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds process configuration parsed from the environment.
type Config struct {
	ListenAddr  string `env:"KHANAN_LISTEN_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"KHANAN_PG_DSN"`

	TokenSecret string        `env:"KHANAN_TOKEN_SECRET,required"`
	TokenIssuer string        `env:"KHANAN_TOKEN_ISSUER" envDefault:"khanannetra"`
	AccessTTL   time.Duration `env:"KHANAN_ACCESS_TTL" envDefault:"1h"`
	RefreshTTL  time.Duration `env:"KHANAN_REFRESH_TTL" envDefault:"2160h"`

	MaxSessionsPerUser int           `env:"KHANAN_MAX_SESSIONS" envDefault:"5"`
	MaxFailedLogins    int           `env:"KHANAN_MAX_FAILED_LOGINS" envDefault:"5"`
	AccountLockWindow  time.Duration `env:"KHANAN_ACCOUNT_LOCK_WINDOW" envDefault:"30m"`

	CatalogPath   string `env:"KHANAN_CATALOG_PATH" envDefault:"config/permissions.yaml"`
	MigrationsDir string `env:"KHANAN_MIGRATIONS_DIR" envDefault:"migrations"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
