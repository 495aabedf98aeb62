package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

// Config points the suite at a deployed server. With an empty SERVER_URL
// the suite boots an in-process server instead, so it also runs in plain
// CI without any environment.
type Config struct {
	ServerURL string `envconfig:"E2E_SERVER_URL"`
	// E2E_JWT_SECRET must match the target server's secret so the suite
	// can mint participant tokens.
	JWTSecret string `envconfig:"E2E_JWT_SECRET" default:"e2e-secret"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
