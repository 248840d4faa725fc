// Package config loads per-provider OAuth settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Provider holds the OAuth application settings for one upstream.
// Client secrets are never defaulted; a provider that needs one fails at
// the point of use when it is absent.
type Provider struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURI  string `env:"REDIRECT_URI"`
	Scope        string `env:"SCOPE"`
}

// Config is the full provider configuration, read from FITBIT_*,
// POLAR_* and WITHINGS_* environment variables.
type Config struct {
	Fitbit   Provider `envPrefix:"FITBIT_"`
	Polar    Provider `envPrefix:"POLAR_"`
	Withings Provider `envPrefix:"WITHINGS_"`
}

// Load reads the configuration from the environment, applying default
// redirect URIs and scopes where none are set.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Fitbit.RedirectURI == "" {
		cfg.Fitbit.RedirectURI = "http://localhost:8080/auth/fitbit/callback"
	}
	if cfg.Fitbit.Scope == "" {
		cfg.Fitbit.Scope = "activity heartrate sleep profile weight oxygen_saturation temperature"
	}
	if cfg.Polar.RedirectURI == "" {
		cfg.Polar.RedirectURI = "http://localhost:8080/auth/polar/callback"
	}
	if cfg.Polar.Scope == "" {
		cfg.Polar.Scope = "accesslink.read_all"
	}
	if cfg.Withings.RedirectURI == "" {
		cfg.Withings.RedirectURI = "http://localhost:8080/auth/withings/callback"
	}
	if cfg.Withings.Scope == "" {
		// Withings scopes are comma-separated, unlike the other two.
		cfg.Withings.Scope = "user.metrics,user.activity"
	}
}
