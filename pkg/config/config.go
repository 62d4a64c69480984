// Package config loads relay settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the relay configuration.
type Config struct {
	// Server
	Port string `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"`

	// Upstream APIs
	APIKey          string        `env:"API_KEY"`
	WeatherURL      string        `env:"API_URL"`
	GeoURL          string        `env:"GEO_URL"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`

	// LookupTimeout bounds one /weather lookup, retries included
	LookupTimeout time.Duration `env:"LOOKUP_TIMEOUT" envDefault:"45s"`

	// Shared secret clients pass as the verify query parameter
	VerifyToken string `env:"VERIFY"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
	LogDir    string `env:"LOG_DIR"`

	// Caching
	RedisURL           string        `env:"REDIS_URL"`
	WeatherCacheTTL    time.Duration `env:"WEATHER_CACHE_TTL" envDefault:"10m"`
	CacheSweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"1m"`
	CacheSingleFlight  bool          `env:"CACHE_SINGLE_FLIGHT" envDefault:"false"`
}

// Load parses the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports every missing or invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}
	if c.WeatherURL == "" {
		errs = append(errs, errors.New("API_URL is required"))
	}
	if c.GeoURL == "" {
		errs = append(errs, errors.New("GEO_URL is required"))
	}
	if c.VerifyToken == "" {
		errs = append(errs, errors.New("VERIFY is required"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.LookupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LOOKUP_TIMEOUT must be > 0 (got %s)", c.LookupTimeout))
	}
	if c.WeatherCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("WEATHER_CACHE_TTL must be >= 0 (got %s)", c.WeatherCacheTTL))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}
