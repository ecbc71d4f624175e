// Package config loads actorsync settings: defaults, then an optional YAML
// file, then ACTORSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/actorsync/internal/retry"
)

// DefaultDatabase is the mutation log database used when none is set.
const DefaultDatabase = "actorsync.db"

// Config is the resolved configuration.
type Config struct {
	// Endpoint is the base URL of the actor server.
	Endpoint string `yaml:"endpoint" env:"ACTORSYNC_ENDPOINT"`

	// ActorTypes is a CUE file or directory of actor-type descriptors.
	ActorTypes string `yaml:"actor_types" env:"ACTORSYNC_ACTOR_TYPES"`

	// ActorType selects a descriptor when ActorTypes holds several.
	ActorType string `yaml:"actor_type" env:"ACTORSYNC_ACTOR_TYPE"`

	// Database is the SQLite file backing the mutation log.
	Database string `yaml:"database" env:"ACTORSYNC_DATABASE"`

	// Namespace prefixes mutation log keys. Empty disables persistence.
	Namespace string `yaml:"namespace" env:"ACTORSYNC_NAMESPACE"`

	Retry Retry `yaml:"retry" envPrefix:"ACTORSYNC_RETRY_"`

	DrainOnReadFailure bool `yaml:"drain_on_read_failure" env:"ACTORSYNC_DRAIN_ON_READ_FAILURE"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr" env:"ACTORSYNC_METRICS_ADDR"`
}

// Retry configures the backoff between attempts.
type Retry struct {
	InitialInterval time.Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:           DefaultDatabase,
		Namespace:          "actorsync/",
		DrainOnReadFailure: true,
		Retry: Retry{
			InitialInterval: retry.DefaultInitialInterval,
			MaxInterval:     retry.DefaultMaxInterval,
		},
	}
}

// Load resolves the configuration. An empty path skips the file layer; a
// non-empty path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values. Endpoint may be empty: commands that need
// it check for it themselves.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("endpoint %q must be an absolute URL", c.Endpoint))
		}
	}
	if c.Retry.InitialInterval < 0 || c.Retry.MaxInterval < 0 {
		errs = append(errs, errors.New("retry intervals must not be negative"))
	}
	if c.Retry.MaxInterval > 0 && c.Retry.MaxInterval < c.Retry.InitialInterval {
		errs = append(errs, fmt.Errorf("retry.max_interval %s is below retry.initial_interval %s",
			c.Retry.MaxInterval, c.Retry.InitialInterval))
	}
	return errors.Join(errs...)
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.Retry.InitialInterval > 0 {
		p.InitialInterval = c.Retry.InitialInterval
	}
	if c.Retry.MaxInterval > 0 {
		p.MaxInterval = c.Retry.MaxInterval
	}
	return p
}
