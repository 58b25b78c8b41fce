// Package config loads the settings of a flexpool data source: the pool it
// draws from, the strategy chain, the circuit breaker and the metrics
// backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/go-i2p/flexpool/lib/connection"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/pool"
	"github.com/go-i2p/flexpool/lib/resilience"
	"github.com/go-i2p/flexpool/lib/strategy"
	"github.com/go-i2p/flexpool/lib/validation"
)

// Default configuration values
const (
	DefaultName                 = "flexpool"
	DefaultPoolSize             = 10
	DefaultMaxIdleMillis        = 10 * 60 * 1000
	DefaultAcquireTimeoutMillis = 30 * 1000
	DefaultMetricsNamespace     = "flexpool"
	DefaultProbeIntervalMillis  = 15 * 1000
)

// Metrics backends.
const (
	BackendRegistry   = "registry"
	BackendPrometheus = "prometheus"
	BackendOTel       = "otel"
)

// Database drivers. An empty driver uses the in-process pool.
const (
	DriverNone    = ""
	DriverSQLite3 = "sqlite3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLEXPOOL_"

// Config holds all configuration for a flexpool data source.
type Config struct {
	DataSource DataSourceConfig  `toml:"datasource" yaml:"datasource"`
	Pool       PoolConfig        `toml:"pool" yaml:"pool"`
	Database   DatabaseConfig    `toml:"database" yaml:"database"`
	Metrics    MetricsConfig     `toml:"metrics" yaml:"metrics"`
	Breaker    BreakerConfig     `toml:"breaker" yaml:"breaker"`
	Strategies []strategy.Config `toml:"strategies" yaml:"strategies"`
}

// DataSourceConfig names the data source and sets its event thresholds.
type DataSourceConfig struct {
	// Name identifies the data source in logs, events and metrics
	Name string `toml:"name" yaml:"name"`
	// AcquireTimeThresholdMillis reports acquisitions slower than this. 0 disables.
	AcquireTimeThresholdMillis int64 `toml:"acquire_time_threshold_millis" yaml:"acquire_time_threshold_millis"`
	// LeaseTimeThresholdMillis reports leases held longer than this. 0 disables.
	LeaseTimeThresholdMillis int64 `toml:"lease_time_threshold_millis" yaml:"lease_time_threshold_millis"`
}

// PoolConfig sizes the underlying pool.
type PoolConfig struct {
	// Size is the initial maximum number of connections
	Size int `toml:"size" yaml:"size"`
	// MaxIdleMillis is how long an idle connection is kept
	MaxIdleMillis int64 `toml:"max_idle_millis" yaml:"max_idle_millis"`
	// AcquireTimeoutMillis bounds a pool wait that carries no deadline
	AcquireTimeoutMillis int64 `toml:"acquire_timeout_millis" yaml:"acquire_timeout_millis"`
	// HealthCheckIntervalMillis runs health checks on idle connections. 0 disables.
	HealthCheckIntervalMillis int64 `toml:"health_check_interval_millis,omitempty" yaml:"health_check_interval_millis,omitempty"`
}

// DatabaseConfig selects a database/sql backed pool.
type DatabaseConfig struct {
	// Driver is empty for the in-process pool, or "sqlite3"
	Driver string `toml:"driver,omitempty" yaml:"driver,omitempty"`
	// DSN is the driver-specific data source name
	DSN string `toml:"dsn,omitempty" yaml:"dsn,omitempty"`
	// Username and Password, when set, are the only credentials the pool serves
	Username string `toml:"username,omitempty" yaml:"username,omitempty"`
	Password string `toml:"password,omitempty" yaml:"password,omitempty"`
}

// MetricsConfig selects where metrics go.
type MetricsConfig struct {
	// Backend is "registry", "prometheus" or "otel"
	Backend string `toml:"backend" yaml:"backend"`
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `toml:"listen,omitempty" yaml:"listen,omitempty"`
	// Namespace prefixes metric names
	Namespace string `toml:"namespace" yaml:"namespace"`
}

// BreakerConfig configures the circuit breaker in front of the pool.
type BreakerConfig struct {
	Enabled             bool  `toml:"enabled" yaml:"enabled"`
	FailureThreshold    int   `toml:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold    int   `toml:"success_threshold" yaml:"success_threshold"`
	CooldownMillis      int64 `toml:"cooldown_millis" yaml:"cooldown_millis"`
	MaxHalfOpenRequests int   `toml:"max_half_open_requests" yaml:"max_half_open_requests"`
	// ProbeIntervalMillis is how often a database pool is pinged. 0 disables.
	ProbeIntervalMillis int64 `toml:"probe_interval_millis" yaml:"probe_interval_millis"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	breaker := resilience.DefaultConfig()
	return &Config{
		DataSource: DataSourceConfig{
			Name: DefaultName,
		},
		Pool: PoolConfig{
			Size:                 DefaultPoolSize,
			MaxIdleMillis:        DefaultMaxIdleMillis,
			AcquireTimeoutMillis: DefaultAcquireTimeoutMillis,
		},
		Metrics: MetricsConfig{
			Backend:   BackendRegistry,
			Namespace: DefaultMetricsNamespace,
		},
		Breaker: BreakerConfig{
			Enabled:             false,
			FailureThreshold:    breaker.FailureThreshold,
			SuccessThreshold:    breaker.SuccessThreshold,
			CooldownMillis:      breaker.Cooldown.Milliseconds(),
			MaxHalfOpenRequests: breaker.MaxHalfOpenRequests,
			ProbeIntervalMillis: DefaultProbeIntervalMillis,
		},
		Strategies: []strategy.Config{
			{
				Kind:            strategy.KindIncrementPoolOnTimeout,
				TimeoutMillis:   strategy.DefaultTimeout.Milliseconds(),
				IncrementSize:   1,
				MaxOverflowSize: 5,
			},
			{
				Kind:                strategy.KindRetry,
				TimeoutMillis:       strategy.DefaultTimeout.Milliseconds(),
				RetryAttempts:       2,
				RetryIntervalMillis: 100,
				RetryBackoff:        strategy.BackoffFixed,
			},
		},
	}
}

// isYAML reports whether path names a YAML file. Everything else is TOML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig reads configuration from a TOML or YAML file, chosen by
// extension, and applies environment overrides.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.WithField("path", path).Debug("config file not found, using defaults")
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// unmarshal decodes data over cfg. The strategy chain is replaced as a
// whole; a file without strategies keeps the current chain.
func unmarshal(path string, data []byte, cfg *Config) error {
	chain := cfg.Strategies
	cfg.Strategies = nil

	var err error
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return err
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = chain
	}
	return nil
}

// SaveConfig writes the configuration to a TOML or YAML file, chosen by
// extension. It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides replaces settings with FLEXPOOL_* environment variables
// when they are set.
func ApplyEnvOverrides(cfg *Config) error {
	strs := []struct {
		env string
		dst *string
	}{
		{"NAME", &cfg.DataSource.Name},
		{"DB_DRIVER", &cfg.Database.Driver},
		{"DB_DSN", &cfg.Database.DSN},
		{"DB_USERNAME", &cfg.Database.Username},
		{"DB_PASSWORD", &cfg.Database.Password},
		{"METRICS_BACKEND", &cfg.Metrics.Backend},
		{"METRICS_LISTEN", &cfg.Metrics.Listen},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + s.env); ok {
			*s.dst = v
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "POOL_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sPOOL_SIZE: %w", apperrors.ErrConfiguration, EnvPrefix, err)
		}
		cfg.Pool.Size = n
	}
	if v, ok := os.LookupEnv(EnvPrefix + "BREAKER_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sBREAKER_ENABLED: %w", apperrors.ErrConfiguration, EnvPrefix, err)
		}
		cfg.Breaker.Enabled = b
	}
	return nil
}

// Validate checks the configuration for errors. Every problem found is
// reported; the result matches errors.ErrConfiguration.
func (c *Config) Validate() error {
	var errs validation.Errors

	errs.Add(validation.Required("datasource.name", c.DataSource.Name))
	errs.Add(validation.NonNegative("datasource.acquire_time_threshold_millis", c.DataSource.AcquireTimeThresholdMillis))
	errs.Add(validation.NonNegative("datasource.lease_time_threshold_millis", c.DataSource.LeaseTimeThresholdMillis))

	errs.Add(validation.Positive("pool.size", c.Pool.Size))
	errs.Add(validation.NonNegative("pool.max_idle_millis", c.Pool.MaxIdleMillis))
	errs.Add(validation.NonNegative("pool.acquire_timeout_millis", c.Pool.AcquireTimeoutMillis))
	errs.Add(validation.NonNegative("pool.health_check_interval_millis", c.Pool.HealthCheckIntervalMillis))

	errs.Add(validation.OneOf("database.driver", c.Database.Driver, DriverNone, DriverSQLite3))
	if c.Database.Driver != DriverNone {
		errs.Add(validation.Required("database.dsn", c.Database.DSN))
	}
	if c.Database.Password != "" {
		errs.Add(validation.Required("database.username", c.Database.Username))
	}

	errs.Add(validation.OneOf("metrics.backend", c.Metrics.Backend, BackendRegistry, BackendPrometheus, BackendOTel))
	errs.Add(validation.HostPort("metrics.listen", c.Metrics.Listen, true))

	if c.Breaker.Enabled {
		errs.Add(validation.Positive("breaker.failure_threshold", c.Breaker.FailureThreshold))
		errs.Add(validation.Positive("breaker.success_threshold", c.Breaker.SuccessThreshold))
		errs.Add(validation.Positive("breaker.max_half_open_requests", c.Breaker.MaxHalfOpenRequests))
		errs.Add(validation.Positive("breaker.cooldown_millis", c.Breaker.CooldownMillis))
		errs.Add(validation.NonNegative("breaker.probe_interval_millis", c.Breaker.ProbeIntervalMillis))
	}

	if _, err := c.StrategyFactories(); err != nil {
		errs.Add(err)
	}
	return errs.Err()
}

// StrategyFactories returns the configured strategy chain, in order.
func (c *Config) StrategyFactories() ([]strategy.Factory, error) {
	return strategy.FromConfig(c.Strategies)
}

func millis(n int64) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// PoolSettings returns the pool.Config for the in-process pool.
func (c *Config) PoolSettings() pool.Config {
	cfg := pool.DefaultConfig()
	cfg.MaxSize = c.Pool.Size
	if c.Pool.MaxIdleMillis > 0 {
		cfg.MaxIdleTime = millis(c.Pool.MaxIdleMillis)
	}
	if c.Pool.AcquireTimeoutMillis > 0 {
		cfg.AcquireTimeout = millis(c.Pool.AcquireTimeoutMillis)
	}
	cfg.HealthCheckInterval = millis(c.Pool.HealthCheckIntervalMillis)
	return cfg
}

// BreakerSettings returns the resilience settings for the circuit breaker.
func (c *Config) BreakerSettings() (resilience.Config, resilience.MonitorConfig) {
	monitor := resilience.DefaultMonitorConfig()
	monitor.Interval = millis(c.Breaker.ProbeIntervalMillis)
	return resilience.Config{
		FailureThreshold:    c.Breaker.FailureThreshold,
		SuccessThreshold:    c.Breaker.SuccessThreshold,
		Cooldown:            millis(c.Breaker.CooldownMillis),
		MaxHalfOpenRequests: c.Breaker.MaxHalfOpenRequests,
	}, monitor
}

// Credentials returns the credentials the pool is restricted to, or nil
// when it serves any.
func (c *Config) Credentials() *connection.Credentials {
	if c.Database.Username == "" {
		return nil
	}
	return &connection.Credentials{Username: c.Database.Username, Password: c.Database.Password}
}

// AcquireTimeThreshold returns the acquisition time threshold.
func (c *Config) AcquireTimeThreshold() time.Duration {
	return millis(c.DataSource.AcquireTimeThresholdMillis)
}

// LeaseTimeThreshold returns the lease time threshold.
func (c *Config) LeaseTimeThreshold() time.Duration {
	return millis(c.DataSource.LeaseTimeThresholdMillis)
}
