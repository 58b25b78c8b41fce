package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/lib/strategy"
	"github.com/go-i2p/flexpool/lib/validation"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataSource.Name == "" {
		t.Error("default config should have a data source name")
	}
	if cfg.Pool.Size != DefaultPoolSize {
		t.Errorf("Pool.Size = %d, want %d", cfg.Pool.Size, DefaultPoolSize)
	}
	if cfg.Metrics.Backend != BackendRegistry {
		t.Errorf("Metrics.Backend = %q, want %q", cfg.Metrics.Backend, BackendRegistry)
	}
	if len(cfg.Strategies) != 2 {
		t.Fatalf("default chain has %d strategies, want 2", len(cfg.Strategies))
	}
	if cfg.Strategies[0].Kind != strategy.KindIncrementPoolOnTimeout {
		t.Errorf("first strategy = %q, want %q", cfg.Strategies[0].Kind, strategy.KindIncrementPoolOnTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty name",
			modify:  func(c *Config) { c.DataSource.Name = "" },
			wantErr: true,
		},
		{
			name:    "negative threshold",
			modify:  func(c *Config) { c.DataSource.LeaseTimeThresholdMillis = -1 },
			wantErr: true,
		},
		{
			name:    "zero pool size",
			modify:  func(c *Config) { c.Pool.Size = 0 },
			wantErr: true,
		},
		{
			name:    "negative pool duration",
			modify:  func(c *Config) { c.Pool.AcquireTimeoutMillis = -5 },
			wantErr: true,
		},
		{
			name:    "sqlite without dsn",
			modify:  func(c *Config) { c.Database.Driver = DriverSQLite3 },
			wantErr: true,
		},
		{
			name: "sqlite with dsn",
			modify: func(c *Config) {
				c.Database.Driver = DriverSQLite3
				c.Database.DSN = "file:test.db"
			},
			wantErr: false,
		},
		{
			name:    "unknown driver",
			modify:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: true,
		},
		{
			name:    "password without username",
			modify:  func(c *Config) { c.Database.Password = "secret" },
			wantErr: true,
		},
		{
			name:    "unknown metrics backend",
			modify:  func(c *Config) { c.Metrics.Backend = "statsd" },
			wantErr: true,
		},
		{
			name: "breaker without cooldown",
			modify: func(c *Config) {
				c.Breaker.Enabled = true
				c.Breaker.CooldownMillis = 0
			},
			wantErr: true,
		},
		{
			name: "disabled breaker is not checked",
			modify: func(c *Config) {
				c.Breaker.FailureThreshold = 0
			},
			wantErr: false,
		},
		{
			name:    "empty chain",
			modify:  func(c *Config) { c.Strategies = nil },
			wantErr: true,
		},
		{
			name:    "unknown strategy",
			modify:  func(c *Config) { c.Strategies[1].Kind = "pray" },
			wantErr: true,
		},
		{
			name:    "overflow missing",
			modify:  func(c *Config) { c.Strategies[0].MaxOverflowSize = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperrors.ErrConfiguration) {
				t.Errorf("Validate() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLoadConfig_DefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.DataSource.Name != DefaultName {
		t.Errorf("Name = %q, want %q", cfg.DataSource.Name, DefaultName)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	for _, file := range []string{"config.toml", "config.yaml", "config.yml"} {
		t.Run(file, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), file)

			cfg := DefaultConfig()
			cfg.DataSource.Name = "orders"
			cfg.DataSource.AcquireTimeThresholdMillis = 250
			cfg.Pool.Size = 4
			cfg.Breaker.Enabled = true
			cfg.Strategies = append(cfg.Strategies, strategy.Config{
				Kind:  strategy.KindThrottle,
				Rate:  2.5,
				Burst: 3,
			})

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("config file not written: %v", err)
			}
			if perm := info.Mode().Perm(); perm != 0600 {
				t.Errorf("config file mode = %o, want 600", perm)
			}

			loaded, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if loaded.DataSource.Name != "orders" {
				t.Errorf("Name = %q, want %q", loaded.DataSource.Name, "orders")
			}
			if loaded.AcquireTimeThreshold() != 250*time.Millisecond {
				t.Errorf("AcquireTimeThreshold = %v, want 250ms", loaded.AcquireTimeThreshold())
			}
			if loaded.Pool.Size != 4 {
				t.Errorf("Pool.Size = %d, want 4", loaded.Pool.Size)
			}
			if !loaded.Breaker.Enabled {
				t.Error("Breaker.Enabled should survive a round trip")
			}
			if len(loaded.Strategies) != 3 {
				t.Fatalf("loaded %d strategies, want 3", len(loaded.Strategies))
			}
			last := loaded.Strategies[2]
			if last.Kind != strategy.KindThrottle || last.Rate != 2.5 || last.Burst != 3 {
				t.Errorf("throttle strategy = %+v", last)
			}
		})
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flexpool.yaml")
	data := `
datasource:
  name: reports
pool:
  size: 3
metrics:
  backend: prometheus
  namespace: reports
strategies:
  - kind: throttle
    timeout_millis: 0
  - kind: retry
    timeout_millis: 50
    retry_attempts: 3
    retry_interval_millis: 10
    retry_backoff: exponential
    max_retry_interval_millis: 40
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Metrics.Backend != BackendPrometheus {
		t.Errorf("Backend = %q, want %q", cfg.Metrics.Backend, BackendPrometheus)
	}
	factories, err := cfg.StrategyFactories()
	if err != nil {
		t.Fatalf("StrategyFactories failed: %v", err)
	}
	if len(factories) != 2 {
		t.Errorf("got %d factories, want 2", len(factories))
	}
	if cfg.Strategies[1].RetryBackoff != strategy.BackoffExponential {
		t.Errorf("RetryBackoff = %q", cfg.Strategies[1].RetryBackoff)
	}
}

func TestLoadConfig_TOMLChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flexpool.toml")
	data := `
[datasource]
name = "billing"

[[strategies]]
kind = "increment_pool_on_timeout"
timeout_millis = 20
increment_size = 5
max_overflow_size = 5

[[strategies]]
kind = "retry"
timeout_millis = 100
retry_attempts = 1
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.DataSource.Name != "billing" {
		t.Errorf("Name = %q", cfg.DataSource.Name)
	}
	if cfg.Pool.Size != DefaultPoolSize {
		t.Errorf("unset sections keep defaults, Pool.Size = %d", cfg.Pool.Size)
	}
	if got := cfg.Strategies[0].IncrementSize; got != 5 {
		t.Errorf("IncrementSize = %d, want 5", got)
	}
	if got := cfg.Strategies[1].Kind; got != strategy.KindRetry {
		t.Errorf("second strategy = %q", got)
	}
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("this is [not valid toml"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig should fail on invalid TOML")
	}
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "[pool]\nsize = 0\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(path)
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("LoadConfig error = %v, want ErrConfiguration", err)
	}
}

func TestSaveConfig_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.toml")
	if err := SaveConfig(DefaultConfig(), path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FLEXPOOL_NAME", "env-source")
	t.Setenv("FLEXPOOL_POOL_SIZE", "7")
	t.Setenv("FLEXPOOL_DB_DRIVER", DriverSQLite3)
	t.Setenv("FLEXPOOL_DB_DSN", "file:env.db")
	t.Setenv("FLEXPOOL_METRICS_BACKEND", BackendOTel)
	t.Setenv("FLEXPOOL_BREAKER_ENABLED", "true")

	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}

	if cfg.DataSource.Name != "env-source" {
		t.Errorf("Name = %q, want %q", cfg.DataSource.Name, "env-source")
	}
	if cfg.Pool.Size != 7 {
		t.Errorf("Pool.Size = %d, want 7", cfg.Pool.Size)
	}
	if cfg.Database.Driver != DriverSQLite3 || cfg.Database.DSN != "file:env.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Metrics.Backend != BackendOTel {
		t.Errorf("Backend = %q, want %q", cfg.Metrics.Backend, BackendOTel)
	}
	if !cfg.Breaker.Enabled {
		t.Error("Breaker.Enabled should be overridden")
	}
}

func TestApplyEnvOverrides_BadNumber(t *testing.T) {
	t.Setenv("FLEXPOOL_POOL_SIZE", "lots")
	err := ApplyEnvOverrides(DefaultConfig())
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("ApplyEnvOverrides error = %v, want ErrConfiguration", err)
	}
}

func TestLoadConfig_WithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := DefaultConfig()
	cfg.DataSource.Name = "file-source"
	cfg.Pool.Size = 2
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	t.Setenv("FLEXPOOL_POOL_SIZE", "9")

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.DataSource.Name != "file-source" {
		t.Errorf("Name = %q, want %q", loaded.DataSource.Name, "file-source")
	}
	if loaded.Pool.Size != 9 {
		t.Errorf("Pool.Size = %d, want 9 (env override)", loaded.Pool.Size)
	}
}

func TestDerivedSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.Size = 3
	cfg.Pool.AcquireTimeoutMillis = 1500
	cfg.Breaker.CooldownMillis = 2000
	cfg.Breaker.ProbeIntervalMillis = 500

	ps := cfg.PoolSettings()
	if ps.MaxSize != 3 || ps.AcquireTimeout != 1500*time.Millisecond {
		t.Errorf("PoolSettings = %+v", ps)
	}

	bc, mc := cfg.BreakerSettings()
	if bc.Cooldown != 2*time.Second {
		t.Errorf("Cooldown = %v, want 2s", bc.Cooldown)
	}
	if mc.Interval != 500*time.Millisecond {
		t.Errorf("Interval = %v, want 500ms", mc.Interval)
	}

	if cfg.Credentials() != nil {
		t.Error("no username means no credential restriction")
	}
	cfg.Database.Username = "app"
	cfg.Database.Password = "pw"
	creds := cfg.Credentials()
	if creds == nil || creds.Username != "app" || creds.Password != "pw" {
		t.Errorf("Credentials = %+v", creds)
	}
}

func TestLoadConfig_ChainReplacedAsWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "[[strategies]]\nkind = \"throttle\"\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Strategies) != 1 || cfg.Strategies[0].Kind != strategy.KindThrottle {
		t.Errorf("Strategies = %+v, want only throttle", cfg.Strategies)
	}
	if cfg.Strategies[0].MaxOverflowSize != 0 {
		t.Error("default chain settings leaked into the configured chain")
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataSource.Name = ""
	cfg.Pool.Size = 0
	cfg.Metrics.Listen = "no-port"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	for _, field := range []string{"datasource.name", "pool.size", "metrics.listen"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Validate() error %q does not mention %s", err, field)
		}
	}
	if !errors.Is(err, validation.ErrRequired) || !errors.Is(err, validation.ErrOutOfRange) {
		t.Errorf("Validate() error = %v, want validation sentinels", err)
	}
}
