// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Deployment    DeploymentConfig    `yaml:"deployment"`
	Bootstrap     BootstrapConfig     `yaml:"bootstrap"`
	Store         StoreConfig         `yaml:"store"`
	Lock          LockConfig          `yaml:"lock"`
	Cache         CacheConfig         `yaml:"cache"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DeploymentConfig identifies the instance archives must be built for.
type DeploymentConfig struct {
	Identity    string `yaml:"identity"`
	InstanceURL string `yaml:"instance_url"`
}

// BootstrapConfig describes where archives are dropped and installed.
type BootstrapConfig struct {
	DropDir       string        `yaml:"drop_dir"`
	FormsDir      string        `yaml:"forms_dir"`
	ResourcesDir  string        `yaml:"resources_dir"`
	StrictParsing bool          `yaml:"strict_parsing"`
	MarkProcessed bool          `yaml:"mark_processed"`
	Interval      time.Duration `yaml:"interval"`
}

// StoreConfig describes form persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LockConfig describes the bootstrap run guard.
type LockConfig struct {
	Driver  string        `yaml:"driver"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	MaxEntries int  `yaml:"max_entries"`
	Warm       bool `yaml:"warm"`
}

// ServerConfig describes the operations HTTP server.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Supported store and lock drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Bootstrap: BootstrapConfig{
			DropDir:      "akvoflow/inbox",
			FormsDir:     "forms",
			ResourcesDir: "res",
			Interval:     5 * time.Minute,
		},
		Store: StoreConfig{
			Driver:          DriverSQLite,
			DSN:             "fieldform.sqlite",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Lock: LockConfig{
			Driver: DriverMemory,
			TTL:    10 * time.Minute,
		},
		Cache: CacheConfig{
			MaxEntries: 128,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields. Variables from a .env file in the working
// directory are loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Deployment.Identity == "" && c.Deployment.InstanceURL == "" {
		errs = append(errs, "deployment.identity or deployment.instance_url is required")
	}
	if c.Bootstrap.DropDir == "" {
		errs = append(errs, "bootstrap.drop_dir is required")
	}
	if c.Bootstrap.FormsDir == "" {
		errs = append(errs, "bootstrap.forms_dir is required")
	}
	if c.Bootstrap.ResourcesDir == "" {
		errs = append(errs, "bootstrap.resources_dir is required")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.StoreDSN() == "" {
			errs = append(errs, "store.dsn or store.dsn_env is required for driver "+c.Store.Driver)
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (memory, sqlite, postgres)", c.Store.Driver))
	}
	switch c.Lock.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Lock.AddrEnv == "" || os.Getenv(c.Lock.AddrEnv) == "" {
			errs = append(errs, "lock.addr_env must name a set variable for driver redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("lock.driver %q is not supported (memory, redis)", c.Lock.Driver))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// StoreDSN returns the store DSN, preferring the variable named by DSNEnv.
func (c *Config) StoreDSN() string {
	if c.Store.DSNEnv != "" {
		if v := os.Getenv(c.Store.DSNEnv); v != "" {
			return v
		}
	}
	return c.Store.DSN
}

// applyEnvOverrides reads FIELDFORM_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FIELDFORM_DEPLOYMENT_IDENTITY"); v != "" {
		cfg.Deployment.Identity = v
	}
	if v := os.Getenv("FIELDFORM_DEPLOYMENT_INSTANCE_URL"); v != "" {
		cfg.Deployment.InstanceURL = v
	}
	if v := os.Getenv("FIELDFORM_BOOTSTRAP_DROP_DIR"); v != "" {
		cfg.Bootstrap.DropDir = v
	}
	if v := os.Getenv("FIELDFORM_BOOTSTRAP_STRICT_PARSING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bootstrap.StrictParsing = b
		}
	}
	if v := os.Getenv("FIELDFORM_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("FIELDFORM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FIELDFORM_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
