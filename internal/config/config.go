// Package config loads controller configuration from an optional YAML file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Dispatcher kinds an engine variant can be built from.
const (
	KindNoop       = "noop"
	KindExec       = "exec"
	KindHTTP       = "http"
	KindDocker     = "docker"
	KindKubernetes = "kubernetes"
)

// EngineConfig describes one engine variant: a registry tag bound to a
// dispatcher kind.
type EngineConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`

	// Timeout bounds one dispatch. Zero means unbounded.
	Timeout time.Duration `mapstructure:"timeout"`

	// exec
	Workdir string `mapstructure:"workdir"`

	// http; a node's "url" parameter takes precedence
	URL string `mapstructure:"url"`

	// kubernetes
	Namespace  string `mapstructure:"namespace"`
	Kubeconfig string `mapstructure:"kubeconfig"`
}

// Config holds all configuration values for the controller.
type Config struct {
	StoreDriver string `mapstructure:"store_driver"`
	DatabaseURL string `mapstructure:"database_url"`
	BadgerPath  string `mapstructure:"badger_path"`

	// HTTP server port for the controller
	HTTPPort int `mapstructure:"port"`

	// Number of advance tasks run concurrently
	WorkerConcurrency int `mapstructure:"worker_concurrency"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	LogLevel string `mapstructure:"log_level"`

	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTELEndpoint   string `mapstructure:"otel_endpoint"`

	// Requests per second allowed per client, and the burst on top of it
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	DefaultEngine string         `mapstructure:"default_engine"`
	Engines       []EngineConfig `mapstructure:"engines"`
}

var kindDefaults = map[string]EngineConfig{
	KindNoop:       {},
	KindExec:       {Timeout: 10 * time.Minute, Workdir: filepath.Join(os.TempDir(), "flowplane")},
	KindHTTP:       {Timeout: 30 * time.Second},
	KindDocker:     {Timeout: 30 * time.Minute},
	KindKubernetes: {Timeout: 30 * time.Minute, Namespace: "default"},
}

// Load reads configuration from path (or ./flowplane.yaml when path is
// empty and the file exists) with environment variables taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("database_url", "")
	v.SetDefault("badger_path", "")
	v.SetDefault("port", 6161)
	v.SetDefault("worker_concurrency", 8)
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("rate_limit", 20.0)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("default_engine", "default")

	v.AutomaticEnv()
	if err := v.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("flowplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Engines) == 0 {
		cfg.Engines = []EngineConfig{{Name: cfg.DefaultEngine, Kind: KindNoop}}
	}
	for i := range cfg.Engines {
		if err := applyKindDefaults(&cfg.Engines[i]); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyKindDefaults(e *EngineConfig) error {
	e.Kind = strings.ToLower(e.Kind)
	if e.Kind == "" {
		e.Kind = KindNoop
	}
	defaults, ok := kindDefaults[e.Kind]
	if !ok {
		return fmt.Errorf("engine %q: unknown kind %q", e.Name, e.Kind)
	}
	if err := mergo.Merge(e, defaults); err != nil {
		return fmt.Errorf("engine %q: apply defaults: %w", e.Name, err)
	}
	return nil
}

// Validate checks the loaded values for consistency.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database_url is required (env: DATABASE_URL)")
		}
	case DriverBadger:
	default:
		return fmt.Errorf("invalid store_driver %q (want %s or %s)", c.StoreDriver, DriverPostgres, DriverBadger)
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid port %d", c.HTTPPort)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker_concurrency must be at least 1, got %d", c.WorkerConcurrency)
	}

	seen := make(map[string]struct{}, len(c.Engines))
	for _, e := range c.Engines {
		if e.Name == "" {
			return errors.New("engine name is required")
		}
		name := strings.ToLower(e.Name)
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate engine %q", e.Name)
		}
		seen[name] = struct{}{}
	}
	if _, ok := seen[strings.ToLower(c.DefaultEngine)]; !ok {
		return fmt.Errorf("default_engine %q is not configured", c.DefaultEngine)
	}
	return nil
}
