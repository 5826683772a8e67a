// Package config loads shelf's static configuration: logging, telemetry,
// database, cache, sidecar storage, network, and scheduler settings.
//
// Dynamic state (libraries, locations, paired devices, jobs) lives in the
// library database, not here. Configuration sources in order of precedence:
//  1. Environment variables (SHELF_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// No CLI flags are bound here; cmd/shelfd's --config flag only selects which
// file Load reads.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/shelffs/shelf/internal/bytesize"
)

// Config is the complete static configuration for a shelfd process.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Sidecars  SidecarsConfig  `mapstructure:"sidecars" yaml:"sidecars"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Admin     AdminConfig     `mapstructure:"admin" yaml:"admin"`

	// ShutdownTimeout bounds how long a graceful shutdown waits for in-flight
	// jobs, transfers, and connections to settle before forcing a teardown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing and Pyroscope profiling.
type TelemetryConfig struct {
	Enabled    bool            `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string          `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool            `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64         `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
	Profiling  ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls continuous profiling via Pyroscope.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// DatabaseConfig selects and configures the library database backend.
type DatabaseConfig struct {
	// Driver selects the backing store: "sqlite" (default, single-node) or
	// "postgres" (multi-process / shared library hosting).
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres" yaml:"driver"`

	// Path is the sqlite database file path. Only used when Driver is sqlite.
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// DSN is the postgres connection string. Only used when Driver is postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`

	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns,omitempty"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns,omitempty"`
	ConnMaxLife  time.Duration `mapstructure:"conn_max_life" yaml:"conn_max_life,omitempty"`
}

// CacheConfig configures the badger-backed CAS id shadow cache (§4.B).
type CacheConfig struct {
	Path string            `mapstructure:"path" validate:"required" yaml:"path"`
	Size bytesize.ByteSize `mapstructure:"size" yaml:"size,omitempty"`
}

// SidecarsConfig configures derived-artifact storage (§4.H).
type SidecarsConfig struct {
	// Backend selects "fs" (default, local directory tree) or "s3".
	Backend string `mapstructure:"backend" validate:"required,oneof=fs s3" yaml:"backend"`

	// RootPath is the sidecar library root for the fs backend.
	RootPath string `mapstructure:"root_path" yaml:"root_path,omitempty"`

	S3 S3Config `mapstructure:"s3" yaml:"s3,omitempty"`
}

// S3Config configures the optional S3 sidecar replication backend.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	UsePathSt bool   `mapstructure:"use_path_style" yaml:"use_path_style,omitempty"`
}

// NetworkConfig controls pairing, connection, and transfer timing (§4.E-G).
type NetworkConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`

	PairingChallengeTTL time.Duration `mapstructure:"pairing_challenge_ttl" yaml:"pairing_challenge_ttl,omitempty"`
	PairingSessionTTL   time.Duration `mapstructure:"pairing_session_ttl" yaml:"pairing_session_ttl,omitempty"`

	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval,omitempty"`
	KeepaliveMisses   int           `mapstructure:"keepalive_misses" yaml:"keepalive_misses,omitempty"`

	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay,omitempty"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay,omitempty"`
	RetryMaxJitter float64       `mapstructure:"retry_max_jitter" validate:"omitempty,gte=0,lte=1" yaml:"retry_max_jitter,omitempty"`

	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`
}

// SchedulerConfig controls the job scheduler's concurrency limits (§4.D).
type SchedulerConfig struct {
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs" validate:"omitempty,min=1" yaml:"max_concurrent_jobs,omitempty"`
	MaxWorkersPerJob  int `mapstructure:"max_workers_per_job" validate:"omitempty,min=1" yaml:"max_workers_per_job,omitempty"`

	// MaxNonCriticalErrors is loaded and validated but not passed to
	// pkg/scheduler, whose per-job list of non-critical errors keeps a fixed
	// 100 most recent entries.
	MaxNonCriticalErrors int `mapstructure:"max_non_critical_errors" validate:"omitempty,min=1" yaml:"max_non_critical_errors,omitempty"`
}

// AdminConfig seeds the observability HTTP surface (§AMBIENT-7).
type AdminConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPort    int  `mapstructure:"metrics_port" validate:"omitempty,min=1,max=65535" yaml:"metrics_port,omitempty"`
}

// Load reads configuration from file, environment, and defaults, then
// validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct-level constraints using validator tags.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.AddConfigPath(DefaultConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/shelf, or ~/.config/shelf.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "shelf")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "shelf")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default path.
func DefaultConfigExists() bool {
	_, err := os.Stat(DefaultConfigPath())
	return err == nil
}
