package config

import (
	"strings"
	"time"

	"github.com/shelffs/shelf/internal/bytesize"
)

// ApplyDefaults fills unspecified fields with sensible defaults. Explicit
// values from file/env are preserved; zero values are replaced.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyDatabaseDefaults(&cfg.Database)
	applyCacheDefaults(&cfg.Cache)
	applySidecarsDefaults(&cfg.Sidecars)
	applyNetworkDefaults(&cfg.Network)
	applySchedulerDefaults(&cfg.Scheduler)
	applyAdminDefaults(&cfg.Admin)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.Driver == "sqlite" && cfg.Path == "" {
		cfg.Path = "shelf.db"
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLife == 0 {
		cfg.ConnMaxLife = 30 * time.Minute
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Path == "" {
		cfg.Path = "cache"
	}
	if cfg.Size == 0 {
		size, _ := bytesize.ParseByteSize("1GB")
		cfg.Size = size
	}
}

func applySidecarsDefaults(cfg *SidecarsConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "fs"
	}
	if cfg.Backend == "fs" && cfg.RootPath == "" {
		cfg.RootPath = "sidecars"
	}
}

func applyNetworkDefaults(cfg *NetworkConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:7913"
	}
	if cfg.PairingChallengeTTL == 0 {
		cfg.PairingChallengeTTL = 30 * time.Second
	}
	if cfg.PairingSessionTTL == 0 {
		cfg.PairingSessionTTL = 10 * time.Minute
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = 15 * time.Second
	}
	if cfg.KeepaliveMisses == 0 {
		cfg.KeepaliveMisses = 3
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 60 * time.Second
	}
	if cfg.RetryMaxJitter == 0 {
		cfg.RetryMaxJitter = 0.25
	}
	if cfg.ChunkSize == 0 {
		size, _ := bytesize.ParseByteSize("1MB")
		cfg.ChunkSize = size
	}
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.MaxConcurrentJobs == 0 {
		cfg.MaxConcurrentJobs = 4
	}
	if cfg.MaxWorkersPerJob == 0 {
		cfg.MaxWorkersPerJob = 8
	}
	if cfg.MaxNonCriticalErrors == 0 {
		cfg.MaxNonCriticalErrors = 100
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.MetricsEnabled && cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

// GetDefaultConfig returns a fully-defaulted Config with no file or
// environment overrides applied. Used when no config file is present.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
