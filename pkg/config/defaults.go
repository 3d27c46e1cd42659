package config

import (
	"strings"
	"time"
)

// Default values.
const (
	DefaultPort      = 51234
	DefaultRoot      = "serverfile"
	DefaultKillScope = "root"

	DefaultTimeout  = 1 * time.Second
	DefaultAttempts = 5

	DefaultChunkSize  = 1024
	DefaultMaxNameLen = 255
	DefaultMaxDepth   = 10

	DefaultUploadTTL     = 30 * time.Minute
	DefaultBulkTTL       = 30 * time.Minute
	DefaultSyncTTL       = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second

	DefaultMetricsPort = 9234
)

// ApplyDefaults fills unset fields with defaults. Zero values are replaced;
// explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyTransportDefaults(&cfg.Transport)
	applyLimitsDefaults(&cfg.Limits)
	applyMetricsDefaults(&cfg.Metrics)
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
		cfg.Output = "stderr"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.KillScope == "" {
		cfg.KillScope = DefaultKillScope
	}
}

func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
}

func applyLimitsDefaults(cfg *LimitsConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxNameLen == 0 {
		cfg.MaxNameLen = DefaultMaxNameLen
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.UploadTTL == 0 {
		cfg.UploadTTL = DefaultUploadTTL
	}
	if cfg.BulkTTL == 0 {
		cfg.BulkTTL = DefaultBulkTTL
	}
	if cfg.SyncTTL == 0 {
		cfg.SyncTTL = DefaultSyncTTL
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}
