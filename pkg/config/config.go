// Package config loads and validates the driftsyncd server configuration.
//
// Configuration sources, in order of precedence:
//  1. CLI flags (applied by the command layer after Load)
//  2. Environment variables (DRIFTSYNC_*)
//  3. Configuration file (YAML)
//  4. Defaults
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the full driftsyncd configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server holds the control endpoint and confinement root settings.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Transport holds the stop-and-wait retry parameters shared by the
	// server's data-port workers.
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Limits bounds chunk sizes, bulk-upload structure shape, and
	// session lifetimes.
	Limits LimitsConfig `mapstructure:"limits" yaml:"limits"`

	// Metrics configures the optional Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// ServerConfig holds the control endpoint and filesystem settings.
type ServerConfig struct {
	// Port is the fixed UDP control port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Root is the confinement root directory. Created at startup if
	// absent; every filesystem operation stays inside it.
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// KillScope selects what KILL_SERVER_FILES erases: "root" clears the
	// whole confinement root (default), "cwd" clears only the caller's
	// current directory.
	KillScope string `mapstructure:"kill_scope" validate:"omitempty,oneof=root cwd" yaml:"kill_scope"`
}

// TransportConfig holds the stop-and-wait parameters.
type TransportConfig struct {
	// Timeout is the per-attempt reply wait.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`

	// Attempts is the total number of transmissions before a sender
	// reports transport exhaustion.
	Attempts int `mapstructure:"attempts" validate:"min=1" yaml:"attempts"`
}

// LimitsConfig bounds protocol and session behavior.
type LimitsConfig struct {
	// ChunkSize is the pre-encoding transfer chunk size in bytes.
	ChunkSize int `mapstructure:"chunk_size" validate:"min=1,max=3000" yaml:"chunk_size"`

	// MaxNameLen caps each path component in a bulk-upload structure.
	MaxNameLen int `mapstructure:"max_name_len" validate:"min=1" yaml:"max_name_len"`

	// MaxDepth caps the directory depth in a bulk-upload structure.
	MaxDepth int `mapstructure:"max_depth" validate:"min=1" yaml:"max_depth"`

	// UploadTTL expires idle upload sessions.
	UploadTTL time.Duration `mapstructure:"upload_ttl" validate:"gt=0" yaml:"upload_ttl"`

	// BulkTTL expires idle bulk-upload sessions.
	BulkTTL time.Duration `mapstructure:"bulk_ttl" validate:"gt=0" yaml:"bulk_ttl"`

	// SyncTTL expires idle sync sessions, including the drain watchdog
	// after NEEDS_FILES_READY.
	SyncTTL time.Duration `mapstructure:"sync_ttl" validate:"gt=0" yaml:"sync_ttl"`

	// SweepInterval is how often the janitor scans for expired sessions.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0" yaml:"sweep_interval"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns the HTTP metrics listener on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics listener port.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load reads configuration from the given file (optional), the
// environment, and defaults, then validates the result.
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("DRIFTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", file, err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its struct constraints plus
// the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("metrics port %d collides with control port", cfg.Metrics.Port)
	}

	if info, err := os.Stat(cfg.Server.Root); err == nil && !info.IsDir() {
		return fmt.Errorf("server root %q exists and is not a directory", cfg.Server.Root)
	}

	return nil
}
