package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const sampleHeader = `# driftsyncd configuration.
# Every value can be overridden with a DRIFTSYNC_<SECTION>_<KEY>
# environment variable, e.g. DRIFTSYNC_SERVER_PORT=6000.

`

// Sample returns a fully-defaulted configuration suitable for writing as
// a starting config file.
func Sample() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// sampleDoc mirrors Config with durations as strings, so the written YAML
// says "1s" rather than nanosecond counts.
type sampleDoc struct {
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`

	Transport struct {
		Timeout  string `yaml:"timeout"`
		Attempts int    `yaml:"attempts"`
	} `yaml:"transport"`

	Limits struct {
		ChunkSize     int    `yaml:"chunk_size"`
		MaxNameLen    int    `yaml:"max_name_len"`
		MaxDepth      int    `yaml:"max_depth"`
		UploadTTL     string `yaml:"upload_ttl"`
		BulkTTL       string `yaml:"bulk_ttl"`
		SyncTTL       string `yaml:"sync_ttl"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"limits"`

	Metrics MetricsConfig `yaml:"metrics"`
}

func sampleDocFrom(cfg *Config) *sampleDoc {
	doc := &sampleDoc{
		Logging: cfg.Logging,
		Server:  cfg.Server,
		Metrics: cfg.Metrics,
	}
	doc.Transport.Timeout = cfg.Transport.Timeout.String()
	doc.Transport.Attempts = cfg.Transport.Attempts
	doc.Limits.ChunkSize = cfg.Limits.ChunkSize
	doc.Limits.MaxNameLen = cfg.Limits.MaxNameLen
	doc.Limits.MaxDepth = cfg.Limits.MaxDepth
	doc.Limits.UploadTTL = cfg.Limits.UploadTTL.String()
	doc.Limits.BulkTTL = cfg.Limits.BulkTTL.String()
	doc.Limits.SyncTTL = cfg.Limits.SyncTTL.String()
	doc.Limits.SweepInterval = cfg.Limits.SweepInterval.String()
	return doc
}

// WriteSample writes a commented sample configuration to path, creating
// parent directories. Refuses to overwrite an existing file unless force
// is set.
func WriteSample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}

	data, err := yaml.Marshal(sampleDocFrom(Sample()))
	if err != nil {
		return fmt.Errorf("encode sample config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, append([]byte(sampleHeader), data...), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
