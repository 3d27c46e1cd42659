package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftsync.yaml")
	require.NoError(t, WriteSample(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultTimeout, cfg.Transport.Timeout)
	assert.Equal(t, DefaultSyncTTL, cfg.Limits.SyncTTL)

	// Durations are written human-readable, not as nanosecond counts.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timeout: 1s")
	assert.Contains(t, string(data), "sync_ttl: 5m0s")
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6000\n"), 0644))

	assert.Error(t, WriteSample(path, false))
	require.NoError(t, WriteSample(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}
