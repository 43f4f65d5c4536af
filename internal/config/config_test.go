package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sysrecorder", cfg.ServiceName)
	assert.Equal(t, "sysrecorder-agent", cfg.NATSDurable)
	assert.Equal(t, 1024, cfg.ExporterQueueSize)
	assert.Equal(t, int64(4), cfg.IdlePid)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte("service_name: test-agent\nnats_url: nats://localhost:4222\nself_pid: 1234\n")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-agent", cfg.ServiceName)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, int64(1234), cfg.SelfPid)
	// unspecified fields still fall back to defaults
	assert.Equal(t, ":8080", cfg.HealthAddr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nats_url: nats://file:4222\n"), 0o644))

	t.Setenv("SYSRECORDER_NATS_URL", "nats://env:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://env:4222", cfg.NATSURL)
}

func TestStringValue_FallsBackWhenAbsent(t *testing.T) {
	data := map[string]interface{}{"NATS_URL": "nats://vault:4222"}
	assert.Equal(t, "nats://vault:4222", StringValue(data, "NATS_URL", "default"))
	assert.Equal(t, "default", StringValue(data, "MISSING", "default"))
}
