package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "file", cfg.Snapshot.Backend)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.GC.MinInterval)
	assert.False(t, cfg.Replication.Enabled)
}

func TestLoadFileKeepsUnsetDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
engine:
  gc:
    minInterval: 50ms
    maxInterval: 5s
snapshot:
  backend: none
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.GC.MinInterval)
	assert.Equal(t, 5*time.Second, cfg.Engine.GC.MaxInterval)
	assert.Equal(t, "none", cfg.Snapshot.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FTS_SERVER_PORT", "7070")
	t.Setenv("FTS_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("FTS_REPLICATION_ENABLED", "true")
	t.Setenv("FTS_REDIS_ENABLED", "false")
	t.Setenv("FTS_DATA_DIR", "/var/lib/fts")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Replication.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "/var/lib/fts", cfg.Engine.DataDir)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Snapshot.Backend = "s3"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Engine.GC.MaxInterval = cfg.Engine.GC.MinInterval / 2
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Replication.Enabled = true
	cfg.Kafka.Brokers = nil
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "snapshot:\n  backend: tape\n"))
	assert.Error(t, err)
}
