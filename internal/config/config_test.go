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
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "serve"

[postgres]
database = "floors"

[server]
port = 9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "floors", cfg.Postgres.Database)
	assert.Equal(t, 9000, cfg.Server.Port)
	// Untouched fields keep their defaults.
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, 8, cfg.Ingest.RetryMaxAttempts)

	require.NoError(t, cfg.Validate())
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
[ingest]
retry_base_delay = "250ms"
archive_flush_interval = "5m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.RetryBaseDelay.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Ingest.ArchiveFlushInterval.Duration)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DDICE_MODE", "ingest")
	t.Setenv("DDICE_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("DDICE_INGEST_STREAM_PATH", "/data/events.jsonl")
	t.Setenv("DDICE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	path := writeConfig(t, `mode = "full"`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ingest", cfg.Mode)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, "/data/events.jsonl", cfg.Ingest.StreamPath)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "batch"
	cfg.LogLevel = "verbose"
	cfg.Postgres.Database = ""
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "database must not be empty")
	assert.Contains(t, err.Error(), "port must be 1-65535")
}

func TestValidateIngestRequiresStream(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "ingest"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream_path is required")
	assert.Contains(t, err.Error(), "rpc_url is required")

	cfg.Ingest.StreamPath = "/data/events.jsonl"
	cfg.Chain.RPCURL = "https://rpc.example"
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "secret"
	cfg.S3.SecretKey = "secret"
	cfg.Chain.RPCURL = "https://rpc.example/key"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Chain.RPCURL)
	// Original untouched.
	assert.Equal(t, "secret", cfg.Postgres.Password)
}
