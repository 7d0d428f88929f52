package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvKeys = []string{
	"NATS_URL", "NATS_STREAM", "NATS_DURABLE", "NATS_FILTER_SUBJECT",
	"SINK_BACKEND", "DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD", "DB_SSLMODE",
	"MONGO_URI", "MONGO_DATABASE", "PEBBLE_PATH",
	"FETCH_BATCH_SIZE", "FETCH_EXPIRES", "INSERT_BATCH_SIZE", "PACE_INTERVAL", "INGEST_FILTER",
	"PORT", "METRICS_PORT", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every variable Load reads; empty values are ignored.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
	}
}

func newConfigDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "configs")
	require.NoError(t, os.Mkdir(dir, 0o755))
	return dir
}

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_RequiresBrokerURL(t *testing.T) {
	clearEnv(t)
	dir := newConfigDir(t)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.url is required")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("NATS_URL", "nats://localhost:4222")
	dir := newConfigDir(t)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", cfg.Broker.URL)
	assert.Equal(t, "DebeziumStream", cfg.Broker.Stream)
	assert.Equal(t, "bemi-worker", cfg.Broker.Durable)
	assert.Equal(t, "bemi", cfg.Broker.FilterSubject)

	assert.Equal(t, SinkPostgres, cfg.Sink.Backend)
	assert.Equal(t, "127.0.0.1", cfg.Sink.Postgres.Host)
	assert.Equal(t, 5432, cfg.Sink.Postgres.Port)
	assert.Equal(t, "changes", cfg.Sink.Postgres.Table)
	assert.Equal(t, filepath.Join(filepath.Dir(dir), "data", "changes"), cfg.Sink.Pebble.Path)

	assert.Equal(t, 100, cfg.Ingest.FetchBatchSize)
	assert.Equal(t, 1000, cfg.Ingest.InsertBatchSize)
	assert.Equal(t, time.Second, cfg.Ingest.PaceInterval)

	assert.Equal(t, 4005, cfg.Health.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, filepath.Join(filepath.Dir(dir), "logs"), cfg.Logging.Dir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("NATS_DURABLE", "custom-worker")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_NAME", "app")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("INSERT_BATCH_SIZE", "250")
	t.Setenv("FETCH_EXPIRES", "2s")
	t.Setenv("PORT", "8080")
	t.Setenv("LOG_LEVEL", "debug")
	dir := newConfigDir(t)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "nats://nats:4222", cfg.Broker.URL)
	assert.Equal(t, "custom-worker", cfg.Broker.Durable)
	assert.Equal(t, "db.internal", cfg.Sink.Postgres.Host)
	assert.Equal(t, 6543, cfg.Sink.Postgres.Port)
	assert.Equal(t, "app", cfg.Sink.Postgres.Name)
	assert.Equal(t, "secret", cfg.Sink.Postgres.Password)
	assert.Equal(t, 250, cfg.Ingest.InsertBatchSize)
	assert.Equal(t, 2*time.Second, cfg.Ingest.FetchExpires)
	assert.Equal(t, 8080, cfg.Health.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_FileAndLocalOverride(t *testing.T) {
	clearEnv(t)
	dir := newConfigDir(t)
	writeConfig(t, dir, "config.yml", `
broker:
  url: nats://file:4222
  stream: FileStream
sink:
  backend: pebble
  pebble:
    path: /var/lib/changes
ingest:
  insert_batch_size: 10
  filter: change.table != "audit"
`)
	writeConfig(t, dir, "config.local.yml", `
broker:
  stream: LocalStream
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "nats://file:4222", cfg.Broker.URL)
	assert.Equal(t, "LocalStream", cfg.Broker.Stream)
	assert.Equal(t, SinkPebble, cfg.Sink.Backend)
	assert.Equal(t, "/var/lib/changes", cfg.Sink.Pebble.Path)
	assert.Equal(t, 10, cfg.Ingest.InsertBatchSize)
	assert.Equal(t, `change.table != "audit"`, cfg.Ingest.Filter)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("NATS_URL", "nats://env:4222")
	dir := newConfigDir(t)
	writeConfig(t, dir, "config.yml", "broker:\n  url: nats://file:4222\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "nats://env:4222", cfg.Broker.URL)
}

func TestLoad_FileErrors(t *testing.T) {
	t.Run("malformed yaml", func(t *testing.T) {
		clearEnv(t)
		dir := newConfigDir(t)
		writeConfig(t, dir, "config.local.yml", "not: [valid")

		_, err := Load(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse")
	})

	t.Run("unreadable file", func(t *testing.T) {
		clearEnv(t)
		dir := newConfigDir(t)
		require.NoError(t, os.Mkdir(filepath.Join(dir, "config.yml"), 0o755))

		_, err := Load(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read")
	})
}

func TestLoad_InvalidSections(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown sink backend",
			env:     map[string]string{"SINK_BACKEND": "kafka"},
			wantErr: `sink.backend must be one of [postgres mongo pebble], got "kafka"`,
		},
		{
			name:    "invalid ssl mode",
			env:     map[string]string{"DB_SSLMODE": "sometimes"},
			wantErr: "sink.postgres.sslmode must be one of",
		},
		{
			name:    "mongo backend with default database",
			env:     map[string]string{"SINK_BACKEND": "mongo", "MONGO_URI": "mongodb://m:27017"},
			wantErr: "",
		},
		{
			name:    "invalid log level",
			env:     map[string]string{"LOG_LEVEL": "verbose"},
			wantErr: "invalid log level: verbose",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("NATS_URL", "nats://localhost:4222")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(newConfigDir(t))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSinkConfig_ValidatesOnlySelectedBackend(t *testing.T) {
	cfg := DefaultSinkConfig()
	cfg.Backend = SinkPebble
	cfg.Postgres.Host = ""

	assert.NoError(t, cfg.Validate())

	cfg.Backend = SinkPostgres
	assert.EqualError(t, cfg.Validate(), "sink.postgres.host is required")
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"", ""},
		{"/abs/file", "/abs/file"},
		{"data/changes", "/app/data/changes"},
		{"../other", "/app/other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, resolvePath("/app/configs", tt.path))
		})
	}
}
