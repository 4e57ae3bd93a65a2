package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.Server.Listen)
	assert.Equal(t, 256, c.Hub.SendBuffer)
	assert.Equal(t, 10*time.Second, c.Hub.WriteWait)
	assert.Equal(t, 60*time.Second, c.Hub.PongWait)
	assert.Zero(t, c.Hub.MaxMessageSize)
	assert.Equal(t, "sqlite3", c.DB.Driver)
	assert.Equal(t, 30*24*time.Hour, c.Session.TTL)
	assert.False(t, c.Kafka.Enabled)
	assert.Empty(t, c.Hub.RelayKey)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yaml")
	writeConfig(t, path, `
server:
  listen: ":9090"
  allowed_origins: ["https://app.flowboard.dev"]
hub:
  relay_key: from-file
  pong_wait: 30s
db:
  driver: pgx
  dsn: postgres://localhost/flowboard
kafka:
  enabled: true
  brokers: ["kafka-1:9092"]
`)

	t.Setenv("FLOWBOARD_HUB_SEND_BUFFER", "64")
	t.Setenv("FLOWBOARD_LOG_LEVEL", "debug")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", c.Server.Listen)
	assert.Equal(t, []string{"https://app.flowboard.dev"}, c.Server.AllowedOrigins)
	assert.Equal(t, "from-file", c.Hub.RelayKey)
	assert.Equal(t, 30*time.Second, c.Hub.PongWait)
	assert.Equal(t, 64, c.Hub.SendBuffer)
	assert.Equal(t, "pgx", c.DB.Driver)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, []string{"kafka-1:9092"}, c.Kafka.Brokers)
}

func TestLoadLegacyRelayKey(t *testing.T) {
	t.Setenv(LegacyRelayKeyEnv, "legacy-secret")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "legacy-secret", c.Hub.RelayKey)

	t.Setenv("FLOWBOARD_HUB_RELAY_KEY", "prefixed-secret")
	c, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "prefixed-secret", c.Hub.RelayKey)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"FLOWBOARD_DB_DRIVER": "mysql"}},
		{"zero send buffer", map[string]string{"FLOWBOARD_HUB_SEND_BUFFER": "0"}},
		{"send buffer too small for a join", map[string]string{"FLOWBOARD_HUB_SEND_BUFFER": "1"}},
		{"negative pong wait", map[string]string{"FLOWBOARD_HUB_PONG_WAIT": "-1s"}},
		{"negative max message size", map[string]string{"FLOWBOARD_HUB_MAX_MESSAGE_SIZE": "-1"}},
		{"bad log level", map[string]string{"FLOWBOARD_LOG_LEVEL": "loud"}},
		{"bad log format", map[string]string{"FLOWBOARD_LOG_FORMAT": "xml"}},
		{"kafka without brokers", map[string]string{"FLOWBOARD_KAFKA_ENABLED": "true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yaml")
	writeConfig(t, path, "hub:\n  relay_key: first\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid reload is skipped
	writeConfig(t, path, "hub:\n  send_buffer: 0\n")
	writeConfig(t, path, "hub:\n  relay_key: second\n")

	// A write can surface as several events, some seeing a truncated file.
	deadline := time.After(3 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case c := <-changes:
			assert.NotZero(t, c.Hub.SendBuffer)
			reloaded = c.Hub.RelayKey == "second"
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
