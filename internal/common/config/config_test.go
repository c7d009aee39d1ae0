package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFileFull(t *testing.T) {
	path := writeConfig(t, `
# full service config
websocket:
  port: 9090

rabbitmq:
  enabled: true
  host: mq.internal
  port: 5673
  user: svc
  password: "p@ss"

database:
  enabled: true
  host: db.internal
  port: 5433
  user: trackhub
  password: 'secret'
  database: trackhub

jwt:
  secret_key: "unit-test-secret"

tracking:
  retention_policy: ttl
  retention_ttl_seconds: 120
  observer_buffer: 16
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.WebSocket.Port)

	assert.True(t, cfg.RabbitMQ.Enabled)
	assert.Equal(t, "mq.internal", cfg.RabbitMQ.Host)
	assert.Equal(t, 5673, cfg.RabbitMQ.Port)
	assert.Equal(t, "p@ss", cfg.RabbitMQ.Password, "double quotes are stripped")

	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "secret", cfg.Database.Password, "single quotes are stripped")
	assert.Equal(t, "trackhub", cfg.Database.Name)

	assert.Equal(t, "unit-test-secret", cfg.JWT.SecretKey)

	assert.Equal(t, RetentionTTL, cfg.Tracking.RetentionPolicy)
	assert.Equal(t, 2*time.Minute, cfg.Tracking.RetentionTTL)
	assert.Equal(t, 16, cfg.Tracking.ObserverBuffer)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
websocket:
  port: 8081
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.WebSocket.Port)
	assert.False(t, cfg.RabbitMQ.Enabled)
	assert.Equal(t, "localhost", cfg.RabbitMQ.Host)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.NotEmpty(t, cfg.JWT.SecretKey, "a secret is generated when none is configured")
	assert.Equal(t, RetentionEvict, cfg.Tracking.RetentionPolicy)
	assert.Equal(t, 5*time.Minute, cfg.Tracking.RetentionTTL)
	assert.Equal(t, 64, cfg.Tracking.ObserverBuffer)
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromFileRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown top-level key": "unknown:\n  port: 1\n",
		"unknown section key":   "websocket:\n  bind: 1\n",
		"key without section":   "  port: 8080\n",
		"non-numeric port":      "websocket:\n  port: eighty\n",
		"duplicate section":     "websocket:\n  port: 1\nwebsocket:\n  port: 2\n",
		"bad retention policy":  "tracking:\n  retention_policy: forever\n",
		"negative buffer":       "tracking:\n  observer_buffer: -1\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestValidateEnabledServicesNeedCredentials(t *testing.T) {
	path := writeConfig(t, `
rabbitmq:
  enabled: true
database:
  enabled: true
`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "rabbitmq.user"))
	assert.True(t, strings.Contains(err.Error(), "database.database"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.WebSocket.Port)
	assert.False(t, cfg.RabbitMQ.Enabled)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, RetentionEvict, cfg.Tracking.RetentionPolicy)
}

func TestResolveScalar(t *testing.T) {
	assert.Equal(t, "plain", resolveScalar("  plain  "))
	assert.Equal(t, "quoted", resolveScalar(`"quoted"`))
	assert.Equal(t, "single", resolveScalar("'single'"))
	assert.Equal(t, `"mismatched'`, resolveScalar(`"mismatched'`))
	assert.Equal(t, "", resolveScalar(""))
}
