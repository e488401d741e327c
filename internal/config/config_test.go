package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://localhost/mailer_test?sslmode=disable"

oauth:
  client_id: "test-client"
  client_secret: "test-secret"
  token_url: "https://oauth2.googleapis.com/token"
  scopes:
    - "https://www.googleapis.com/auth/gmail.send"
  safety_margin_seconds: 120

provider:
  type: "gmail"
  gmail:
    timeout_seconds: 45

sending:
  batch_size: 25
  batch_delay_ms: 500
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())

	assert.Equal(t, "test-client", cfg.OAuth.ClientID)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/gmail.send"}, cfg.OAuth.Scopes)
	assert.Equal(t, 2*time.Minute, cfg.OAuth.SafetyMargin())

	assert.Equal(t, "gmail", cfg.Provider.Type)
	assert.Equal(t, 45, cfg.Provider.Gmail.TimeoutSeconds)

	assert.Equal(t, 25, cfg.Sending.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Sending.BatchDelay())
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://localhost/mailer?sslmode=disable"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 10, cfg.Sending.BatchSize)
	assert.Equal(t, time.Second, cfg.Sending.BatchDelay())
	assert.Equal(t, 30*time.Second, cfg.Sending.SendTimeout())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay())
	assert.Equal(t, time.Minute, cfg.OAuth.SafetyMargin())
	assert.Equal(t, "https://gmail.googleapis.com", cfg.Provider.Gmail.BaseURL)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://localhost/from_file"
oauth:
  client_id: "file-client"
`)

	t.Setenv("DATABASE_URL", "postgres://localhost/from_env")
	t.Setenv("OAUTH_CLIENT_SECRET", "env-secret")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/from_env", cfg.Database.URL)
	assert.Equal(t, "file-client", cfg.OAuth.ClientID)
	assert.Equal(t, "env-secret", cfg.OAuth.ClientSecret)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	assert.Error(t, cfg.Validate(), "missing database URL")

	cfg.Database.URL = "postgres://localhost/mailer"
	assert.Error(t, cfg.Validate(), "missing oauth credentials for gmail")

	cfg.OAuth.ClientID = "id"
	cfg.OAuth.ClientSecret = "secret"
	assert.NoError(t, cfg.Validate())

	cfg.Provider.Type = "pigeon"
	assert.Error(t, cfg.Validate(), "unsupported provider")
}
