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
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "test-secret"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 5, cfg.Security.MaxAttempts)
	assert.Equal(t, DefaultLockSteps, cfg.Security.LockSteps)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "argon2id", cfg.Security.PasswordHash)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, "admin", cfg.Bootstrap.AdminUsername)
}

func TestLoadConfig_ParsesDurations(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "test-secret"
  token_ttl: 90m
security:
  lock_steps: [10s, 20s]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, cfg.Security.LockSteps)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PORT", "9090")
	t.Setenv("TOKEN_TTL", "2h")

	path := writeConfig(t, `
auth:
  jwt_secret: "from-file"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadConfig_ExpandsSecretFromEnv(t *testing.T) {
	t.Setenv("MY_SIGNING_KEY", "expanded")

	path := writeConfig(t, `
auth:
  jwt_secret: "${MY_SIGNING_KEY}"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded", cfg.Auth.JWTSecret)
}

func TestLoadConfig_RejectsMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	path := writeConfig(t, `
server:
  port: "8080"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoadConfig_RejectsDecreasingSchedule(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "s"
security:
  lock_steps: [60s, 30s]
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestLoadConfig_TrustedProxies(t *testing.T) {
	path := writeConfig(t, `
server:
  trusted_proxies: ["10.0.0.1", "192.168.0.0/16"]
auth:
  jwt_secret: "s"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.Server.TrustedProxies)

	path = writeConfig(t, `
server:
  trusted_proxies: ["not-an-address"]
auth:
  jwt_secret: "s"
`)
	_, err = LoadConfig(path)
	require.Error(t, err)
}
