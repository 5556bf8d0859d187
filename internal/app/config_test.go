package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MENTORA_VAULT_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "file:/data/mentora.sqlite", cfg.DBDSN)
	assert.Equal(t, 60, cfg.RateLimitRPS)
	assert.Equal(t, 120, cfg.RateLimitBurst)
	assert.False(t, cfg.APIKeyAuth)
	assert.False(t, cfg.OTelEnabled)
	assert.Nil(t, cfg.CORSOrigins)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MENTORA_VAULT_SECRET", "test-secret")
	t.Setenv("MENTORA_LISTEN_ADDR", ":9090")
	t.Setenv("MENTORA_LOG_LEVEL", "debug")
	t.Setenv("MENTORA_ADMIN_TOKEN", "admin-token")
	t.Setenv("MENTORA_API_KEY_AUTH", "true")
	t.Setenv("MENTORA_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MENTORA_RATE_LIMIT_RPS", "5")
	t.Setenv("MENTORA_OTEL_ENABLED", "1")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "admin-token", cfg.AdminToken)
	assert.True(t, cfg.APIKeyAuth)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 5, cfg.RateLimitRPS)
	assert.True(t, cfg.OTelEnabled)
}

func TestLoadConfigRequiresVaultSecret(t *testing.T) {
	t.Setenv("MENTORA_VAULT_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MENTORA_VAULT_SECRET")
}

func TestValidateRateLimits(t *testing.T) {
	cfg := Config{VaultSecret: "s", RateLimitRPS: 0, RateLimitBurst: 10}
	assert.Error(t, cfg.Validate())

	cfg = Config{VaultSecret: "s", RateLimitRPS: 10, RateLimitBurst: 0}
	assert.Error(t, cfg.Validate())

	cfg = Config{VaultSecret: "s", RateLimitRPS: 10, RateLimitBurst: 10}
	assert.NoError(t, cfg.Validate())
}

func TestEnvHelpersIgnoreGarbage(t *testing.T) {
	t.Setenv("MENTORA_TEST_BOOL", "not-a-bool")
	assert.True(t, getEnvBool("MENTORA_TEST_BOOL", true))

	t.Setenv("MENTORA_TEST_INT", "not-an-int")
	assert.Equal(t, 42, getEnvInt("MENTORA_TEST_INT", 42))

	t.Setenv("MENTORA_TEST_SLICE", " , ,")
	assert.Nil(t, getEnvStringSlice("MENTORA_TEST_SLICE", nil))
}
