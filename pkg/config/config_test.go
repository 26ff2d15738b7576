package config_test

import (
	"testing"

	"github.com/marquee-labs/marquee/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MESSAGING_API_KEY", "msg-key")
	t.Setenv("JWT_SECRET", "jwt-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("REVOCATION_HOST", "")
	t.Setenv("REVOCATION_PORT", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("REVOCATION_HOST", "redis.internal")
	t.Setenv("REVOCATION_PORT", "6380")
	t.Setenv("REVOCATION_PASSWORD", "hunter2")
	t.Setenv("REVOCATION_TLS", "true")
	t.Setenv("RETRY_DB_PATH", "/var/lib/marquee/retry.db")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr())
	assert.Equal(t, "hunter2", cfg.RedisPassword)
	assert.True(t, cfg.RedisTLS)
	assert.Equal(t, "/var/lib/marquee/retry.db", cfg.RetryDBPath)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_MissingCredentials(t *testing.T) {
	t.Setenv("MESSAGING_API_KEY", "")
	t.Setenv("JWT_SECRET", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MESSAGING_API_KEY")
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestSkipSignaturesOnlyInDevelopment(t *testing.T) {
	setRequired(t)
	t.Setenv("SKIP_SIGNATURE_VERIFICATION", "true")

	t.Setenv("ENVIRONMENT", "production")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.SkipSignatures(), "skip flag must be ignored outside development")

	t.Setenv("ENVIRONMENT", "development")
	cfg, err = config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.SkipSignatures())
}
