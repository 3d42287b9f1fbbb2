package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 0.5, cfg.RateLimit.WriteMultiplier)
	assert.Equal(t, 1.0, cfg.RateLimit.ReadMultiplier)
	assert.Equal(t, 86400, cfg.Idempotency.TTLSeconds)
	assert.Equal(t, TierConfig{Window: 60, Limit: 100}, cfg.RateLimit.Default)

	_, ok := cfg.RateLimit.Plans["api"]["free"]
	assert.False(t, ok, "api/free resolves through the default tier")
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	body := `
server:
  port: "9090"
rate_limit:
  enabled: true
  default: {window: 30, limit: 50}
  anonymous: {window: 60, limit: 10}
  read_multiplier: 1
  write_multiplier: 0.25
services:
  - path: /api/orders
    targets: ["http://localhost:3001"]
    group: api
    idempotent: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, TierConfig{Window: 30, Limit: 50}, cfg.RateLimit.Default)
	assert.Equal(t, TierConfig{Window: 60, Limit: 10}, cfg.RateLimit.Anonymous)
	assert.Equal(t, 0.25, cfg.RateLimit.WriteMultiplier)
	require.Len(t, cfg.Services, 1)
	assert.True(t, cfg.Services[0].Idempotent)
	assert.Equal(t, []string{"http://localhost:3001"}, cfg.Services[0].Targets)
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"server": {"port": "7000", "environment": "production"}, "redis": {"host": "", "port": 6380}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "", cfg.Redis.Host)
	assert.Equal(t, ":6380", cfg.Redis.GetRedisAddr())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_DEFAULT_WINDOW", "120")
	t.Setenv("RATE_LIMIT_DEFAULT_LIMIT", "7")
	t.Setenv("RATE_LIMIT_ANON_LIMIT", "3")
	t.Setenv("RATE_LIMIT_AUTH_ANON_WINDOW", "300")
	t.Setenv("RATE_LIMIT_AUTH_ANON_LIMIT", "2")
	t.Setenv("RATE_LIMIT_AI_ANON_LIMIT", "1")
	t.Setenv("RATE_LIMIT_WRITE_MULTIPLIER", "0.2")
	t.Setenv("REDIS_PORT", "6390")

	cfg, err := Load("")
	require.NoError(t, err)

	rl := cfg.RateLimit
	assert.Equal(t, TierConfig{Window: 120, Limit: 7}, rl.Default)
	assert.Equal(t, TierConfig{Window: 60, Limit: 3}, rl.Anonymous)
	assert.Equal(t, TierConfig{Window: 300, Limit: 2}, rl.GroupAnonymous["auth"])
	assert.Equal(t, TierConfig{Window: 60, Limit: 1}, rl.GroupAnonymous["ai"])
	assert.Equal(t, TierConfig{Window: 60, Limit: 100}, rl.GroupAnonymous["webhooks"])
	assert.Equal(t, 0.2, rl.WriteMultiplier)
	assert.Equal(t, 6390, cfg.Redis.Port)
}

func TestLoad_InvalidEnvNumber(t *testing.T) {
	t.Setenv("RATE_LIMIT_ANON_LIMIT", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_ANON_LIMIT")
}

func TestValidate(t *testing.T) {
	t.Run("zero limit", func(t *testing.T) {
		cfg := Default()
		cfg.RateLimit.Anonymous.Limit = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidTier)
	})

	t.Run("zero window in plan table", func(t *testing.T) {
		cfg := Default()
		cfg.RateLimit.Plans["search"]["premium"] = TierConfig{Window: 0, Limit: 10}
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidTier)
	})

	t.Run("non positive multiplier", func(t *testing.T) {
		cfg := Default()
		cfg.RateLimit.WriteMultiplier = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("relative service path", func(t *testing.T) {
		cfg := Default()
		cfg.Services = []ServiceConfig{{Path: "api/orders"}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})
}
