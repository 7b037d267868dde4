package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("missing redis host", func(t *testing.T) {
		t.Setenv("REDIS_HOST", "")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("REDIS_HOST", "localhost")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "development", cfg.AppEnv)
		assert.Equal(t, "chatty-gateway", cfg.AppName)
		assert.Equal(t, "8090", cfg.GatewayPort)
		assert.Equal(t, "6379", cfg.RedisPort)
	})

	t.Run("invalid redis db", func(t *testing.T) {
		t.Setenv("REDIS_HOST", "localhost")
		t.Setenv("REDIS_DB", "not-a-number")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("numeric overrides", func(t *testing.T) {
		t.Setenv("REDIS_HOST", "localhost")
		t.Setenv("REDIS_DB", "2")
		t.Setenv("REDIS_POOL_SIZE", "20")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.RedisDB)
		assert.Equal(t, 20, cfg.RedisPoolSize)
	})
}
