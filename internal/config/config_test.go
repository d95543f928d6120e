package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chaats/internal/config"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, config.StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 256, cfg.SendBufferSize)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 32, cfg.RegistryShards)
	assert.Equal(t, 5*time.Second, cfg.PresenceOfflineDebounce)
	assert.Nil(t, cfg.Origins())
}

func TestFromEnv_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := config.FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestFromEnv_SurrealRequiresConnection(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", config.StoreSurreal)
	t.Setenv("SURREAL_URL", "")

	_, err := config.FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SURREAL_URL")
}

func TestFromEnv_UnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := config.FromEnv()
	require.Error(t, err)
}

func TestOrigins(t *testing.T) {
	cfg := &config.Config{AllowedOrigins: " example.com, *.chaats.dev ,,"}
	assert.Equal(t, []string{"example.com", "*.chaats.dev"}, cfg.Origins())
}
