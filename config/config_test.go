package config

import (
	"errors"
	"testing"

	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 53, cfg.Port)
	assert.False(t, cfg.CacheEnabled)
	assert.EqualValues(t, 10_000, cfg.CacheSize)
}

func TestLoadValidOverrides(t *testing.T) {
	t.Setenv("RDNS_ENV", "dev")
	t.Setenv("RDNS_LOG_LEVEL", "debug")
	t.Setenv("RDNS_PORT", "9953")
	t.Setenv("RDNS_CACHE_ENABLED", "true")
	t.Setenv("RDNS_CACHE_SIZE", "2000")
	t.Setenv("RDNS_ZONE_DIR", "/etc/rdns/zones")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9953, cfg.Port)
	assert.True(t, cfg.CacheEnabled)
	assert.EqualValues(t, 2000, cfg.CacheSize)
	assert.Equal(t, "/etc/rdns/zones", cfg.ZoneDir)
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("RDNS_ENV", "staging")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadInvalidPort(t *testing.T) {
	t.Setenv("RDNS_PORT", "99999")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadInvalidCacheSize(t *testing.T) {
	t.Setenv("RDNS_CACHE_SIZE", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadWhenEnvLoaderFails(t *testing.T) {
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error {
		return errors.New("mocked env load failure")
	}
	defer func() { envLoader = orig }()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mocked env load failure")
}
