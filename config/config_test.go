package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitmon.dev/transitmon/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRANSITMON_BACKEND", "")
	t.Setenv("TRANSITMON_TZ", "UTC")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, ".", cfg.DataDir)
	assert.Equal(t, 5, cfg.DelayThresholdMinutes)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "UTC", cfg.Location.String())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRANSITMON_BACKEND", "postgres")
	t.Setenv("TRANSITMON_POSTGRES_URL", "postgres://localhost/transitmon")
	t.Setenv("TRANSITMON_DELAY_THRESHOLD_MINUTES", "10")
	t.Setenv("TRANSITMON_LOG_FORMAT", "json")
	t.Setenv("TRANSITMON_TZ", "Europe/Stockholm")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Backend)
	assert.Equal(t, "postgres://localhost/transitmon", cfg.PostgresURL)
	assert.Equal(t, 10, cfg.DelayThresholdMinutes)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "Europe/Stockholm", cfg.Location.String())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TRANSITMON_BACKEND", "mongodb")
	_, err := config.Load()
	assert.ErrorContains(t, err, "TRANSITMON_BACKEND")

	t.Setenv("TRANSITMON_BACKEND", "postgres")
	t.Setenv("TRANSITMON_POSTGRES_URL", "")
	_, err = config.Load()
	assert.ErrorContains(t, err, "TRANSITMON_POSTGRES_URL")

	t.Setenv("TRANSITMON_BACKEND", "sqlite")
	t.Setenv("TRANSITMON_DELAY_THRESHOLD_MINUTES", "lots")
	_, err = config.Load()
	assert.ErrorContains(t, err, "TRANSITMON_DELAY_THRESHOLD_MINUTES")

	t.Setenv("TRANSITMON_DELAY_THRESHOLD_MINUTES", "")
	t.Setenv("TRANSITMON_TZ", "Mars/Olympus_Mons")
	_, err = config.Load()
	assert.ErrorContains(t, err, "TRANSITMON_TZ")
}

func TestLogger(t *testing.T) {
	t.Setenv("TRANSITMON_BACKEND", "memory")
	t.Setenv("TRANSITMON_TZ", "UTC")
	t.Setenv("TRANSITMON_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg.Logger())
}
