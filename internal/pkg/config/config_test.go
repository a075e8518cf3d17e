package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadEnv(t *testing.T) (*Config, error) {
	t.Helper()
	v := viper.New()
	setDefaults(v, "test")
	return load(v)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadEnv(t)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "test", cfg.Telemetry.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.Geocoder.Timeout)
	assert.Equal(t, 800*time.Millisecond, cfg.Debounce.AddressInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.Debounce.FilterInterval)
	assert.Equal(t, 5, cfg.Debounce.AddressMinLength)
	assert.Equal(t, 12, cfg.MapView.Zoom)
	assert.Equal(t, 8, cfg.Heatmap.H3Resolution)
	require.Len(t, cfg.Heatmap.Presets, 3)
	assert.Equal(t, HeatmapPreset{Days: 30, Normalize: true}, cfg.Heatmap.Presets[0])
	assert.Equal(t, "screenfinder-heatmap", cfg.Temporal.TaskQueue)
	assert.Equal(t, "postgres://screenfinder:@localhost:5432/screenfinder?sslmode=disable", cfg.Database.DSN())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCREENFINDER_SERVER_PORT", "9090")
	t.Setenv("SCREENFINDER_GEOCODER_API_KEY", "k")
	t.Setenv("SCREENFINDER_GEOCODER_TIMEOUT", "2s")
	t.Setenv("SCREENFINDER_DEBOUNCE_ADDRESS_INTERVAL", "500ms")

	cfg, err := loadEnv(t)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "k", cfg.Geocoder.APIKey)
	assert.Equal(t, 2*time.Second, cfg.Geocoder.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce.AddressInterval)
	assert.NotContains(t, strings.Join(cfg.Warnings(), "\n"), "api_key")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	t.Setenv("SCREENFINDER_SERVER_PORT", "0")
	t.Setenv("SCREENFINDER_HEATMAP_H3_RESOLUTION", "16")
	t.Setenv("SCREENFINDER_MAPVIEW_CENTER_LAT", "95")

	_, err := loadEnv(t)
	require.Error(t, err)
	for _, want := range []string{"server.port", "heatmap.h3_resolution", "mapview center"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestWarnings_MissingGeocoderKey(t *testing.T) {
	cfg, err := loadEnv(t)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(cfg.Warnings(), "\n"), "geocoder.api_key")
}
