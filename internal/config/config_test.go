package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-trajectory-analytics/internal/analytics"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, "fleet.db", cfg.DBPath)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 90.0, cfg.SpeedLimitKph)
	assert.Equal(t, 8, cfg.FanOutWorkers)
	assert.Equal(t, analytics.DefaultThresholds(), cfg.Thresholds)
	assert.Equal(t, 3*time.Second, cfg.GeocoderTimeout())

	ac, err := cfg.Analytics()
	require.NoError(t, err)
	assert.Equal(t, analytics.AllIncidentTypes(), ac.IncidentTypes)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("FLEET_DB_PATH", "/tmp/x.db")
	t.Setenv("SPEED_LIMIT_KPH", "80")
	t.Setenv("FANOUT_WORKERS", "3")
	t.Setenv("TRIP_GAP_MINUTES", "15")
	t.Setenv("STOP_SPEED_KPH", "3.5")
	t.Setenv("INCIDENT_TYPES", "harshBraking,overspeed")
	t.Setenv("REPORT_TIMEZONE", "Asia/Jakarta")

	cfg := FromEnv()
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 80.0, cfg.SpeedLimitKph)
	assert.Equal(t, 3, cfg.FanOutWorkers)
	assert.Equal(t, 15*time.Minute, cfg.Thresholds.GapThreshold)
	assert.Equal(t, 3.5, cfg.Thresholds.StopSpeedKph)

	ac, err := cfg.Analytics()
	require.NoError(t, err)
	assert.Equal(t, analytics.IncidentTypes{HarshBraking: true, Overspeed: true}, ac.IncidentTypes)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", loc.String())
}

func TestFromEnv_MalformedFallsBack(t *testing.T) {
	t.Setenv("FANOUT_WORKERS", "many")
	t.Setenv("SPEED_LIMIT_KPH", "fast")
	cfg := FromEnv()
	assert.Equal(t, 8, cfg.FanOutWorkers)
	assert.Equal(t, 90.0, cfg.SpeedLimitKph)
}

func TestAnalytics_RejectsInvalid(t *testing.T) {
	t.Setenv("SPEED_LIMIT_KPH", "-10")
	_, err := FromEnv().Analytics()
	assert.ErrorIs(t, err, analytics.ErrInvalidConfig)

	t.Setenv("SPEED_LIMIT_KPH", "")
	t.Setenv("INCIDENT_TYPES", "donuts")
	_, err = FromEnv().Analytics()
	assert.ErrorIs(t, err, analytics.ErrInvalidConfig)
}

func TestLocation_Invalid(t *testing.T) {
	t.Setenv("REPORT_TIMEZONE", "Mars/Olympus")
	_, err := FromEnv().Location()
	assert.Error(t, err)
}
