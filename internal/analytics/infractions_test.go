package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-trajectory-analytics/internal/models"
)

func speeds(vehicleID string, values ...float64) []models.PositionSample {
	out := make([]models.PositionSample, len(values))
	for i, v := range values {
		out[i] = models.PositionSample{
			VehicleID: vehicleID,
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
			Latitude:  -6.2,
			Longitude: 106.8,
			SpeedKph:  v,
		}
	}
	return out
}

func TestScanInfractions_MildExcess(t *testing.T) {
	infractions := ScanInfractions("VEH-001", speeds("VEH-001", 95), 90, DefaultThresholds())
	require.Len(t, infractions, 1)

	inf := infractions[0]
	assert.Equal(t, "VEH-001", inf.VehicleID)
	assert.Equal(t, 95.0, inf.SpeedKph)
	assert.Equal(t, 90.0, inf.LimitKph)
	assert.Equal(t, 5.0, inf.ExcessKph)
	assert.False(t, inf.IsSevere)
}

func TestScanInfractions_EveryFixReported(t *testing.T) {
	infractions := ScanInfractions("v", speeds("v", 80, 91, 125, 121, 90, 60), 90, DefaultThresholds())
	require.Len(t, infractions, 3)

	// Newest first.
	assert.Equal(t, 121.0, infractions[0].SpeedKph)
	assert.True(t, infractions[0].IsSevere)
	assert.Equal(t, 125.0, infractions[1].SpeedKph)
	assert.True(t, infractions[1].IsSevere)
	assert.Equal(t, 91.0, infractions[2].SpeedKph)
	assert.False(t, infractions[2].IsSevere)
	assert.Equal(t, 2, CountSevere(infractions))

	for _, inf := range infractions {
		assert.Greater(t, inf.ExcessKph, 0.0)
	}
}

func TestScanInfractions_ExactlyThirtyOverIsNotSevere(t *testing.T) {
	infractions := ScanInfractions("v", speeds("v", 120), 90, DefaultThresholds())
	require.Len(t, infractions, 1)
	assert.False(t, infractions[0].IsSevere)
}

func TestScanInfractions_HigherLimitNeverAddsInfractions(t *testing.T) {
	samples := speeds("v", 45, 88, 91, 99, 102, 117, 133, 150, 64, 95)
	th := DefaultThresholds()

	prev := len(ScanInfractions("v", samples, 0, th))
	for limit := 10.0; limit <= 200; limit += 10 {
		n := len(ScanInfractions("v", samples, limit, th))
		assert.LessOrEqual(t, n, prev, "limit %.0f", limit)
		prev = n
	}
	assert.Zero(t, prev)
}

func TestScanFleetInfractions_MergesAndOrders(t *testing.T) {
	streams := map[string][]models.PositionSample{
		"VEH-002": speeds("VEH-002", 100, 70),
		"VEH-001": speeds("VEH-001", 100, 95),
		"VEH-003": speeds("VEH-003", 50),
	}
	infractions := ScanFleetInfractions(streams, 90, DefaultThresholds())
	require.Len(t, infractions, 3)

	assert.Equal(t, "VEH-001", infractions[0].VehicleID)
	assert.Equal(t, baseTime.Add(time.Minute), infractions[0].Timestamp)
	assert.Equal(t, "VEH-001", infractions[1].VehicleID)
	assert.Equal(t, "VEH-002", infractions[2].VehicleID)
	assert.Equal(t, baseTime, infractions[2].Timestamp)
}
