package analytics

import (
	"math"
	"time"

	"fleet-trajectory-analytics/internal/models"
)

// kmPerDegreeLat is the length of one degree of latitude on the model sphere
var kmPerDegreeLat = EarthRadiusKm * math.Pi / 180

var baseTime = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

// drive produces n fixes heading due north at a constant speed
func drive(start time.Time, lat float64, n int, interval time.Duration, speed float64) []models.PositionSample {
	out := make([]models.PositionSample, n)
	step := speed * interval.Hours() / kmPerDegreeLat
	for i := range out {
		out[i] = models.PositionSample{
			VehicleID: "VEH-001",
			Timestamp: start.Add(time.Duration(i) * interval),
			Latitude:  lat + float64(i)*step,
			Longitude: 106.8456,
			SpeedKph:  speed,
		}
	}
	return out
}

// park produces n stationary fixes at the given latitude
func park(start time.Time, lat float64, n int, interval time.Duration) []models.PositionSample {
	return drive(start, lat, n, interval, 0)
}

func last(samples []models.PositionSample) models.PositionSample {
	return samples[len(samples)-1]
}

func withIgnition(samples []models.PositionSample, on bool) []models.PositionSample {
	for i := range samples {
		samples[i].IgnitionOn = models.BoolPtr(on)
	}
	return samples
}

func concat(parts ...[]models.PositionSample) []models.PositionSample {
	var out []models.PositionSample
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
