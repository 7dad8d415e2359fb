package analytics

import (
	"sort"

	"fleet-trajectory-analytics/internal/models"
)

// ScanInfractions reports every sample above limitKph. Consecutive samples
// over the limit are each reported. Results are newest first.
func ScanInfractions(vehicleID string, samples []models.PositionSample, limitKph float64, th Thresholds) []models.SpeedInfraction {
	var out []models.SpeedInfraction
	for _, s := range samples {
		if s.SpeedKph <= limitKph {
			continue
		}
		excess := s.SpeedKph - limitKph
		out = append(out, models.SpeedInfraction{
			VehicleID: vehicleID,
			Timestamp: s.Timestamp,
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			SpeedKph:  s.SpeedKph,
			LimitKph:  limitKph,
			ExcessKph: excess,
			IsSevere:  excess > th.SevereExcessKph,
		})
	}
	SortInfractions(out)
	return out
}

// ScanFleetInfractions scans several vehicles' streams and merges the result
func ScanFleetInfractions(streams map[string][]models.PositionSample, limitKph float64, th Thresholds) []models.SpeedInfraction {
	var out []models.SpeedInfraction
	for vehicleID, samples := range streams {
		out = append(out, ScanInfractions(vehicleID, samples, limitKph, th)...)
	}
	SortInfractions(out)
	return out
}

// SortInfractions orders infractions newest first, then by vehicle id
func SortInfractions(infractions []models.SpeedInfraction) {
	sort.SliceStable(infractions, func(i, j int) bool {
		a, b := infractions[i], infractions[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.VehicleID < b.VehicleID
	})
}

// CountSevere returns the number of severe infractions
func CountSevere(infractions []models.SpeedInfraction) int {
	n := 0
	for _, inf := range infractions {
		if inf.IsSevere {
			n++
		}
	}
	return n
}
