package analytics

import (
	"math"
	"sort"

	"fleet-trajectory-analytics/internal/models"
)

// kphPerSecondToMPS2 converts km/h per second to m/s²
const kphPerSecondToMPS2 = 1000.0 / 3600.0

// DetectIncidents scans consecutive sample pairs of one vehicle's normalized
// stream. Pairs with a non-positive gap or a gap above MaxPairGap are skipped.
// Incidents refer to the later sample of the pair and are returned newest
// first.
func DetectIncidents(vehicleID string, samples []models.PositionSample, types IncidentTypes, th Thresholds) []models.DrivingIncident {
	if !types.Any() {
		return nil
	}

	var incidents []models.DrivingIncident
	emit := func(kind models.IncidentType, curr models.PositionSample, value float64, sev models.Severity) {
		incidents = append(incidents, models.DrivingIncident{
			Type:      kind,
			VehicleID: vehicleID,
			Timestamp: curr.Timestamp,
			Latitude:  curr.Latitude,
			Longitude: curr.Longitude,
			Value:     value,
			Severity:  sev,
		})
	}

	for i := 1; i < len(samples); i++ {
		prev, curr := samples[i-1], samples[i]
		dt := curr.Timestamp.Sub(prev.Timestamp)
		if dt <= 0 || dt > th.MaxPairGap {
			continue
		}

		accel := (curr.SpeedKph - prev.SpeedKph) / dt.Seconds() * kphPerSecondToMPS2
		if types.HarshAcceleration && accel > 0 {
			if sev, ok := th.Acceleration.Grade(accel); ok {
				emit(models.IncidentHarshAcceleration, curr, accel, sev)
			}
		}
		if types.HarshBraking && accel < 0 {
			if sev, ok := th.Braking.Grade(-accel); ok {
				emit(models.IncidentHarshBraking, curr, -accel, sev)
			}
		}

		if types.SharpSteering && prev.HeadingDegrees != nil && curr.HeadingDegrees != nil && curr.SpeedKph > th.SteeringMinSpeedKph {
			diff := HeadingDelta(*prev.HeadingDegrees, *curr.HeadingDegrees)
			if sev, ok := th.Steering.Grade(diff); ok {
				emit(models.IncidentSharpSteering, curr, diff, sev)
			}
		}

		if types.Overspeed {
			if sev, ok := th.Overspeed.Grade(curr.SpeedKph); ok {
				emit(models.IncidentOverspeed, curr, curr.SpeedKph, sev)
			}
		}

		if types.HighRPM && curr.RPM != nil {
			if sev, ok := th.HighRPM.Grade(*curr.RPM); ok {
				emit(models.IncidentHighRPM, curr, *curr.RPM, sev)
			}
		}
	}

	SortIncidents(incidents)
	return incidents
}

// HeadingDelta returns the absolute heading change folded into [0, 180]
func HeadingDelta(a, b float64) float64 {
	diff := math.Abs(b - a)
	diff = math.Mod(diff, 360)
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}

// SortIncidents orders incidents newest first, keeping emission order for
// equal timestamps.
func SortIncidents(incidents []models.DrivingIncident) {
	sort.SliceStable(incidents, func(i, j int) bool {
		return incidents[i].Timestamp.After(incidents[j].Timestamp)
	})
}

// CountIncidents tallies incidents per type
func CountIncidents(incidents []models.DrivingIncident) map[models.IncidentType]int {
	counts := make(map[models.IncidentType]int, len(models.IncidentTypeList))
	for _, kind := range models.IncidentTypeList {
		counts[kind] = 0
	}
	for _, inc := range incidents {
		counts[inc.Type]++
	}
	return counts
}
