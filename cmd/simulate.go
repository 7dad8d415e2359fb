package main

import (
	"math"
	"math/rand"
	"time"

	"fleet-trajectory-analytics/internal/analytics"
	"fleet-trajectory-analytics/internal/models"
)

// simulation describes synthetic drive/park cycles for one vehicle
type simulation struct {
	VehicleID string
	Start     time.Time
	End       time.Time
	Latitude  float64
	Longitude float64

	// DriveInterval and ParkInterval are the reporting periods while moving
	// and while parked.
	DriveInterval time.Duration
	ParkInterval  time.Duration
}

// simulate produces a time-ordered position stream alternating between
// driving and parking until End. Drives occasionally include hard braking
// and stretches above the motorway limit.
func simulate(sim simulation, rng *rand.Rand) []models.PositionSample {
	var out []models.PositionSample

	lat, lon := sim.Latitude, sim.Longitude
	heading := rng.Float64() * 360
	odometer := 20000 + rng.Float64()*80000
	now := sim.Start

	emit := func(speed float64, ignition bool) {
		out = append(out, models.PositionSample{
			VehicleID:      sim.VehicleID,
			Timestamp:      now,
			Latitude:       lat,
			Longitude:      lon,
			SpeedKph:       speed,
			HeadingDegrees: models.Float64Ptr(heading),
			IgnitionOn:     models.BoolPtr(ignition),
			OdometerKm:     models.Float64Ptr(math.Round(odometer*1000) / 1000),
			RPM:            models.Float64Ptr(engineRPM(speed, ignition)),
		})
	}

	advance := func(speed float64, dt time.Duration) {
		km := speed * dt.Hours()
		rad := heading * math.Pi / 180
		lat += km * math.Cos(rad) / kmPerDegree
		lon += km * math.Sin(rad) / (kmPerDegree * math.Cos(lat*math.Pi/180))
		odometer += km
		now = now.Add(dt)
	}

	for now.Before(sim.End) {
		// Drive
		driveUntil := now.Add(time.Duration(10+rng.Intn(25)) * time.Minute)
		cruise := 40 + rng.Float64()*60
		speed := 0.0
		for now.Before(driveUntil) && now.Before(sim.End) {
			emit(speed, true)

			if speed > 50 && rng.Float64() < 0.03 && now.Add(2*time.Second).Before(sim.End) {
				// Hard braking over two seconds.
				advance(speed, 2*time.Second)
				speed -= 30 + rng.Float64()*15
				emit(speed, true)
			}
			if rng.Float64() < 0.02 {
				cruise = 95 + rng.Float64()*50
			}

			advance(speed, sim.DriveInterval)
			speed += (cruise - speed) * 0.5
			speed = math.Max(0, speed+(rng.Float64()-0.5)*6)
			heading = math.Mod(heading+(rng.Float64()-0.5)*20+360, 360)
		}
		if !now.Before(sim.End) {
			break
		}

		// Park
		emit(0, false)
		parkUntil := now.Add(time.Duration(8+rng.Intn(40)) * time.Minute)
		for {
			now = now.Add(sim.ParkInterval)
			if !now.Before(parkUntil) || now.After(sim.End) {
				break
			}
			emit(0, false)
		}
	}

	return out
}

func engineRPM(speed float64, ignition bool) float64 {
	if !ignition {
		return 0
	}
	return math.Round(750 + speed*32)
}

const kmPerDegree = analytics.EarthRadiusKm * math.Pi / 180
