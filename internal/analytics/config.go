// Package analytics turns position streams into trips, stops, mileage
// reports, driving incidents and speed infractions. Every function in this
// package is pure: inputs are never mutated and no state is kept between calls.
package analytics

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"fleet-trajectory-analytics/internal/models"
)

// ErrInvalidConfig is returned when a request configuration is rejected
var ErrInvalidConfig = errors.New("invalid analytics configuration")

// Tiers grades a magnitude. Values above Low trigger an event; above Medium
// and High the severity escalates.
type Tiers struct {
	Low    float64
	Medium float64
	High   float64
}

// Grade returns the severity of v and whether v triggers at all.
func (t Tiers) Grade(v float64) (models.Severity, bool) {
	switch {
	case v > t.High:
		return models.SeverityHigh, true
	case v > t.Medium:
		return models.SeverityMedium, true
	case v > t.Low:
		return models.SeverityLow, true
	default:
		return "", false
	}
}

func (t Tiers) validate(name string) error {
	if t.Low < 0 || t.Medium < 0 || t.High < 0 {
		return fmt.Errorf("%w: %s tiers must not be negative", ErrInvalidConfig, name)
	}
	if t.Low > t.Medium || t.Medium > t.High {
		return fmt.Errorf("%w: %s tiers must be ascending", ErrInvalidConfig, name)
	}
	return nil
}

// Thresholds holds the tunable heuristics of the engine
type Thresholds struct {
	// Segmentation
	GapThreshold        time.Duration
	StationaryThreshold time.Duration
	StopSpeedKph        float64
	MinTripDuration     time.Duration
	MinTripDistanceKm   float64
	// OutageTolerance bridges a telemetry gap when both fixes are moving and
	// the speed implied by the displacement is within this fraction of the
	// reported speed. Moving gaps above MaxPairGap that fail the same check
	// split the trip even below GapThreshold. Zero disables both.
	OutageTolerance float64
	MinStopDuration time.Duration

	// Incidents
	MaxPairGap          time.Duration
	Acceleration        Tiers // m/s²
	Braking             Tiers // m/s², magnitudes
	Steering            Tiers // degrees
	SteeringMinSpeedKph float64
	Overspeed           Tiers // km/h
	HighRPM             Tiers

	// Infractions
	SevereExcessKph float64
}

// DefaultThresholds returns the documented defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		GapThreshold:        10 * time.Minute,
		StationaryThreshold: 5 * time.Minute,
		StopSpeedKph:        2,
		MinTripDuration:     2 * time.Minute,
		MinTripDistanceKm:   0.2,
		OutageTolerance:     0.5,

		MaxPairGap:          5 * time.Minute,
		Acceleration:        Tiers{Low: 3, Medium: 4, High: 5},
		Braking:             Tiers{Low: 3, Medium: 4, High: 5},
		Steering:            Tiers{Low: 45, Medium: 60, High: 90},
		SteeringMinSpeedKph: 20,
		Overspeed:           Tiers{Low: 130, Medium: 145, High: 160},
		HighRPM:             Tiers{Low: 3500, Medium: 4000, High: 5000},

		SevereExcessKph: 30,
	}
}

// Validate rejects thresholds that cannot produce meaningful output
func (th Thresholds) Validate() error {
	durations := map[string]time.Duration{
		"gap threshold":        th.GapThreshold,
		"stationary threshold": th.StationaryThreshold,
		"min trip duration":    th.MinTripDuration,
		"min stop duration":    th.MinStopDuration,
		"max pair gap":         th.MaxPairGap,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
	}

	scalars := map[string]float64{
		"stop speed":             th.StopSpeedKph,
		"min trip distance":      th.MinTripDistanceKm,
		"outage tolerance":       th.OutageTolerance,
		"steering minimum speed": th.SteeringMinSpeedKph,
		"severe excess":          th.SevereExcessKph,
	}
	for name, v := range scalars {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
	}

	if th.GapThreshold == 0 {
		return fmt.Errorf("%w: gap threshold must be positive", ErrInvalidConfig)
	}

	for name, tiers := range map[string]Tiers{
		"acceleration": th.Acceleration,
		"braking":      th.Braking,
		"steering":     th.Steering,
		"overspeed":    th.Overspeed,
		"rpm":          th.HighRPM,
	} {
		if err := tiers.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// IncidentTypes toggles each incident detector independently
type IncidentTypes struct {
	HarshAcceleration bool `json:"harshAcceleration"`
	HarshBraking      bool `json:"harshBraking"`
	SharpSteering     bool `json:"sharpSteering"`
	Overspeed         bool `json:"overspeed"`
	HighRPM           bool `json:"highRpm"`
}

// AllIncidentTypes enables every detector
func AllIncidentTypes() IncidentTypes {
	return IncidentTypes{true, true, true, true, true}
}

// Enabled reports whether kind is switched on
func (t IncidentTypes) Enabled(kind models.IncidentType) bool {
	switch kind {
	case models.IncidentHarshAcceleration:
		return t.HarshAcceleration
	case models.IncidentHarshBraking:
		return t.HarshBraking
	case models.IncidentSharpSteering:
		return t.SharpSteering
	case models.IncidentOverspeed:
		return t.Overspeed
	case models.IncidentHighRPM:
		return t.HighRPM
	default:
		return false
	}
}

// Any reports whether at least one detector is enabled
func (t IncidentTypes) Any() bool {
	return t.HarshAcceleration || t.HarshBraking || t.SharpSteering || t.Overspeed || t.HighRPM
}

// ParseIncidentTypes parses a comma-separated list such as
// "harshBraking,overspeed". "all" enables every type; an empty string
// enables none.
func ParseIncidentTypes(s string) (IncidentTypes, error) {
	var t IncidentTypes
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch strings.ToLower(part) {
		case "":
		case "all":
			t = AllIncidentTypes()
		case strings.ToLower(string(models.IncidentHarshAcceleration)):
			t.HarshAcceleration = true
		case strings.ToLower(string(models.IncidentHarshBraking)):
			t.HarshBraking = true
		case strings.ToLower(string(models.IncidentSharpSteering)):
			t.SharpSteering = true
		case strings.ToLower(string(models.IncidentOverspeed)):
			t.Overspeed = true
		case strings.ToLower(string(models.IncidentHighRPM)):
			t.HighRPM = true
		default:
			return IncidentTypes{}, fmt.Errorf("%w: unknown incident type %q", ErrInvalidConfig, part)
		}
	}
	return t, nil
}

// DefaultSpeedLimitKph is the speed limit used by the infraction scanner
const DefaultSpeedLimitKph = 90.0

// Config is the per-request configuration of the engine
type Config struct {
	Thresholds    Thresholds
	SpeedLimitKph float64
	IncidentTypes IncidentTypes
}

// DefaultConfig returns the documented defaults with every incident enabled
func DefaultConfig() Config {
	return Config{
		Thresholds:    DefaultThresholds(),
		SpeedLimitKph: DefaultSpeedLimitKph,
		IncidentTypes: AllIncidentTypes(),
	}
}

// Validate is the only place configuration errors surface
func (c Config) Validate() error {
	if c.SpeedLimitKph < 0 || math.IsNaN(c.SpeedLimitKph) || math.IsInf(c.SpeedLimitKph, 0) {
		return fmt.Errorf("%w: speed limit must be a non-negative number", ErrInvalidConfig)
	}
	return c.Thresholds.Validate()
}
