package models

import "time"

// SegmentKind distinguishes trip and stop segments
type SegmentKind string

const (
	SegmentTrip SegmentKind = "trip"
	SegmentStop SegmentKind = "stop"
)

// Segment is an inclusive index range of a normalized sample stream
type Segment struct {
	Kind       SegmentKind `json:"kind"`
	StartIndex int         `json:"start_index"`
	EndIndex   int         `json:"end_index"`
}

// DistanceSource records where a trip distance came from
type DistanceSource string

const (
	DistanceFromGPS      DistanceSource = "gps"
	DistanceFromOdometer DistanceSource = "odometer"
)

// Trip represents a continuous movement interval
type Trip struct {
	StartIndex      int            `json:"start_index"`
	EndIndex        int            `json:"end_index"`
	StartSample     PositionSample `json:"start"`
	EndSample       PositionSample `json:"end"`
	PointCount      int            `json:"point_count"`
	DistanceKm      float64        `json:"distance_km"`
	DistanceSource  DistanceSource `json:"distance_source"`
	DurationSeconds float64        `json:"duration_seconds"`
	AvgSpeedKph     float64        `json:"avg_speed_kph"`
	MaxSpeedKph     float64        `json:"max_speed_kph"`
	StartAddress    string         `json:"start_address,omitempty"`
	EndAddress      string         `json:"end_address,omitempty"`
}

// StartTime returns the timestamp of the first sample of the trip
func (t Trip) StartTime() time.Time { return t.StartSample.Timestamp }

// Stop represents an interval of near-zero speed
type Stop struct {
	StartIndex      int            `json:"start_index"`
	EndIndex        int            `json:"end_index"`
	StartSample     PositionSample `json:"start"`
	EndSample       PositionSample `json:"end"`
	DurationSeconds float64        `json:"duration_seconds"`
	Latitude        float64        `json:"latitude"`
	Longitude       float64        `json:"longitude"`
	Address         string         `json:"address,omitempty"`
}

// PeriodType selects the bucket granularity of a mileage report
type PeriodType string

const (
	PeriodHour  PeriodType = "hour"
	PeriodDay   PeriodType = "day"
	PeriodMonth PeriodType = "month"
)

// Trend is the direction of a period-over-period change
type Trend string

const (
	TrendIncrease Trend = "increase"
	TrendDecrease Trend = "decrease"
	TrendStable   Trend = "stable"
)

// MileageBucket holds the mileage statistics of one period
type MileageBucket struct {
	Label            string    `json:"label"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	DistanceKm       float64   `json:"distance_km"`
	TripCount        int       `json:"trip_count"`
	DrivingMinutes   float64   `json:"driving_minutes"`
	AvgSpeedKph      float64   `json:"avg_speed_kph"`
	MaxSpeedKph      float64   `json:"max_speed_kph"`
	AverageDailyKm   float64   `json:"average_daily_km,omitempty"`
	DaysWithActivity int       `json:"days_with_activity,omitempty"`
}

// PeriodComparison compares a report against the preceding period
type PeriodComparison struct {
	PreviousTotalKm  float64 `json:"previous_total_km"`
	DifferenceKm     float64 `json:"difference_km"`
	PercentageChange float64 `json:"percentage_change"`
	Trend            Trend   `json:"trend"`
}

// MileageReport aggregates mileage buckets for one vehicle
type MileageReport struct {
	VehicleID         string            `json:"vehicle_id,omitempty"`
	PeriodType        PeriodType        `json:"period_type"`
	From              time.Time         `json:"from"`
	To                time.Time         `json:"to"`
	Buckets           []MileageBucket   `json:"buckets"`
	TotalDistanceKm   float64           `json:"total_distance_km"`
	AverageDistanceKm float64           `json:"average_distance_km"`
	MaxDistanceKm     float64           `json:"max_distance_km"`
	MinDistanceKm     float64           `json:"min_distance_km"`
	HasData           bool              `json:"has_data"`
	Message           string            `json:"message,omitempty"`
	Comparison        *PeriodComparison `json:"previous_period_comparison,omitempty"`
}

// IncidentType names a driving-behavior incident
type IncidentType string

const (
	IncidentHarshAcceleration IncidentType = "harshAcceleration"
	IncidentHarshBraking      IncidentType = "harshBraking"
	IncidentSharpSteering     IncidentType = "sharpSteering"
	IncidentOverspeed         IncidentType = "overspeed"
	IncidentHighRPM           IncidentType = "highRpm"
)

// IncidentTypeList contains all incident types in reporting order
var IncidentTypeList = []IncidentType{
	IncidentHarshAcceleration,
	IncidentHarshBraking,
	IncidentSharpSteering,
	IncidentOverspeed,
	IncidentHighRPM,
}

// Severity grades an incident
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// DrivingIncident represents a flagged driving-behavior event
type DrivingIncident struct {
	Type      IncidentType `json:"type"`
	VehicleID string       `json:"vehicle_id"`
	Timestamp time.Time    `json:"timestamp"`
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Value     float64      `json:"value"`
	Severity  Severity     `json:"severity"`
}

// SpeedInfraction represents one sample above the configured speed limit
type SpeedInfraction struct {
	VehicleID string    `json:"vehicle_id"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	SpeedKph  float64   `json:"speed_kph"`
	LimitKph  float64   `json:"limit_kph"`
	ExcessKph float64   `json:"excess_kph"`
	IsSevere  bool      `json:"is_severe"`
}
