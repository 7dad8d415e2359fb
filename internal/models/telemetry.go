package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// PositionSample represents a single GPS fix reported by a vehicle.
// Optional telemetry channels are nil when the device did not report them.
type PositionSample struct {
	VehicleID       string    `json:"vehicle_id"`
	Timestamp       time.Time `json:"timestamp"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	SpeedKph        float64   `json:"speed"`             // km/h
	HeadingDegrees  *float64  `json:"heading,omitempty"` // degrees, 0-360
	IgnitionOn      *bool     `json:"ignition_on,omitempty"`
	OdometerKm      *float64  `json:"odometer_km,omitempty"`
	RPM             *float64  `json:"engine_rpm,omitempty"`
	IsLiveTelemetry *bool     `json:"is_live,omitempty"`
}

// Live reports whether the sample is live telemetry. Feeds that never set
// the flag are treated as live.
func (p PositionSample) Live() bool {
	return p.IsLiveTelemetry == nil || *p.IsLiveTelemetry
}

// UnmarshalJSON accepts RFC3339-like strings or unix epoch numbers for the
// timestamp. A timestamp that cannot be decoded leaves Timestamp zero instead
// of failing the whole document; the normalizer drops such samples.
func (p *PositionSample) UnmarshalJSON(data []byte) error {
	type alias PositionSample
	aux := struct {
		*alias
		Timestamp json.RawMessage `json:"timestamp"`
	}{alias: (*alias)(p)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Timestamp = decodeTimestamp(aux.Timestamp)
	return nil
}

func decodeTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}
		}
		t, err := ParseTimestamp(s)
		if err != nil {
			return time.Time{}
		}
		return t
	}

	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}
	}
	return FromEpoch(n)
}

// Vehicle represents a fleet vehicle
type Vehicle struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LicensePlate string    `json:"license_plate"`
	VehicleType  string    `json:"vehicle_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryQuery selects the position history of one vehicle
type HistoryQuery struct {
	VehicleID string
	From      time.Time
	To        time.Time
	MaxPoints int
}

// Float64Ptr returns a pointer to v
func Float64Ptr(v float64) *float64 { return &v }

// BoolPtr returns a pointer to v
func BoolPtr(v bool) *bool { return &v }
