// Package report assembles analytics reports from stored position history.
package report

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"fleet-trajectory-analytics/internal/analytics"
	"fleet-trajectory-analytics/internal/fleet"
	"fleet-trajectory-analytics/internal/geocode"
	"fleet-trajectory-analytics/internal/models"
)

// NoDataMessage is shown when a window holds no usable samples
const NoDataMessage = "No position data for the selected period"

// VehicleDirectory lists the vehicles of the fleet
type VehicleDirectory interface {
	VehicleIDs(ctx context.Context) ([]string, error)
}

// Options configures a Service
type Options struct {
	Config    analytics.Config
	Workers   int
	MaxPoints int
	Location  *time.Location

	// Resolver annotates trips and stops with addresses. Nil disables
	// annotation; lookup failures fall back to coordinates.
	Resolver geocode.Resolver

	Logf func(format string, v ...interface{})
}

// Service runs the analytics engine over stored history
type Service struct {
	history   fleet.HistoryProvider
	vehicles  VehicleDirectory
	cfg       analytics.Config
	maxPoints int
	loc       *time.Location
	resolver  geocode.Resolver
	coord     *fleet.Coordinator
	gens      *fleet.Generations
	logf      func(format string, v ...interface{})
}

// NewService validates the configuration and builds a Service
func NewService(history fleet.HistoryProvider, vehicles VehicleDirectory, opts Options) (*Service, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	var resolver geocode.Resolver
	if opts.Resolver != nil {
		fb := geocode.NewFallback(opts.Resolver)
		fb.Logf = logf
		resolver = fb
	}

	coord := fleet.NewCoordinator(history, opts.Workers)
	coord.Logf = logf

	return &Service{
		history:   history,
		vehicles:  vehicles,
		cfg:       opts.Config,
		maxPoints: opts.MaxPoints,
		loc:       loc,
		resolver:  resolver,
		coord:     coord,
		gens:      fleet.NewGenerations(),
		logf:      logf,
	}, nil
}

// Config returns the engine configuration of the service
func (s *Service) Config() analytics.Config {
	return s.cfg
}

// Location returns the reporting timezone
func (s *Service) Location() *time.Location {
	return s.loc
}

// Query selects one vehicle's window. Types and LimitKph override the
// service defaults for incident and infraction reports. A non-empty Target
// drops the result when a newer request for the same target starts first.
type Query struct {
	VehicleID string
	From      time.Time
	To        time.Time
	Types     *analytics.IncidentTypes
	LimitKph  *float64
	Target    string
}

// FleetQuery selects a fleet window. Empty VehicleIDs means every vehicle
// of the directory.
type FleetQuery struct {
	VehicleIDs []string
	From       time.Time
	To         time.Time
	Types      *analytics.IncidentTypes
	LimitKph   *float64
	Target     string
}

func validateRange(from, to time.Time) error {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("%w: range ends before it starts", analytics.ErrInvalidConfig)
	}
	return nil
}

func (s *Service) limit(override *float64) (float64, error) {
	if override == nil {
		return s.cfg.SpeedLimitKph, nil
	}
	cfg := s.cfg
	cfg.SpeedLimitKph = *override
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	return *override, nil
}

func (s *Service) types(override *analytics.IncidentTypes) analytics.IncidentTypes {
	if override == nil {
		return s.cfg.IncidentTypes
	}
	return *override
}

// begin starts a generation for target. The returned finish reports
// ErrSuperseded when a newer request took over meanwhile.
func (s *Service) begin(ctx context.Context, target string) (context.Context, func() error) {
	if target == "" {
		return ctx, func() error { return nil }
	}
	gctx, ticket := s.gens.Begin(ctx, target)
	return gctx, func() error {
		defer ticket.Done()
		if !ticket.Current() {
			return fleet.ErrSuperseded
		}
		return nil
	}
}

// samples loads and normalizes one vehicle's window
func (s *Service) samples(ctx context.Context, vehicleID string, from, to time.Time) ([]models.PositionSample, error) {
	raw, err := s.history.History(ctx, models.HistoryQuery{
		VehicleID: vehicleID,
		From:      from,
		To:        to,
		MaxPoints: s.maxPoints,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", vehicleID, err)
	}
	return analytics.Normalize(raw, analytics.Window{From: from, To: to}), nil
}

// TripReport lists the trips of one vehicle
type TripReport struct {
	VehicleID            string        `json:"vehicle_id"`
	From                 time.Time     `json:"from"`
	To                   time.Time     `json:"to"`
	Trips                []models.Trip `json:"trips"`
	TripCount            int           `json:"trip_count"`
	TotalDistanceKm      float64       `json:"total_distance_km"`
	TotalDurationSeconds float64       `json:"total_duration_seconds"`
	MaxSpeedKph          float64       `json:"max_speed_kph"`
	HasData              bool          `json:"has_data"`
	Message              string        `json:"message,omitempty"`
}

// Trips segments the window and reports its meaningful trips
func (s *Service) Trips(ctx context.Context, q Query) (*TripReport, error) {
	if err := validateRange(q.From, q.To); err != nil {
		return nil, err
	}
	ctx, finish := s.begin(ctx, q.Target)

	samples, err := s.samples(ctx, q.VehicleID, q.From, q.To)
	if err != nil {
		if ferr := finish(); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}

	seg := analytics.Segment(samples, s.cfg.Thresholds)
	report := &TripReport{
		VehicleID: q.VehicleID,
		From:      q.From,
		To:        q.To,
		Trips:     seg.Trips,
		TripCount: len(seg.Trips),
		HasData:   len(samples) > 0,
	}
	if report.Trips == nil {
		report.Trips = []models.Trip{}
	}
	for i := range report.Trips {
		t := &report.Trips[i]
		report.TotalDistanceKm += t.DistanceKm
		report.TotalDurationSeconds += t.DurationSeconds
		if t.MaxSpeedKph > report.MaxSpeedKph {
			report.MaxSpeedKph = t.MaxSpeedKph
		}
		t.StartAddress = s.address(ctx, t.StartSample.Latitude, t.StartSample.Longitude)
		t.EndAddress = s.address(ctx, t.EndSample.Latitude, t.EndSample.Longitude)
	}
	if !report.HasData {
		report.Message = NoDataMessage
	}

	if err := finish(); err != nil {
		return nil, err
	}
	return report, nil
}

// StopReport lists the stationary periods of one vehicle
type StopReport struct {
	VehicleID        string        `json:"vehicle_id"`
	From             time.Time     `json:"from"`
	To               time.Time     `json:"to"`
	Stops            []models.Stop `json:"stops"`
	StopCount        int           `json:"stop_count"`
	TotalStopSeconds float64       `json:"total_stop_seconds"`
	HasData          bool          `json:"has_data"`
	Message          string        `json:"message,omitempty"`
}

// Stops reports every stationary run of the window, independent of trip
// boundaries
func (s *Service) Stops(ctx context.Context, q Query) (*StopReport, error) {
	if err := validateRange(q.From, q.To); err != nil {
		return nil, err
	}
	ctx, finish := s.begin(ctx, q.Target)

	samples, err := s.samples(ctx, q.VehicleID, q.From, q.To)
	if err != nil {
		if ferr := finish(); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}

	stops := analytics.DetectStops(samples, s.cfg.Thresholds)
	if stops == nil {
		stops = []models.Stop{}
	}
	report := &StopReport{
		VehicleID: q.VehicleID,
		From:      q.From,
		To:        q.To,
		Stops:     stops,
		StopCount: len(stops),
		HasData:   len(samples) > 0,
	}
	for i := range stops {
		report.TotalStopSeconds += stops[i].DurationSeconds
		stops[i].Address = s.address(ctx, stops[i].Latitude, stops[i].Longitude)
	}
	if !report.HasData {
		report.Message = NoDataMessage
	}

	if err := finish(); err != nil {
		return nil, err
	}
	return report, nil
}

// Mileage aggregates one vehicle's trips by period. Day and month reports
// carry a comparison against the preceding period of equal length; a
// failure to load that period only drops the comparison.
func (s *Service) Mileage(ctx context.Context, vehicleID string, req analytics.MileageRequest) (*models.MileageReport, error) {
	if req.Location == nil {
		req.Location = s.loc
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	current, err := s.mileage(ctx, vehicleID, req)
	if err != nil {
		return nil, err
	}

	if prev, ok := req.Previous(); ok {
		previous, err := s.mileage(ctx, vehicleID, prev)
		if err != nil {
			s.logf("report: previous period for %s unavailable: %v", vehicleID, err)
		} else {
			cmp := analytics.ComparePeriods(current, previous)
			current.Comparison = &cmp
		}
	}
	return &current, nil
}

func (s *Service) mileage(ctx context.Context, vehicleID string, req analytics.MileageRequest) (models.MileageReport, error) {
	window := req.Window()
	samples, err := s.samples(ctx, vehicleID, window.From, window.To)
	if err != nil {
		return models.MileageReport{}, err
	}
	seg := analytics.Segment(samples, s.cfg.Thresholds)
	report, err := analytics.AggregateMileage(seg.Trips, req)
	if err != nil {
		return models.MileageReport{}, err
	}
	report.VehicleID = vehicleID
	report.HasData = len(samples) > 0
	if !report.HasData {
		report.Message = NoDataMessage
	}
	return report, nil
}

// IncidentReport lists driving incidents, newest first
type IncidentReport struct {
	VehicleID string                      `json:"vehicle_id,omitempty"`
	From      time.Time                   `json:"from"`
	To        time.Time                   `json:"to"`
	Incidents []models.DrivingIncident    `json:"incidents"`
	Counts    map[models.IncidentType]int `json:"counts"`
	Vehicles  int                         `json:"vehicles,omitempty"`
	Failures  []fleet.Failure             `json:"failures,omitempty"`
	HasData   bool                        `json:"has_data"`
	Message   string                      `json:"message,omitempty"`
}

// Incidents detects driving incidents for one vehicle
func (s *Service) Incidents(ctx context.Context, q Query) (*IncidentReport, error) {
	if err := validateRange(q.From, q.To); err != nil {
		return nil, err
	}
	types := s.types(q.Types)
	ctx, finish := s.begin(ctx, q.Target)

	samples, err := s.samples(ctx, q.VehicleID, q.From, q.To)
	if err != nil {
		if ferr := finish(); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}

	report := newIncidentReport(analytics.DetectIncidents(q.VehicleID, samples, types, s.cfg.Thresholds), len(samples) > 0)
	report.VehicleID = q.VehicleID
	report.From, report.To = q.From, q.To

	if err := finish(); err != nil {
		return nil, err
	}
	return report, nil
}

// FleetIncidents detects driving incidents across the fleet
func (s *Service) FleetIncidents(ctx context.Context, q FleetQuery) (*IncidentReport, error) {
	if err := validateRange(q.From, q.To); err != nil {
		return nil, err
	}
	types := s.types(q.Types)
	ids, err := s.fleetIDs(ctx, q.VehicleIDs)
	if err != nil {
		return nil, err
	}

	var hasData atomic.Bool
	analyze := func(vehicleID string, raw []models.PositionSample) []models.DrivingIncident {
		samples := analytics.Normalize(raw, analytics.Window{From: q.From, To: q.To})
		if len(samples) > 0 {
			hasData.Store(true)
		}
		return analytics.DetectIncidents(vehicleID, samples, types, s.cfg.Thresholds)
	}

	res, err := fanOut(ctx, s, q, ids, analyze)
	if err != nil {
		return nil, err
	}

	analytics.SortIncidents(res.Items)
	report := newIncidentReport(res.Items, hasData.Load())
	report.From, report.To = q.From, q.To
	report.Vehicles = res.Vehicles
	report.Failures = res.Failures
	return report, nil
}

func newIncidentReport(incidents []models.DrivingIncident, hasData bool) *IncidentReport {
	if incidents == nil {
		incidents = []models.DrivingIncident{}
	}
	report := &IncidentReport{
		Incidents: incidents,
		Counts:    analytics.CountIncidents(incidents),
		HasData:   hasData,
	}
	if !hasData {
		report.Message = NoDataMessage
	}
	return report
}

// InfractionReport lists speed-limit infractions, newest first
type InfractionReport struct {
	VehicleID   string                   `json:"vehicle_id,omitempty"`
	From        time.Time                `json:"from"`
	To          time.Time                `json:"to"`
	LimitKph    float64                  `json:"limit_kph"`
	Infractions []models.SpeedInfraction `json:"infractions"`
	Total       int                      `json:"total"`
	SevereCount int                      `json:"severe_count"`
	Vehicles    int                      `json:"vehicles,omitempty"`
	Failures    []fleet.Failure          `json:"failures,omitempty"`
	HasData     bool                     `json:"has_data"`
	Message     string                   `json:"message,omitempty"`
}

// Infractions scans one vehicle's window against the speed limit
func (s *Service) Infractions(ctx context.Context, q Query) (*InfractionReport, error) {
	if err := validateRange(q.From, q.To); err != nil {
		return nil, err
	}
	limit, err := s.limit(q.LimitKph)
	if err != nil {
		return nil, err
	}
	ctx, finish := s.begin(ctx, q.Target)

	samples, err := s.samples(ctx, q.VehicleID, q.From, q.To)
	if err != nil {
		if ferr := finish(); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}

	report := newInfractionReport(analytics.ScanInfractions(q.VehicleID, samples, limit, s.cfg.Thresholds), limit, len(samples) > 0)
	report.VehicleID = q.VehicleID
	report.From, report.To = q.From, q.To

	if err := finish(); err != nil {
		return nil, err
	}
	return report, nil
}

// FleetInfractions scans every vehicle of the fleet against the speed limit
func (s *Service) FleetInfractions(ctx context.Context, q FleetQuery) (*InfractionReport, error) {
	if err := validateRange(q.From, q.To); err != nil {
		return nil, err
	}
	limit, err := s.limit(q.LimitKph)
	if err != nil {
		return nil, err
	}
	ids, err := s.fleetIDs(ctx, q.VehicleIDs)
	if err != nil {
		return nil, err
	}

	var hasData atomic.Bool
	analyze := func(vehicleID string, raw []models.PositionSample) []models.SpeedInfraction {
		samples := analytics.Normalize(raw, analytics.Window{From: q.From, To: q.To})
		if len(samples) > 0 {
			hasData.Store(true)
		}
		return analytics.ScanInfractions(vehicleID, samples, limit, s.cfg.Thresholds)
	}

	res, err := fanOut(ctx, s, q, ids, analyze)
	if err != nil {
		return nil, err
	}

	analytics.SortInfractions(res.Items)
	report := newInfractionReport(res.Items, limit, hasData.Load())
	report.From, report.To = q.From, q.To
	report.Vehicles = res.Vehicles
	report.Failures = res.Failures
	return report, nil
}

func newInfractionReport(infractions []models.SpeedInfraction, limit float64, hasData bool) *InfractionReport {
	if infractions == nil {
		infractions = []models.SpeedInfraction{}
	}
	report := &InfractionReport{
		LimitKph:    limit,
		Infractions: infractions,
		Total:       len(infractions),
		SevereCount: analytics.CountSevere(infractions),
		HasData:     hasData,
	}
	if !hasData {
		report.Message = NoDataMessage
	}
	return report
}

func fanOut[T any](ctx context.Context, s *Service, q FleetQuery, ids []string, analyze func(string, []models.PositionSample) []T) (fleet.Result[T], error) {
	req := fleet.Request{VehicleIDs: ids, From: q.From, To: q.To, MaxPoints: s.maxPoints}
	if q.Target == "" {
		return fleet.FanOut(ctx, s.coord, req, analyze)
	}
	return fleet.FanOutLatest(ctx, s.coord, s.gens, q.Target, req, analyze)
}

func (s *Service) fleetIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) > 0 || s.vehicles == nil {
		return ids, nil
	}
	all, err := s.vehicles.VehicleIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	return all, nil
}

// address resolves a coordinate when a resolver is configured
func (s *Service) address(ctx context.Context, lat, lon float64) string {
	if s.resolver == nil {
		return ""
	}
	addr, _ := s.resolver.Resolve(ctx, lat, lon)
	return addr
}
