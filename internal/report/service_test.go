package report

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-trajectory-analytics/internal/analytics"
	"fleet-trajectory-analytics/internal/fleet"
	"fleet-trajectory-analytics/internal/models"
)

type mockHistory struct {
	HistoryFunc func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error)
}

func (m *mockHistory) History(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
	return m.HistoryFunc(ctx, q)
}

type mockDirectory struct {
	VehicleIDsFunc func(ctx context.Context) ([]string, error)
}

func (m *mockDirectory) VehicleIDs(ctx context.Context) ([]string, error) {
	return m.VehicleIDsFunc(ctx)
}

type mockResolver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockResolver) Resolve(ctx context.Context, lat, lon float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return "Depot", nil
}

var day = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

const kmPerDegreeLat = analytics.EarthRadiusKm * math.Pi / 180

// commute drives north at 60 km/h for ten minutes starting at 08:00, then
// parks for ten minutes.
func commute(vehicleID string) []models.PositionSample {
	var out []models.PositionSample
	start := day.Add(8 * time.Hour)
	step := 0.5 / kmPerDegreeLat
	for i := 0; i <= 20; i++ {
		out = append(out, models.PositionSample{
			VehicleID: vehicleID,
			Timestamp: start.Add(time.Duration(i) * 30 * time.Second),
			Latitude:  float64(i) * step,
			Longitude: 106.8,
			SpeedKph:  60,
		})
	}
	parkedAt := out[len(out)-1]
	for i := 1; i <= 20; i++ {
		p := parkedAt
		p.Timestamp = parkedAt.Timestamp.Add(time.Duration(i) * 30 * time.Second)
		p.SpeedKph = 0
		out = append(out, p)
	}
	return out
}

func historyOf(streams map[string][]models.PositionSample) *mockHistory {
	return &mockHistory{
		HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
			var out []models.PositionSample
			for _, s := range streams[q.VehicleID] {
				if (q.From.IsZero() || !s.Timestamp.Before(q.From)) && (q.To.IsZero() || !s.Timestamp.After(q.To)) {
					out = append(out, s)
				}
			}
			return out, nil
		},
	}
}

func newTestService(t *testing.T, history *mockHistory, dir VehicleDirectory, opts Options) *Service {
	t.Helper()
	if opts.Config == (analytics.Config{}) {
		opts.Config = analytics.DefaultConfig()
	}
	opts.Logf = func(string, ...interface{}) {}
	svc, err := NewService(history, dir, opts)
	require.NoError(t, err)
	return svc
}

func TestNewService_RejectsInvalidConfig(t *testing.T) {
	cfg := analytics.DefaultConfig()
	cfg.SpeedLimitKph = -5
	_, err := NewService(historyOf(nil), nil, Options{Config: cfg})
	assert.ErrorIs(t, err, analytics.ErrInvalidConfig)
}

func TestTrips(t *testing.T) {
	resolver := &mockResolver{}
	svc := newTestService(t, historyOf(map[string][]models.PositionSample{"VEH-001": commute("VEH-001")}), nil, Options{Resolver: resolver})

	report, err := svc.Trips(context.Background(), Query{VehicleID: "VEH-001", From: day, To: day.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, report.HasData)
	assert.Empty(t, report.Message)
	require.Len(t, report.Trips, 1)
	assert.Equal(t, 1, report.TripCount)
	assert.InDelta(t, 10, report.TotalDistanceKm, 1e-6)
	assert.Equal(t, 60.0, report.MaxSpeedKph)
	assert.Equal(t, "Depot", report.Trips[0].StartAddress)
	assert.Equal(t, "Depot", report.Trips[0].EndAddress)
	assert.Equal(t, 2, resolver.calls)
}

func TestTrips_GeocoderFailureFallsBackToCoordinates(t *testing.T) {
	resolver := &mockResolver{err: errors.New("rate limited")}
	svc := newTestService(t, historyOf(map[string][]models.PositionSample{"VEH-001": commute("VEH-001")}), nil, Options{Resolver: resolver})

	report, err := svc.Trips(context.Background(), Query{VehicleID: "VEH-001"})
	require.NoError(t, err)
	require.Len(t, report.Trips, 1)
	assert.Equal(t, "0.000000, 106.800000", report.Trips[0].StartAddress)
}

func TestTrips_NoData(t *testing.T) {
	svc := newTestService(t, historyOf(nil), nil, Options{})

	report, err := svc.Trips(context.Background(), Query{VehicleID: "VEH-404"})
	require.NoError(t, err)
	assert.False(t, report.HasData)
	assert.Equal(t, NoDataMessage, report.Message)
	assert.NotNil(t, report.Trips)
	assert.Empty(t, report.Trips)
}

func TestTrips_InvertedRange(t *testing.T) {
	svc := newTestService(t, historyOf(nil), nil, Options{})
	_, err := svc.Trips(context.Background(), Query{VehicleID: "v", From: day, To: day.Add(-time.Hour)})
	assert.ErrorIs(t, err, analytics.ErrInvalidConfig)
}

func TestTrips_HistoryFailure(t *testing.T) {
	history := &mockHistory{HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
		return nil, errors.New("disk I/O error")
	}}
	svc := newTestService(t, history, nil, Options{})
	_, err := svc.Trips(context.Background(), Query{VehicleID: "v"})
	assert.Error(t, err)
}

func TestStops(t *testing.T) {
	svc := newTestService(t, historyOf(map[string][]models.PositionSample{"VEH-001": commute("VEH-001")}), nil, Options{})

	report, err := svc.Stops(context.Background(), Query{VehicleID: "VEH-001"})
	require.NoError(t, err)
	require.Len(t, report.Stops, 1)
	assert.Equal(t, 570.0, report.TotalStopSeconds)
	assert.Empty(t, report.Stops[0].Address)
}

func TestMileage_WithComparison(t *testing.T) {
	streams := map[string][]models.PositionSample{"VEH-001": commute("VEH-001")}
	svc := newTestService(t, historyOf(streams), nil, Options{})

	report, err := svc.Mileage(context.Background(), "VEH-001", analytics.MileageRequest{Period: models.PeriodDay, From: day, To: day})
	require.NoError(t, err)
	assert.Equal(t, "VEH-001", report.VehicleID)
	assert.True(t, report.HasData)
	assert.InDelta(t, 10, report.TotalDistanceKm, 1e-6)
	require.NotNil(t, report.Comparison)
	assert.Equal(t, models.TrendIncrease, report.Comparison.Trend)
	assert.Zero(t, report.Comparison.PercentageChange)

	hourly, err := svc.Mileage(context.Background(), "VEH-001", analytics.MileageRequest{Period: models.PeriodHour, From: day})
	require.NoError(t, err)
	assert.Nil(t, hourly.Comparison)
	assert.Equal(t, 1, hourly.Buckets[8].TripCount)
}

func TestMileage_PreviousPeriodFailureKeepsReport(t *testing.T) {
	streams := map[string][]models.PositionSample{"VEH-001": commute("VEH-001")}
	ok := historyOf(streams)
	history := &mockHistory{HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
		if q.From.Before(day) {
			return nil, errors.New("timeout")
		}
		return ok.HistoryFunc(ctx, q)
	}}
	svc := newTestService(t, history, nil, Options{})

	report, err := svc.Mileage(context.Background(), "VEH-001", analytics.MileageRequest{Period: models.PeriodDay, From: day, To: day})
	require.NoError(t, err)
	assert.True(t, report.HasData)
	assert.Nil(t, report.Comparison)
}

func TestMileage_ParkedAllDayHasData(t *testing.T) {
	var parked []models.PositionSample
	for i := 0; i < 100; i++ {
		parked = append(parked, models.PositionSample{
			VehicleID: "VEH-001",
			Timestamp: day.Add(8*time.Hour + time.Duration(i)*time.Minute),
			Latitude:  -6.2,
			Longitude: 106.8,
		})
	}
	svc := newTestService(t, historyOf(map[string][]models.PositionSample{"VEH-001": parked}), nil, Options{})

	report, err := svc.Mileage(context.Background(), "VEH-001", analytics.MileageRequest{Period: models.PeriodDay, From: day, To: day})
	require.NoError(t, err)
	assert.True(t, report.HasData)
	assert.Empty(t, report.Message)
	assert.Zero(t, report.TotalDistanceKm)
	assert.Zero(t, report.AverageDistanceKm)
	assert.Zero(t, report.MaxDistanceKm)
	assert.Zero(t, report.MinDistanceKm)
	require.Len(t, report.Buckets, 1)
	assert.Zero(t, report.Buckets[0].TripCount)
	require.NotNil(t, report.Comparison)
	assert.Equal(t, models.TrendStable, report.Comparison.Trend)
}

func TestMileage_NoSamples(t *testing.T) {
	svc := newTestService(t, historyOf(nil), nil, Options{})

	report, err := svc.Mileage(context.Background(), "VEH-001", analytics.MileageRequest{Period: models.PeriodDay, From: day, To: day})
	require.NoError(t, err)
	assert.False(t, report.HasData)
	assert.Equal(t, NoDataMessage, report.Message)
	assert.Zero(t, report.TotalDistanceKm)
}

func TestMileage_InvalidPeriod(t *testing.T) {
	svc := newTestService(t, historyOf(nil), nil, Options{})
	_, err := svc.Mileage(context.Background(), "VEH-001", analytics.MileageRequest{Period: "fortnight", From: day, To: day})
	assert.ErrorIs(t, err, analytics.ErrInvalidConfig)
}

func speeding(vehicleID string, speeds ...float64) []models.PositionSample {
	out := make([]models.PositionSample, len(speeds))
	for i, v := range speeds {
		out[i] = models.PositionSample{
			VehicleID: vehicleID,
			Timestamp: day.Add(9*time.Hour + time.Duration(i)*2*time.Second),
			Latitude:  -6.2,
			Longitude: 106.8,
			SpeedKph:  v,
		}
	}
	return out
}

func TestIncidents_TypeOverride(t *testing.T) {
	streams := map[string][]models.PositionSample{"VEH-001": speeding("VEH-001", 20, 60, 150)}
	svc := newTestService(t, historyOf(streams), nil, Options{})

	report, err := svc.Incidents(context.Background(), Query{VehicleID: "VEH-001"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Counts[models.IncidentHarshAcceleration])
	assert.Equal(t, 1, report.Counts[models.IncidentOverspeed])

	only := analytics.IncidentTypes{Overspeed: true}
	report, err = svc.Incidents(context.Background(), Query{VehicleID: "VEH-001", Types: &only})
	require.NoError(t, err)
	require.Len(t, report.Incidents, 1)
	assert.Equal(t, models.IncidentOverspeed, report.Incidents[0].Type)
}

func TestInfractions_LimitOverride(t *testing.T) {
	streams := map[string][]models.PositionSample{"VEH-001": speeding("VEH-001", 80, 95, 130)}
	svc := newTestService(t, historyOf(streams), nil, Options{})

	report, err := svc.Infractions(context.Background(), Query{VehicleID: "VEH-001"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.SevereCount)
	assert.Equal(t, 90.0, report.LimitKph)

	limit := 100.0
	report, err = svc.Infractions(context.Background(), Query{VehicleID: "VEH-001", LimitKph: &limit})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 0, report.SevereCount)

	negative := -1.0
	_, err = svc.Infractions(context.Background(), Query{VehicleID: "VEH-001", LimitKph: &negative})
	assert.ErrorIs(t, err, analytics.ErrInvalidConfig)
}

func TestFleetInfractions_UsesDirectoryAndToleratesFailures(t *testing.T) {
	streams := map[string][]models.PositionSample{
		"VEH-001": speeding("VEH-001", 95),
		"VEH-002": speeding("VEH-002", 70, 125),
	}
	ok := historyOf(streams)
	history := &mockHistory{HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
		if q.VehicleID == "VEH-003" {
			return nil, errors.New("unauthorized")
		}
		return ok.HistoryFunc(ctx, q)
	}}
	dir := &mockDirectory{VehicleIDsFunc: func(ctx context.Context) ([]string, error) {
		return []string{"VEH-001", "VEH-002", "VEH-003"}, nil
	}}
	svc := newTestService(t, history, dir, Options{Workers: 2})

	report, err := svc.FleetInfractions(context.Background(), FleetQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Vehicles)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.SevereCount)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "VEH-003", report.Failures[0].VehicleID)
	assert.True(t, report.HasData)

	// Newest first.
	assert.Equal(t, "VEH-002", report.Infractions[0].VehicleID)
}

func TestFleetIncidents_EmptyFleet(t *testing.T) {
	dir := &mockDirectory{VehicleIDsFunc: func(ctx context.Context) ([]string, error) {
		return nil, nil
	}}
	svc := newTestService(t, historyOf(nil), dir, Options{})

	report, err := svc.FleetIncidents(context.Background(), FleetQuery{})
	require.NoError(t, err)
	assert.False(t, report.HasData)
	assert.Equal(t, NoDataMessage, report.Message)
	assert.Empty(t, report.Incidents)
	assert.Zero(t, report.Vehicles)
}

func TestFleetIncidents_DirectoryFailure(t *testing.T) {
	dir := &mockDirectory{VehicleIDsFunc: func(ctx context.Context) ([]string, error) {
		return nil, errors.New("db locked")
	}}
	svc := newTestService(t, historyOf(nil), dir, Options{})
	_, err := svc.FleetIncidents(context.Background(), FleetQuery{})
	assert.Error(t, err)
}

func TestFleetIncidents_SupersededByNewerRequest(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	history := &mockHistory{HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
		if q.VehicleID == "slow" {
			once.Do(func() { close(started) })
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-release:
			}
		}
		return speeding(q.VehicleID, 20, 60), nil
	}}
	svc := newTestService(t, history, nil, Options{})

	errc := make(chan error, 1)
	go func() {
		_, err := svc.FleetIncidents(context.Background(), FleetQuery{VehicleIDs: []string{"slow"}, Target: "fleet"})
		errc <- err
	}()
	<-started

	report, err := svc.FleetIncidents(context.Background(), FleetQuery{VehicleIDs: []string{"fast"}, Target: "fleet"})
	require.NoError(t, err)
	require.Len(t, report.Incidents, 1)
	close(release)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, fleet.ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded request did not return")
	}
}
