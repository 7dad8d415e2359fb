package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-trajectory-analytics/internal/models"
)

type mockHistory struct {
	HistoryFunc func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error)
}

func (m *mockHistory) History(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
	return m.HistoryFunc(ctx, q)
}

func sampleFor(id string) []models.PositionSample {
	return []models.PositionSample{{VehicleID: id, Timestamp: time.Unix(1700000000, 0).UTC(), SpeedKph: 50}}
}

func idsOf(vehicleID string, samples []models.PositionSample) []string {
	out := make([]string, len(samples))
	for i, s := range samples {
		out[i] = vehicleID + ":" + s.VehicleID
	}
	return out
}

func quiet(c *Coordinator) *Coordinator {
	c.Logf = func(string, ...interface{}) {}
	return c
}

func TestFanOut_MergesInRequestOrder(t *testing.T) {
	history := &mockHistory{
		HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
			// Finish in reverse order.
			if q.VehicleID == "A" {
				time.Sleep(20 * time.Millisecond)
			}
			return sampleFor(q.VehicleID), nil
		},
	}
	c := quiet(NewCoordinator(history, 4))

	res, err := FanOut(context.Background(), c, Request{VehicleIDs: []string{"A", "B", "C", "B"}}, idsOf)
	require.NoError(t, err)
	assert.Equal(t, []string{"A:A", "B:B", "C:C"}, res.Items)
	assert.Equal(t, 3, res.Vehicles)
	assert.Empty(t, res.Failures)
}

func TestFanOut_PassesQuery(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	var got models.HistoryQuery
	history := &mockHistory{
		HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
			got = q
			return nil, nil
		},
	}
	_, err := FanOut(context.Background(), NewCoordinator(history, 1), Request{VehicleIDs: []string{"A"}, From: from, To: to, MaxPoints: 500}, idsOf)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryQuery{VehicleID: "A", From: from, To: to, MaxPoints: 500}, got)
}

func TestFanOut_FailureIsEmptyResult(t *testing.T) {
	history := &mockHistory{
		HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
			if q.VehicleID == "B" {
				return nil, errors.New("connection reset")
			}
			return sampleFor(q.VehicleID), nil
		},
	}
	var logged []string
	c := NewCoordinator(history, 2)
	c.Logf = func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	}

	res, err := FanOut(context.Background(), c, Request{VehicleIDs: []string{"A", "B", "C"}}, idsOf)
	require.NoError(t, err)
	assert.Equal(t, []string{"A:A", "C:C"}, res.Items)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "B", res.Failures[0].VehicleID)
	assert.Equal(t, "connection reset", res.Failures[0].Error)
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "B")
}

func TestFanOut_AllFail(t *testing.T) {
	history := &mockHistory{
		HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
			return nil, errors.New("boom")
		},
	}
	res, err := FanOut(context.Background(), quiet(NewCoordinator(history, 2)), Request{VehicleIDs: []string{"A", "B"}}, idsOf)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Len(t, res.Failures, 2)
}

func TestFanOut_NoVehicles(t *testing.T) {
	history := &mockHistory{
		HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
			t.Fatal("history must not be called")
			return nil, nil
		},
	}
	res, err := FanOut(context.Background(), NewCoordinator(history, 2), Request{}, idsOf)
	require.NoError(t, err)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.Vehicles)
}

func TestFanOut_RespectsWorkerLimit(t *testing.T) {
	var inFlight, peak int32
	history := &mockHistory{
		HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return sampleFor(q.VehicleID), nil
		},
	}
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("VEH-%03d", i)
	}

	res, err := FanOut(context.Background(), NewCoordinator(history, 3), Request{VehicleIDs: ids}, idsOf)
	require.NoError(t, err)
	assert.Len(t, res.Items, 20)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestFanOut_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	history := &mockHistory{
		HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	_, err := FanOut(ctx, quiet(NewCoordinator(history, 2)), Request{VehicleIDs: []string{"A", "B"}}, idsOf)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewCoordinator_DefaultWorkers(t *testing.T) {
	assert.Equal(t, DefaultWorkers, NewCoordinator(nil, 0).Workers())
	assert.Equal(t, 5, NewCoordinator(nil, 5).Workers())
}

func TestGenerations_NewerSupersedesOlder(t *testing.T) {
	gens := NewGenerations()

	ctx1, t1 := gens.Begin(context.Background(), "fleet")
	assert.True(t, t1.Current())

	ctx2, t2 := gens.Begin(context.Background(), "fleet")
	assert.False(t, t1.Current())
	assert.True(t, t2.Current())
	assert.ErrorIs(t, ctx1.Err(), context.Canceled)
	assert.NoError(t, ctx2.Err())
	assert.Greater(t, t2.ID(), t1.ID())

	// The stale ticket cannot clear the newer one.
	t1.Done()
	assert.True(t, t2.Current())

	t2.Done()
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)

	// Ids keep growing after the target is released.
	_, t3 := gens.Begin(context.Background(), "fleet")
	assert.False(t, t1.Current())
	assert.Greater(t, t3.ID(), t2.ID())
}

func TestGenerations_TargetsAreIndependent(t *testing.T) {
	gens := NewGenerations()
	_, a := gens.Begin(context.Background(), "incidents")
	_, b := gens.Begin(context.Background(), "infractions")
	assert.True(t, a.Current())
	assert.True(t, b.Current())
}

func TestFanOutLatest_DropsStaleResults(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	history := &mockHistory{
		HistoryFunc: func(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
			if q.From.IsZero() {
				// First request blocks until it is superseded.
				once.Do(func() { close(started) })
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return sampleFor(q.VehicleID), nil
		},
	}
	c := quiet(NewCoordinator(history, 2))
	gens := NewGenerations()

	errc := make(chan error, 1)
	go func() {
		_, err := FanOutLatest(context.Background(), c, gens, "fleet", Request{VehicleIDs: []string{"A"}}, idsOf)
		errc <- err
	}()

	<-started
	res, err := FanOutLatest(context.Background(), c, gens, "fleet", Request{VehicleIDs: []string{"A"}, From: time.Unix(1, 0)}, idsOf)
	require.NoError(t, err)
	assert.Equal(t, []string{"A:A"}, res.Items)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("stale request did not return")
	}
}
