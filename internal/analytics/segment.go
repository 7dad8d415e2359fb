package analytics

import (
	"math"

	"fleet-trajectory-analytics/internal/models"
)

// Segmentation is the ordered trip/stop partition of a normalized stream.
// Segments cover every sample index exactly once; Trips and Stops hold the
// details of the corresponding segments in the same order.
type Segmentation struct {
	Segments []models.Segment
	Trips    []models.Trip
	Stops    []models.Stop
}

// TotalDistanceKm sums the distance of every trip
func (s Segmentation) TotalDistanceKm() float64 {
	var total float64
	for _, t := range s.Trips {
		total += t.DistanceKm
	}
	return total
}

const unowned = -1

// Segment partitions a normalized stream into trips and stops.
//
// A new segment starts on a long telemetry gap, on a blackout longer than
// MaxPairGap whose displacement contradicts the reported speeds, on ignition
// switching off, or
// when the vehicle has been stationary for the stationary threshold. Moving
// stretches between those boundaries become trip candidates; candidates that
// are too short in both time and distance fold back into the surrounding stop.
// Streams with fewer than two samples yield an empty segmentation.
func Segment(samples []models.PositionSample, th Thresholds) Segmentation {
	n := len(samples)
	if n < 2 {
		return Segmentation{}
	}

	breaks := make([]bool, n)
	for i := 1; i < n; i++ {
		breaks[i] = th.isBoundary(samples[i-1], samples[i])
	}
	parked := th.parkedRuns(samples)

	owner := make([]int, n)
	for i := range owner {
		owner[i] = unowned
	}

	var trips []models.Trip
	for _, piece := range candidatePieces(breaks, parked) {
		first, last := -1, -1
		for i := piece.start; i <= piece.end; i++ {
			if !th.stationary(samples[i]) {
				if first < 0 {
					first = i
				}
				last = i
			}
		}
		if first < 0 {
			continue
		}

		// Include the departure and arrival fixes when they are contiguous.
		start, end := first, last
		if start > 0 && !breaks[start] && owner[start-1] == unowned && th.stationary(samples[start-1]) {
			start--
		}
		if end < n-1 && !breaks[end+1] && th.stationary(samples[end+1]) {
			end++
		}

		trip := buildTrip(samples, start, end)
		if !th.meaningful(trip) {
			continue
		}
		for i := start; i <= end; i++ {
			owner[i] = len(trips)
		}
		trips = append(trips, trip)
	}

	var result Segmentation
	for i := 0; i < n; {
		j := i
		for j+1 < n && owner[j+1] == owner[i] {
			j++
		}
		if owner[i] == unowned {
			result.Segments = append(result.Segments, models.Segment{Kind: models.SegmentStop, StartIndex: i, EndIndex: j})
			result.Stops = append(result.Stops, buildStop(samples, i, j))
		} else {
			result.Segments = append(result.Segments, models.Segment{Kind: models.SegmentTrip, StartIndex: i, EndIndex: j})
			result.Trips = append(result.Trips, trips[owner[i]])
		}
		i = j + 1
	}
	return result
}

// DetectStops classifies maximal runs below the stop speed as stops,
// independent of trip boundaries. Runs shorter than MinStopDuration and
// single-fix runs are ignored.
func DetectStops(samples []models.PositionSample, th Thresholds) []models.Stop {
	var stops []models.Stop
	runStart := -1
	flush := func(end int) {
		if runStart < 0 || end <= runStart {
			return
		}
		stop := buildStop(samples, runStart, end)
		if stop.DurationSeconds >= th.MinStopDuration.Seconds() {
			stops = append(stops, stop)
		}
	}

	for i, s := range samples {
		if th.stationary(s) {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i - 1)
		runStart = -1
	}
	flush(len(samples) - 1)
	return stops
}

type indexRange struct {
	start, end int
}

// candidatePieces splits the stream at boundaries and at the edges of parked
// runs, returning only the pieces that are not parked.
func candidatePieces(breaks, parked []bool) []indexRange {
	var pieces []indexRange
	start := 0
	for i := 1; i <= len(breaks); i++ {
		if i < len(breaks) && !breaks[i] && parked[i] == parked[i-1] {
			continue
		}
		if !parked[start] {
			pieces = append(pieces, indexRange{start: start, end: i - 1})
		}
		start = i
	}
	return pieces
}

func (th Thresholds) stationary(s models.PositionSample) bool {
	return s.SpeedKph < th.StopSpeedKph
}

func (th Thresholds) isBoundary(prev, curr models.PositionSample) bool {
	dt := curr.Timestamp.Sub(prev.Timestamp)

	if dt >= th.GapThreshold && !th.bridgesOutage(prev, curr) {
		return true
	}
	// A shorter blackout between moving fixes splits when the displacement
	// does not match the reported speeds.
	if th.OutageTolerance > 0 && dt > th.MaxPairGap && !th.stationary(prev) && !th.stationary(curr) &&
		!th.bridgesOutage(prev, curr) {
		return true
	}
	if prev.IgnitionOn != nil && curr.IgnitionOn != nil && *prev.IgnitionOn && !*curr.IgnitionOn {
		return true
	}
	return th.stationary(prev) && th.stationary(curr) && dt >= th.StationaryThreshold
}

// bridgesOutage reports whether a gap looks like lost telemetry during
// continuous driving: both fixes moving and the displacement consistent with
// the reported speeds.
func (th Thresholds) bridgesOutage(prev, curr models.PositionSample) bool {
	if th.OutageTolerance <= 0 || th.stationary(prev) || th.stationary(curr) {
		return false
	}
	hours := curr.Timestamp.Sub(prev.Timestamp).Hours()
	dist := DistanceKm(prev, curr)
	if hours <= 0 || math.IsNaN(dist) {
		return false
	}
	reported := (prev.SpeedKph + curr.SpeedKph) / 2
	implied := dist / hours
	return math.Abs(implied-reported) <= th.OutageTolerance*reported
}

// parkedRuns marks samples belonging to a stationary run that lasts at least
// the stationary threshold.
func (th Thresholds) parkedRuns(samples []models.PositionSample) []bool {
	parked := make([]bool, len(samples))
	for i := 0; i < len(samples); {
		if !th.stationary(samples[i]) {
			i++
			continue
		}
		j := i
		for j+1 < len(samples) && th.stationary(samples[j+1]) {
			j++
		}
		if j > i && samples[j].Timestamp.Sub(samples[i].Timestamp) >= th.StationaryThreshold {
			for k := i; k <= j; k++ {
				parked[k] = true
			}
		}
		i = j + 1
	}
	return parked
}

func (th Thresholds) meaningful(t models.Trip) bool {
	if t.DurationSeconds <= 0 {
		return false
	}
	return t.DurationSeconds >= th.MinTripDuration.Seconds() || t.DistanceKm >= th.MinTripDistanceKm
}

func buildTrip(samples []models.PositionSample, start, end int) models.Trip {
	first, last := samples[start], samples[end]

	var gps, maxSpeed float64
	for i := start; i <= end; i++ {
		if samples[i].SpeedKph > maxSpeed {
			maxSpeed = samples[i].SpeedKph
		}
		if i > start {
			if d := DistanceKm(samples[i-1], samples[i]); !math.IsNaN(d) {
				gps += d
			}
		}
	}

	trip := models.Trip{
		StartIndex:      start,
		EndIndex:        end,
		StartSample:     first,
		EndSample:       last,
		PointCount:      end - start + 1,
		DistanceKm:      gps,
		DistanceSource:  models.DistanceFromGPS,
		DurationSeconds: last.Timestamp.Sub(first.Timestamp).Seconds(),
		MaxSpeedKph:     maxSpeed,
	}

	// A partial odometer falls back to GPS for the whole trip.
	if first.OdometerKm != nil && last.OdometerKm != nil && *last.OdometerKm >= *first.OdometerKm {
		trip.DistanceKm = *last.OdometerKm - *first.OdometerKm
		trip.DistanceSource = models.DistanceFromOdometer
	}

	if trip.DurationSeconds > 0 {
		trip.AvgSpeedKph = trip.DistanceKm / (trip.DurationSeconds / 3600)
	}
	return trip
}

func buildStop(samples []models.PositionSample, start, end int) models.Stop {
	first, last := samples[start], samples[end]
	return models.Stop{
		StartIndex:      start,
		EndIndex:        end,
		StartSample:     first,
		EndSample:       last,
		DurationSeconds: last.Timestamp.Sub(first.Timestamp).Seconds(),
		Latitude:        first.Latitude,
		Longitude:       first.Longitude,
	}
}
