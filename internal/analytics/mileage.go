package analytics

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"fleet-trajectory-analytics/internal/models"
)

// maxMileageBuckets caps day and month reports
const maxMileageBuckets = 3660

// MileageRequest selects the period and range of a mileage report.
// For hour reports only the date of From is used. For day and month reports
// From and To are inclusive dates (or any instant inside the first/last month).
type MileageRequest struct {
	Period   models.PeriodType
	From     time.Time
	To       time.Time
	Location *time.Location
}

func (r MileageRequest) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Validate rejects unknown periods and inverted ranges
func (r MileageRequest) Validate() error {
	switch r.Period {
	case models.PeriodHour:
		if r.From.IsZero() {
			return fmt.Errorf("%w: hour report requires a date", ErrInvalidConfig)
		}
		return nil
	case models.PeriodDay, models.PeriodMonth:
	default:
		return fmt.Errorf("%w: unknown period type %q", ErrInvalidConfig, r.Period)
	}

	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: %s report requires a date range", ErrInvalidConfig, r.Period)
	}
	buckets := r.buckets()
	if len(buckets) == 0 {
		return fmt.Errorf("%w: date range ends before it starts", ErrInvalidConfig)
	}
	if len(buckets) > maxMileageBuckets {
		return fmt.Errorf("%w: date range too large", ErrInvalidConfig)
	}
	return nil
}

// Window returns the instant range covered by the report's buckets
func (r MileageRequest) Window() Window {
	buckets := r.buckets()
	if len(buckets) == 0 {
		return Window{}
	}
	return Window{
		From: buckets[0].Start,
		To:   buckets[len(buckets)-1].End.Add(-time.Nanosecond),
	}
}

// Previous returns the immediately preceding period of identical length.
// Hour reports have no comparison period.
func (r MileageRequest) Previous() (MileageRequest, bool) {
	loc := r.location()
	switch r.Period {
	case models.PeriodDay:
		from, to := startOfDay(r.From, loc), startOfDay(r.To, loc)
		days := daysBetween(from, to) + 1
		return MileageRequest{
			Period:   r.Period,
			From:     from.AddDate(0, 0, -days),
			To:       from.AddDate(0, 0, -1),
			Location: r.Location,
		}, true
	case models.PeriodMonth:
		from, to := startOfMonth(r.From, loc), startOfMonth(r.To, loc)
		months := monthsBetween(from, to) + 1
		return MileageRequest{
			Period:   r.Period,
			From:     from.AddDate(0, -months, 0),
			To:       from.AddDate(0, -1, 0),
			Location: r.Location,
		}, true
	default:
		return MileageRequest{}, false
	}
}

// buckets builds the empty bucket set of the request
func (r MileageRequest) buckets() []models.MileageBucket {
	loc := r.location()
	var buckets []models.MileageBucket

	switch r.Period {
	case models.PeriodHour:
		day := startOfDay(r.From, loc)
		for h := 0; h < 24; h++ {
			start := time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, loc)
			buckets = append(buckets, models.MileageBucket{
				Label: fmt.Sprintf("%02d:00", h),
				Start: start,
				End:   time.Date(day.Year(), day.Month(), day.Day(), h+1, 0, 0, 0, loc),
			})
		}
	case models.PeriodDay:
		last := startOfDay(r.To, loc)
		for d := startOfDay(r.From, loc); !d.After(last) && len(buckets) <= maxMileageBuckets; d = d.AddDate(0, 0, 1) {
			buckets = append(buckets, models.MileageBucket{
				Label: d.Format("2006-01-02"),
				Start: d,
				End:   d.AddDate(0, 0, 1),
			})
		}
	case models.PeriodMonth:
		last := startOfMonth(r.To, loc)
		for m := startOfMonth(r.From, loc); !m.After(last) && len(buckets) <= maxMileageBuckets; m = m.AddDate(0, 1, 0) {
			buckets = append(buckets, models.MileageBucket{
				Label: m.Format("2006-01"),
				Start: m,
				End:   m.AddDate(0, 1, 0),
			})
		}
	}
	return buckets
}

// AggregateMileage buckets trips by the local time of their start. Trips
// starting outside the requested range are ignored. HasData reports whether
// any trip landed in a bucket; callers holding the sample stream should set it
// from the stream instead, since a parked vehicle has data but no trips.
func AggregateMileage(trips []models.Trip, req MileageRequest) (models.MileageReport, error) {
	if err := req.Validate(); err != nil {
		return models.MileageReport{}, err
	}

	loc := req.location()
	buckets := req.buckets()
	activeDays := make([]map[string]struct{}, len(buckets))

	for _, trip := range trips {
		start := trip.StartTime().In(loc)
		i := sort.Search(len(buckets), func(i int) bool { return buckets[i].End.After(start) })
		if i == len(buckets) || start.Before(buckets[i].Start) {
			continue
		}

		b := &buckets[i]
		b.DistanceKm += trip.DistanceKm
		b.TripCount++
		b.DrivingMinutes += trip.DurationSeconds / 60
		if trip.MaxSpeedKph > b.MaxSpeedKph {
			b.MaxSpeedKph = trip.MaxSpeedKph
		}

		if activeDays[i] == nil {
			activeDays[i] = make(map[string]struct{})
		}
		activeDays[i][start.Format("2006-01-02")] = struct{}{}
	}

	for i := range buckets {
		b := &buckets[i]
		if b.DrivingMinutes > 0 {
			b.AvgSpeedKph = b.DistanceKm / (b.DrivingMinutes / 60)
		}
		if req.Period == models.PeriodMonth {
			days := daysBetween(b.Start, b.End)
			b.AverageDailyKm = b.DistanceKm / float64(days)
			b.DaysWithActivity = len(activeDays[i])
		}
	}

	window := req.Window()
	report := models.MileageReport{
		PeriodType: req.Period,
		From:       window.From,
		To:         window.To,
		Buckets:    buckets,
	}
	summarize(&report)
	return report, nil
}

// summarize fills the report-level aggregates. Average, max and min only
// consider buckets that contain at least one trip.
func summarize(report *models.MileageReport) {
	all := make([]float64, len(report.Buckets))
	var active []float64
	for i, b := range report.Buckets {
		all[i] = b.DistanceKm
		if b.TripCount > 0 {
			active = append(active, b.DistanceKm)
		}
	}

	report.TotalDistanceKm = floats.Sum(all)
	report.HasData = len(active) > 0
	if !report.HasData {
		return
	}
	report.AverageDistanceKm = stat.Mean(active, nil)
	report.MaxDistanceKm = floats.Max(active)
	report.MinDistanceKm = floats.Min(active)
}

// ComparePeriods compares the totals of two reports
func ComparePeriods(current, previous models.MileageReport) models.PeriodComparison {
	diff := current.TotalDistanceKm - previous.TotalDistanceKm
	cmp := models.PeriodComparison{
		PreviousTotalKm: previous.TotalDistanceKm,
		DifferenceKm:    diff,
		Trend:           models.TrendStable,
	}
	if previous.TotalDistanceKm != 0 {
		cmp.PercentageChange = diff / previous.TotalDistanceKm * 100
	}
	switch {
	case diff > 0:
		cmp.Trend = models.TrendIncrease
	case diff < 0:
		cmp.Trend = models.TrendDecrease
	}
	return cmp
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func startOfMonth(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days from a to b, ignoring DST shifts
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
