package analytics

import (
	"math"
	"sort"
	"time"

	"fleet-trajectory-analytics/internal/models"
)

// Window bounds a sample stream. Zero bounds are open.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t lies inside the inclusive window
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// Normalize drops replayed, malformed and out-of-window samples and returns
// the rest in chronological order. Samples with equal timestamps keep their
// relative order. The input slice is not modified.
func Normalize(samples []models.PositionSample, window Window) []models.PositionSample {
	out := make([]models.PositionSample, 0, len(samples))
	for _, s := range samples {
		if !s.Live() {
			continue
		}
		if s.Timestamp.IsZero() || !window.Contains(s.Timestamp) {
			continue
		}
		if !validCoordinate(s.Latitude, s.Longitude) {
			continue
		}
		if math.IsNaN(s.SpeedKph) || math.IsInf(s.SpeedKph, 0) || s.SpeedKph < 0 {
			continue
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
