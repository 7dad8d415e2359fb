package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006/01/02 15:04:05",
	"01/02/2006 15:04:05",
	"2006-01-02",
}

// ParseTimestamp tries multiple timestamp formats. Bare integers are read as
// unix seconds, or milliseconds when they are too large to be seconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if t := FromEpoch(n); !t.IsZero() {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", s)
}

// FromEpoch converts unix seconds (or milliseconds above 1e12) to UTC time.
// Non-finite and non-positive values yield the zero time.
func FromEpoch(n float64) time.Time {
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
