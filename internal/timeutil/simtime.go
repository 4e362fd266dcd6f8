package timeutil

import (
	"fmt"
	"time"
)

// TimestampLayout is the ISO 8601 layout of record timestamps, with
// millisecond precision and no zone designator.
const TimestampLayout = "2006-01-02T15:04:05.000"

// ParseDatetime parses a configured start time. A zoned RFC 3339 value is
// accepted; a bare "2006-01-02T15:04:05" is taken as UTC.
func ParseDatetime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("datetime %q: expected YYYY-MM-DDTHH:MM:SS", s)
	}
	return t, nil
}

// SimTime maps elapsed simulated seconds onto a wall-clock start time.
type SimTime struct {
	start   time.Time
	elapsed time.Duration
}

// NewSimTime returns a SimTime starting at start.
func NewSimTime(start time.Time) *SimTime {
	return &SimTime{start: start.UTC()}
}

// Advance adds dt simulated seconds.
func (s *SimTime) Advance(dt float64) {
	s.elapsed += Seconds(dt)
}

// Elapsed returns the simulated time since the start.
func (s *SimTime) Elapsed() time.Duration { return s.elapsed }

// Now returns the simulated wall-clock time.
func (s *SimTime) Now() time.Time { return s.start.Add(s.elapsed) }

// Timestamp formats the simulated wall-clock time with TimestampLayout.
func (s *SimTime) Timestamp() string { return Format(s.Now()) }

// Format renders t in UTC with TimestampLayout.
func Format(t time.Time) string { return t.UTC().Format(TimestampLayout) }

// Seconds converts fractional seconds to a Duration, rounding to the
// nearest microsecond.
func Seconds(s float64) time.Duration {
	return time.Duration(s*1e6+0.5) * time.Microsecond
}
