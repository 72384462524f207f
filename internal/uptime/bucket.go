package uptime

import (
	"fmt"
	"time"

	"github.com/bissquit/uptime-garden/internal/domain"
)

// PeriodKind selects the sub-period granularity of a bucketed series.
type PeriodKind string

// Supported period kinds.
const (
	PeriodDaily  PeriodKind = "daily"
	PeriodHourly PeriodKind = "hourly"
)

// Bucket counts per period kind.
const (
	DailyBuckets  = 30
	HourlyBuckets = 24
)

// ParsePeriodKind converts a request value into a PeriodKind.
func ParsePeriodKind(s string) (PeriodKind, error) {
	k := PeriodKind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPeriodKind, s)
	}
	return k, nil
}

// IsValid checks if the period kind is supported.
func (k PeriodKind) IsValid() bool {
	return k == PeriodDaily || k == PeriodHourly
}

// Description returns the human readable span covered by the kind.
func (k PeriodKind) Description() string {
	switch k {
	case PeriodDaily:
		return "Last 30 days"
	case PeriodHourly:
		return "Last 24 hours"
	}
	return ""
}

// Buckets returns the bucket windows ending at the start of the current
// day or hour of now, oldest first. Flooring uses now's location.
func (k PeriodKind) Buckets(now time.Time) ([]Window, error) {
	switch k {
	case PeriodDaily:
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		windows := make([]Window, DailyBuckets)
		for i := 0; i < DailyBuckets; i++ {
			windows[DailyBuckets-1-i] = Window{
				Start: midnight.AddDate(0, 0, -(i + 1)),
				End:   midnight.AddDate(0, 0, -i),
			}
		}
		return windows, nil
	case PeriodHourly:
		hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
		windows := make([]Window, HourlyBuckets)
		for i := 0; i < HourlyBuckets; i++ {
			windows[HourlyBuckets-1-i] = Window{
				Start: hour.Add(-time.Duration(i+1) * time.Hour),
				End:   hour.Add(-time.Duration(i) * time.Hour),
			}
		}
		return windows, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedPeriodKind, string(k))
}

// Range returns the window covered by all buckets of the kind, so callers
// can fetch a single slice of the log.
func (k PeriodKind) Range(now time.Time) (Window, error) {
	windows, err := k.Buckets(now)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: windows[0].Start, End: windows[len(windows)-1].End}, nil
}

// Label formats a bucket start: "Jan 02" for days, "15:04" for hours.
func (k PeriodKind) Label(start time.Time) string {
	if k == PeriodHourly {
		return start.Format("15:04")
	}
	return start.Format("Jan 02")
}

// Point is the uptime of one bucket.
type Point struct {
	Start  time.Time
	End    time.Time
	Label  string
	Uptime float64
}

// Series is a bucketed uptime series in chronological order.
type Series struct {
	Kind    PeriodKind
	Points  []Point
	Overall float64
}

// Bucket reconstructs uptime for every bucket of kind ending at now.
// events is the service log covering at least kind.Range(now); each bucket
// only sees the events inside it. Overall is the mean of the bucket values
// rounded to two decimals.
func Bucket(snapshot domain.ServiceSnapshot, events []domain.StatusEvent, kind PeriodKind, now time.Time) (Series, error) {
	windows, err := kind.Buckets(now)
	if err != nil {
		return Series{}, err
	}

	events = inLogOrder(events)

	points := make([]Point, len(windows))
	var sum float64
	for i, w := range windows {
		u := Reconstruct(snapshot, EventsInWindow(events, w), w)
		points[i] = Point{
			Start:  w.Start,
			End:    w.End,
			Label:  kind.Label(w.Start),
			Uptime: u,
		}
		sum += u
	}

	return Series{
		Kind:    kind,
		Points:  points,
		Overall: round2(sum / float64(len(points))),
	}, nil
}

// AggregateSeries averages the overall uptime of several series, rounded
// to two decimals. No series means full availability.
func AggregateSeries(series []Series) float64 {
	if len(series) == 0 {
		return 100.0
	}
	var sum float64
	for _, s := range series {
		sum += s.Overall
	}
	return round2(sum / float64(len(series)))
}
