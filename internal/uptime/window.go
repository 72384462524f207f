// Package uptime reconstructs service availability from the status event log.
//
// Every function in this package is pure: results depend only on the
// arguments, so calls may run concurrently across services or buckets.
package uptime

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/bissquit/uptime-garden/internal/domain"
)

// Errors.
var (
	ErrInvalidWindow         = errors.New("invalid window: end is before start")
	ErrUnsupportedPeriodKind = errors.New("unsupported period kind")
)

// DefaultFleetWindow is the trailing window used for organization-wide uptime.
const DefaultFleetWindow = 30 * 24 * time.Hour

// Window is a time interval over which uptime is computed.
type Window struct {
	Start time.Time
	End   time.Time
}

// TrailingWindow returns the window of length d ending at now.
func TrailingWindow(now time.Time, d time.Duration) Window {
	return Window{Start: now.Add(-d), End: now}
}

// Duration returns the length of the window. Degenerate windows have a
// non-positive duration.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IsDegenerate reports whether the window is empty or inverted.
func (w Window) IsDegenerate() bool {
	return !w.End.After(w.Start)
}

// Contains reports whether t lies within [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Validate returns ErrInvalidWindow when End is before Start.
// Empty windows are valid and reconstruct to full availability.
func (w Window) Validate() error {
	if w.End.Before(w.Start) {
		return ErrInvalidWindow
	}
	return nil
}

// EventsInWindow returns the sub-slice of a sorted log whose timestamps
// fall within [w.Start, w.End]. The result shares memory with events.
func EventsInWindow(events []domain.StatusEvent, w Window) []domain.StatusEvent {
	lo := sort.Search(len(events), func(i int) bool {
		return !events[i].CreatedAt.Before(w.Start)
	})
	hi := sort.Search(len(events), func(i int) bool {
		return events[i].CreatedAt.After(w.End)
	})
	if hi < lo {
		return nil
	}
	return events[lo:hi]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
