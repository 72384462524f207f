package uptime

import (
	"slices"
	"time"

	"github.com/bissquit/uptime-garden/internal/domain"
)

// Reconstruct returns the percentage of w during which the service was
// operational, in [0, 100].
//
// events must be the service's log entries with timestamps inside w. When
// the log says nothing about the state at w.Start, the snapshot decides: if
// the last status change happened at or before w.Start the snapshot status
// was active for the whole pre-event part of the window, otherwise the
// service is assumed operational.
//
// Degenerate windows and inactive services reconstruct to 100.
func Reconstruct(snapshot domain.ServiceSnapshot, events []domain.StatusEvent, w Window) float64 {
	if w.IsDegenerate() {
		return 100.0
	}
	if !snapshot.IsActive {
		return 100.0
	}

	var operational time.Duration
	if len(events) == 0 {
		operational = operationalWithoutEvents(snapshot, w)
	} else {
		operational = operationalFromEvents(snapshot, inLogOrder(events), w)
	}

	return percentage(operational, w.Duration())
}

// operationalWithoutEvents handles an empty log slice. A status change that
// the snapshot reports inside the window but the log never recorded is
// treated as a transition from operational.
func operationalWithoutEvents(s domain.ServiceSnapshot, w Window) time.Duration {
	switch {
	case !s.LastStatusChange.After(w.Start):
		if s.Status == domain.ServiceStatusOperational {
			return w.Duration()
		}
		return 0
	case !s.LastStatusChange.After(w.End):
		operational := s.LastStatusChange.Sub(w.Start)
		if s.Status == domain.ServiceStatusOperational {
			operational += w.End.Sub(s.LastStatusChange)
		}
		return operational
	default:
		return w.Duration()
	}
}

// operationalFromEvents walks the log: each event closes the interval of the
// previous status and opens its own, the last one runs until w.End.
func operationalFromEvents(s domain.ServiceSnapshot, events []domain.StatusEvent, w Window) time.Duration {
	current := domain.ServiceStatusOperational
	if !s.LastStatusChange.After(w.Start) {
		current = s.Status
	}

	var operational time.Duration
	cursor := w.Start
	for _, e := range events {
		if current == domain.ServiceStatusOperational {
			operational += clippedSpan(w, cursor, e.CreatedAt)
		}
		current = e.Status
		cursor = e.CreatedAt
	}
	if current == domain.ServiceStatusOperational {
		operational += clippedSpan(w, cursor, w.End)
	}

	return operational
}

// clippedSpan returns the length of [from, to] intersected with w.
func clippedSpan(w Window, from, to time.Time) time.Duration {
	if from.Before(w.Start) {
		from = w.Start
	}
	if to.After(w.End) {
		to = w.End
	}
	if !to.After(from) {
		return 0
	}
	return to.Sub(from)
}

// inLogOrder returns events sorted by (CreatedAt, Seq). Sorted input is
// returned as is; anything else is sorted on a copy.
func inLogOrder(events []domain.StatusEvent) []domain.StatusEvent {
	if slices.IsSortedFunc(events, compareEvents) {
		return events
	}
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, compareEvents)
	return sorted
}

func compareEvents(a, b domain.StatusEvent) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	default:
		return 0
	}
}

func percentage(operational, total time.Duration) float64 {
	if total <= 0 {
		return 100.0
	}
	p := float64(operational) * 100 / float64(total)
	if p > 100.0 {
		return 100.0
	}
	if p < 0 {
		return 0
	}
	return p
}
