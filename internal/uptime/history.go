package uptime

import (
	"sort"
	"time"

	"github.com/bissquit/uptime-garden/internal/domain"
)

// DayStatus is the status a service held at the end of a calendar day.
type DayStatus struct {
	Date   string
	Status domain.ServiceStatus
}

// StatusAt returns the status active at t: the status of the latest event
// at or before t. Without such an event the snapshot status is used when
// its last change is not after t, otherwise the service is assumed
// operational.
func StatusAt(snapshot domain.ServiceSnapshot, events []domain.StatusEvent, t time.Time) domain.ServiceStatus {
	events = inLogOrder(events)
	i := sort.Search(len(events), func(i int) bool {
		return events[i].CreatedAt.After(t)
	})
	if i > 0 {
		return events[i-1].Status
	}
	if !snapshot.LastStatusChange.After(t) {
		return snapshot.Status
	}
	return domain.ServiceStatusOperational
}

// DailyStatusHistory returns the status at the end of each of the last
// days calendar days, today included and evaluated at now. Oldest first.
func DailyStatusHistory(snapshot domain.ServiceSnapshot, events []domain.StatusEvent, days int, now time.Time) []DayStatus {
	if days <= 0 {
		return []DayStatus{}
	}

	events = inLogOrder(events)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	history := make([]DayStatus, days)
	for i := 0; i < days; i++ {
		dayStart := midnight.AddDate(0, 0, -i)
		at := dayStart.AddDate(0, 0, 1).Add(-time.Second)
		if at.After(now) {
			at = now
		}
		history[days-1-i] = DayStatus{
			Date:   dayStart.Format("2006-01-02"),
			Status: StatusAt(snapshot, events, at),
		}
	}
	return history
}

// HistoryRange returns the window DailyStatusHistory reads for the given
// number of days.
func HistoryRange(days int, now time.Time) Window {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if days <= 0 {
		return Window{Start: now, End: now}
	}
	return Window{Start: midnight.AddDate(0, 0, -(days - 1)), End: now}
}
