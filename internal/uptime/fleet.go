package uptime

import "github.com/bissquit/uptime-garden/internal/domain"

// History is one service's snapshot together with its log for a window.
type History struct {
	Snapshot domain.ServiceSnapshot
	Events   []domain.StatusEvent
}

// OverallStatus returns the worst status among active services.
// With no active services the fleet is operational.
func OverallStatus(snapshots []domain.ServiceSnapshot) domain.ServiceStatus {
	worst := domain.ServiceStatusOperational
	for _, s := range snapshots {
		if !s.IsActive {
			continue
		}
		if s.Status.IsWorseThan(worst) {
			worst = s.Status
		}
	}
	return worst
}

// FleetUptime is the unweighted mean of Reconstruct over all active
// services, rounded to two decimals. Events of each history are narrowed
// to w before reconstruction.
func FleetUptime(histories []History, w Window) float64 {
	var sum float64
	var count int
	for _, h := range histories {
		if !h.Snapshot.IsActive {
			continue
		}
		sum += Reconstruct(h.Snapshot, EventsInWindow(inLogOrder(h.Events), w), w)
		count++
	}
	if count == 0 {
		return 100.0
	}
	return round2(sum / float64(count))
}
