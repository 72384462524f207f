package catalog

import (
	"strconv"

	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/bissquit/uptime-garden/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	statusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "catalog",
			Name:      "status_changes_total",
			Help:      "Total service status transitions by new status and origin",
		},
		[]string{"status", "automated"},
	)

	servicesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "catalog",
			Name:      "services",
			Help:      "Number of active services by current status",
		},
		[]string{"status"},
	)
)

func recordStatusChange(status domain.ServiceStatus, automated bool) {
	statusChanges.WithLabelValues(string(status), strconv.FormatBool(automated)).Inc()
}

// RecordServiceStatusCounts updates the active services gauge. Statuses
// missing from counts are reported as zero.
func RecordServiceStatusCounts(counts map[domain.ServiceStatus]int) {
	for _, status := range domain.ServiceStatuses() {
		servicesByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
