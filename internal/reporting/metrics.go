package reporting

import (
	"time"

	"github.com/bissquit/uptime-garden/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Report names used as metric labels.
const (
	reportServiceUptime      = "service_uptime"
	reportServiceSeries      = "service_series"
	reportOrganizationSeries = "organization_series"
	reportStatusPage         = "status_page"
	reportStatusHistory      = "status_history"
)

var (
	reportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "reporting",
			Name:      "report_duration_seconds",
			Help:      "Time to build an uptime report, including status log reads",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"report", "result"},
	)

	eventsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "reporting",
			Name:      "events_scanned_total",
			Help:      "Total status events read to build uptime reports",
		},
		[]string{"report"},
	)
)

// observe records the duration of a report. errp is read when the
// deferred call runs.
func observe(report string, start time.Time, errp *error) {
	result := "success"
	if *errp != nil {
		result = "error"
	}
	reportDuration.WithLabelValues(report, result).Observe(time.Since(start).Seconds())
}

func recordEventsScanned(report string, n int) {
	eventsScanned.WithLabelValues(report).Add(float64(n))
}
