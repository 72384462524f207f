package events

import (
	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/bissquit/uptime-garden/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	incidentsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "incidents",
			Name:      "opened_total",
			Help:      "Total incidents opened by severity",
		},
		[]string{"severity"},
	)

	incidentUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "incidents",
			Name:      "updates_total",
			Help:      "Total incident timeline updates by resulting status",
		},
		[]string{"status"},
	)
)

func recordIncidentOpened(severity domain.IncidentSeverity) {
	incidentsOpened.WithLabelValues(string(severity)).Inc()
}

func recordIncidentUpdate(status domain.IncidentStatus) {
	incidentUpdates.WithLabelValues(string(status)).Inc()
}
