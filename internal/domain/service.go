package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ServiceStatus represents the operational status of a service.
type ServiceStatus string

// Service statuses.
const (
	ServiceStatusOperational         ServiceStatus = "operational"
	ServiceStatusDegradedPerformance ServiceStatus = "degraded_performance"
	ServiceStatusPartialOutage       ServiceStatus = "partial_outage"
	ServiceStatusMajorOutage         ServiceStatus = "major_outage"
	ServiceStatusMaintenance         ServiceStatus = "maintenance"
)

// ServiceStatuses returns all known statuses, best first.
func ServiceStatuses() []ServiceStatus {
	return []ServiceStatus{
		ServiceStatusOperational,
		ServiceStatusMaintenance,
		ServiceStatusDegradedPerformance,
		ServiceStatusPartialOutage,
		ServiceStatusMajorOutage,
	}
}

// IsValid checks if the service status is valid.
func (s ServiceStatus) IsValid() bool {
	switch s {
	case ServiceStatusOperational, ServiceStatusDegradedPerformance,
		ServiceStatusPartialOutage, ServiceStatusMajorOutage,
		ServiceStatusMaintenance:
		return true
	}
	return false
}

// Severity returns the rank of the status for worst-of rollups.
// Higher is worse; unknown statuses rank with operational.
func (s ServiceStatus) Severity() int {
	switch s {
	case ServiceStatusMajorOutage:
		return 4
	case ServiceStatusPartialOutage:
		return 3
	case ServiceStatusDegradedPerformance:
		return 2
	case ServiceStatusMaintenance:
		return 1
	default:
		return 0
	}
}

// IsWorseThan reports whether s ranks above other in the severity order.
func (s ServiceStatus) IsWorseThan(other ServiceStatus) bool {
	return s.Severity() > other.Severity()
}

// Label returns a human readable name, e.g. "Partial Outage".
// A Caser is stateful, so one is created per call.
func (s ServiceStatus) Label() string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}

// Service represents a monitored service.
type Service struct {
	ID               string        `json:"id"`
	OrganizationID   string        `json:"organization_id"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	Status           ServiceStatus `json:"status"`
	IsActive         bool          `json:"is_active"`
	SortOrder        int           `json:"sort_order"`
	LastStatusChange time.Time     `json:"last_status_change"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Snapshot returns the current state of the service as seen by uptime reconstruction.
func (s *Service) Snapshot() ServiceSnapshot {
	return ServiceSnapshot{
		Status:           s.Status,
		LastStatusChange: s.LastStatusChange,
		IsActive:         s.IsActive,
	}
}

// ServiceSnapshot is the current state of a service, independent of its status log.
type ServiceSnapshot struct {
	Status           ServiceStatus
	LastStatusChange time.Time
	IsActive         bool
}

// StatusEvent is a single entry of the append-only status log of a service.
// Events are ordered by CreatedAt, ties broken by Seq.
type StatusEvent struct {
	Seq            int64          `json:"id"`
	ServiceID      string         `json:"service_id"`
	Status         ServiceStatus  `json:"status"`
	PreviousStatus *ServiceStatus `json:"previous_status"`
	Reason         string         `json:"reason"`
	Automated      bool           `json:"automated"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Before reports whether e sorts before other in log order.
func (e StatusEvent) Before(other StatusEvent) bool {
	if e.CreatedAt.Equal(other.CreatedAt) {
		return e.Seq < other.Seq
	}
	return e.CreatedAt.Before(other.CreatedAt)
}
