package domain

import "time"

// IncidentStatus represents the lifecycle stage of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusIdentified    IncidentStatus = "identified"
	IncidentStatusMonitoring    IncidentStatus = "monitoring"
	IncidentStatusResolved      IncidentStatus = "resolved"
)

// IsValid checks if the incident status is valid.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusInvestigating, IncidentStatusIdentified,
		IncidentStatusMonitoring, IncidentStatusResolved:
		return true
	}
	return false
}

// IsResolved reports whether the incident is closed.
func (s IncidentStatus) IsResolved() bool {
	return s == IncidentStatusResolved
}

// IncidentSeverity represents the impact of an incident.
type IncidentSeverity string

// Incident severities.
const (
	IncidentSeverityLow      IncidentSeverity = "low"
	IncidentSeverityMedium   IncidentSeverity = "medium"
	IncidentSeverityHigh     IncidentSeverity = "high"
	IncidentSeverityCritical IncidentSeverity = "critical"
)

// IsValid checks if the severity is valid.
func (s IncidentSeverity) IsValid() bool {
	switch s {
	case IncidentSeverityLow, IncidentSeverityMedium,
		IncidentSeverityHigh, IncidentSeverityCritical:
		return true
	}
	return false
}

// Incident is a customer-facing account of a disruption. It does not change
// service statuses or uptime figures.
type Incident struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Status         IncidentStatus   `json:"status"`
	Severity       IncidentSeverity `json:"severity"`
	StartedAt      time.Time        `json:"started_at"`
	ResolvedAt     *time.Time       `json:"resolved_at"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	ServiceIDs     []string         `json:"affected_service_ids"`
}

// IncidentUpdate is a timeline entry of an incident.
type IncidentUpdate struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Status     IncidentStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}
