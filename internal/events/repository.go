package events

import (
	"context"
	"time"

	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository defines the interface for incident storage.
type Repository interface {
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]domain.Incident, error)
	// ListIncidentUpdates returns updates newest first. A limit of zero
	// returns all of them.
	ListIncidentUpdates(ctx context.Context, incidentID string, limit int) ([]domain.IncidentUpdate, error)

	// Transaction methods
	BeginTx(ctx context.Context) (pgx.Tx, error)
	// GetIncidentTx reads an incident and locks its row until tx ends.
	GetIncidentTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Incident, error)
	CreateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error
	UpdateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error
	DeleteIncidentTx(ctx context.Context, tx pgx.Tx, id string) error
	// SetIncidentServicesTx replaces the affected services of an incident.
	SetIncidentServicesTx(ctx context.Context, tx pgx.Tx, incidentID string, serviceIDs []string) error
	CreateIncidentUpdateTx(ctx context.Context, tx pgx.Tx, update *domain.IncidentUpdate) error
}

// IncidentFilter holds filter options for listing incidents of one organization.
// Results are ordered by creation time, newest first, unless ResolvedSince is set.
type IncidentFilter struct {
	OrganizationID string
	Status         *domain.IncidentStatus
	// Unresolved keeps incidents that are not resolved yet.
	Unresolved bool
	// ResolvedSince keeps incidents resolved at or after the given time and
	// orders them by resolution time, newest first.
	ResolvedSince *time.Time
	Limit         int
	Offset        int
}
