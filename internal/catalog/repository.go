package catalog

import (
	"context"
	"time"

	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository defines the interface for catalog data operations.
type Repository interface {
	CreateOrganization(ctx context.Context, org *domain.Organization) error
	GetOrganizationByID(ctx context.Context, id string) (*domain.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*domain.Organization, error)
	ListOrganizations(ctx context.Context) ([]domain.Organization, error)

	GetServiceByID(ctx context.Context, id string) (*domain.Service, error)
	ListServices(ctx context.Context, filter ServiceFilter) ([]domain.Service, error)
	UpdateService(ctx context.Context, service *domain.Service) error
	DeactivateService(ctx context.Context, id string) error
	CountActiveServicesByStatus(ctx context.Context) (map[domain.ServiceStatus]int, error)

	// ListStatusEvents returns events with from <= created_at <= to,
	// oldest first.
	ListStatusEvents(ctx context.Context, serviceID string, from, to time.Time) ([]domain.StatusEvent, error)
	// GetLatestStatusEventBefore returns the newest event created strictly
	// before t, or ErrStatusEventNotFound.
	GetLatestStatusEventBefore(ctx context.Context, serviceID string, t time.Time) (*domain.StatusEvent, error)
	// ListStatusLog returns events newest first.
	ListStatusLog(ctx context.Context, serviceID string, limit, offset int) ([]domain.StatusEvent, error)
	CountStatusLog(ctx context.Context, serviceID string) (int, error)

	// Transaction methods
	BeginTx(ctx context.Context) (pgx.Tx, error)
	// GetServiceByIDTx reads a service and locks its row until tx ends.
	GetServiceByIDTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Service, error)
	CreateServiceTx(ctx context.Context, tx pgx.Tx, service *domain.Service) error
	UpdateServiceStatusTx(ctx context.Context, tx pgx.Tx, serviceID string, status domain.ServiceStatus, changedAt time.Time) error
	CreateStatusEventTx(ctx context.Context, tx pgx.Tx, event *domain.StatusEvent) error
}

// ServiceFilter represents filter criteria for listing services.
type ServiceFilter struct {
	OrganizationID  *string
	IncludeInactive bool
}
