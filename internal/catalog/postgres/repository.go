// Package postgres provides PostgreSQL implementation of the catalog repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/uptime-garden/internal/catalog"
	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const serviceColumns = `id, organization_id, name, description, status, is_active, sort_order,
	last_status_change, created_at, updated_at`

const eventColumns = `id, service_id, status, previous_status, reason, automated, created_at`

// Repository implements the catalog.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateOrganization inserts a new organization.
func (r *Repository) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	query := `
		INSERT INTO organizations (name, slug, description, website_url, logo_url, is_public)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		org.Name,
		org.Slug,
		org.Description,
		org.WebsiteURL,
		org.LogoURL,
		org.IsPublic,
	).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return catalog.ErrOrganizationSlugExists
		}
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// GetOrganizationByID retrieves an organization by its ID.
func (r *Repository) GetOrganizationByID(ctx context.Context, id string) (*domain.Organization, error) {
	return r.getOrganization(ctx, "id", id)
}

// GetOrganizationBySlug retrieves an organization by its slug.
func (r *Repository) GetOrganizationBySlug(ctx context.Context, slug string) (*domain.Organization, error) {
	return r.getOrganization(ctx, "slug", slug)
}

func (r *Repository) getOrganization(ctx context.Context, column, value string) (*domain.Organization, error) {
	query := `
		SELECT id, name, slug, description, website_url, logo_url, is_public, created_at, updated_at
		FROM organizations
		WHERE ` + column + ` = $1`

	org, err := scanOrganization(r.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("get organization by %s: %w", column, err)
	}
	return org, nil
}

// ListOrganizations retrieves all organizations ordered by name.
func (r *Repository) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	query := `
		SELECT id, name, slug, description, website_url, logo_url, is_public, created_at, updated_at
		FROM organizations
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	orgs := make([]domain.Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, *org)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return orgs, nil
}

// GetServiceByID retrieves a service by its ID.
func (r *Repository) GetServiceByID(ctx context.Context, id string) (*domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE id = $1`

	service, err := scanService(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrServiceNotFound
		}
		return nil, fmt.Errorf("get service by id: %w", err)
	}
	return service, nil
}

// ListServices retrieves all services matching the provided filter.
func (r *Repository) ListServices(ctx context.Context, filter catalog.ServiceFilter) ([]domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE 1=1`
	var args []interface{}

	if filter.OrganizationID != nil {
		args = append(args, *filter.OrganizationID)
		query += fmt.Sprintf(" AND organization_id = $%d", len(args))
	}
	if !filter.IncludeInactive {
		query += " AND is_active"
	}
	query += ` ORDER BY sort_order, name`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	services := make([]domain.Service, 0)
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, *service)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return services, nil
}

// UpdateService updates editable fields of a service.
func (r *Repository) UpdateService(ctx context.Context, service *domain.Service) error {
	query := `
		UPDATE services
		SET name = $2, description = $3, sort_order = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		service.ID,
		service.Name,
		service.Description,
		service.SortOrder,
	).Scan(&service.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ErrServiceNotFound
		}
		return fmt.Errorf("update service: %w", err)
	}
	return nil
}

// DeactivateService marks a service inactive.
func (r *Repository) DeactivateService(ctx context.Context, id string) error {
	query := `UPDATE services SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate service: %w", err)
	}
	if result.RowsAffected() == 0 {
		return catalog.ErrServiceNotFound
	}
	return nil
}

// CountActiveServicesByStatus returns the number of active services per current status.
func (r *Repository) CountActiveServicesByStatus(ctx context.Context) (map[domain.ServiceStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM services WHERE is_active GROUP BY status`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count services by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ServiceStatus]int)
	for rows.Next() {
		var status domain.ServiceStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan service count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service counts: %w", err)
	}
	return counts, nil
}

// ListStatusEvents returns events created within [from, to] in log order.
func (r *Repository) ListStatusEvents(ctx context.Context, serviceID string, from, to time.Time) ([]domain.StatusEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM service_status_history
		WHERE service_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, serviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}
	return collectEvents(rows)
}

// GetLatestStatusEventBefore returns the newest event created strictly before t.
func (r *Repository) GetLatestStatusEventBefore(ctx context.Context, serviceID string, t time.Time) (*domain.StatusEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM service_status_history
		WHERE service_id = $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	event, err := scanEvent(r.db.QueryRow(ctx, query, serviceID, t))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrStatusEventNotFound
		}
		return nil, fmt.Errorf("get latest status event: %w", err)
	}
	return event, nil
}

// ListStatusLog returns the status change history for a service, newest first.
func (r *Repository) ListStatusLog(ctx context.Context, serviceID string, limit, offset int) ([]domain.StatusEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM service_status_history
		WHERE service_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, serviceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list status log: %w", err)
	}
	return collectEvents(rows)
}

// CountStatusLog returns the total number of status events for a service.
func (r *Repository) CountStatusLog(ctx context.Context, serviceID string) (int, error) {
	query := `SELECT COUNT(*) FROM service_status_history WHERE service_id = $1`
	var count int
	if err := r.db.QueryRow(ctx, query, serviceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count status log: %w", err)
	}
	return count, nil
}

// BeginTx starts a new transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// GetServiceByIDTx reads a service with SELECT ... FOR UPDATE, so concurrent
// status changes of the same service are serialized.
func (r *Repository) GetServiceByIDTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE id = $1 FOR UPDATE`

	service, err := scanService(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrServiceNotFound
		}
		return nil, fmt.Errorf("lock service: %w", err)
	}
	return service, nil
}

// CreateServiceTx inserts a service within a transaction.
func (r *Repository) CreateServiceTx(ctx context.Context, tx pgx.Tx, service *domain.Service) error {
	query := `
		INSERT INTO services (organization_id, name, description, status, is_active, sort_order, last_status_change)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := tx.QueryRow(ctx, query,
		service.OrganizationID,
		service.Name,
		service.Description,
		service.Status,
		service.IsActive,
		service.SortOrder,
		service.LastStatusChange,
	).Scan(&service.ID, &service.CreatedAt, &service.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return nil
}

// UpdateServiceStatusTx stores the current status and the time it changed within a transaction.
func (r *Repository) UpdateServiceStatusTx(ctx context.Context, tx pgx.Tx, serviceID string, status domain.ServiceStatus, changedAt time.Time) error {
	query := `
		UPDATE services
		SET status = $2, last_status_change = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := tx.Exec(ctx, query, serviceID, status, changedAt)
	if err != nil {
		return fmt.Errorf("update service status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return catalog.ErrServiceNotFound
	}
	return nil
}

// CreateStatusEventTx appends an event to the status log within a transaction.
func (r *Repository) CreateStatusEventTx(ctx context.Context, tx pgx.Tx, event *domain.StatusEvent) error {
	query := `
		INSERT INTO service_status_history (service_id, status, previous_status, reason, automated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := tx.QueryRow(ctx, query,
		event.ServiceID,
		event.Status,
		event.PreviousStatus,
		event.Reason,
		event.Automated,
		event.CreatedAt,
	).Scan(&event.Seq)

	if err != nil {
		return fmt.Errorf("create status event: %w", err)
	}
	return nil
}

func scanOrganization(row pgx.Row) (*domain.Organization, error) {
	var org domain.Organization
	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.Slug,
		&org.Description,
		&org.WebsiteURL,
		&org.LogoURL,
		&org.IsPublic,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func scanService(row pgx.Row) (*domain.Service, error) {
	var service domain.Service
	err := row.Scan(
		&service.ID,
		&service.OrganizationID,
		&service.Name,
		&service.Description,
		&service.Status,
		&service.IsActive,
		&service.SortOrder,
		&service.LastStatusChange,
		&service.CreatedAt,
		&service.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &service, nil
}

func scanEvent(row pgx.Row) (*domain.StatusEvent, error) {
	var event domain.StatusEvent
	err := row.Scan(
		&event.Seq,
		&event.ServiceID,
		&event.Status,
		&event.PreviousStatus,
		&event.Reason,
		&event.Automated,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func collectEvents(rows pgx.Rows) ([]domain.StatusEvent, error) {
	defer rows.Close()

	events := make([]domain.StatusEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status events: %w", err)
	}
	return events, nil
}
