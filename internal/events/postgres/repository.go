// Package postgres provides PostgreSQL implementation of the incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/bissquit/uptime-garden/internal/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const incidentColumns = `id, organization_id, title, description, status, severity,
	started_at, resolved_at, created_at, updated_at`

const updateColumns = `id, incident_id, title, message, status, created_at`

// querier is implemented by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements events.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetIncident retrieves an incident with its affected service IDs.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return r.getIncident(ctx, r.db, id, "")
}

// ListIncidents retrieves incidents of one organization matching filter.
func (r *Repository) ListIncidents(ctx context.Context, filter events.IncidentFilter) ([]domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE organization_id = $1`
	args := []any{filter.OrganizationID}
	argNum := 2

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.Unresolved {
		query += fmt.Sprintf(" AND status <> $%d", argNum)
		args = append(args, domain.IncidentStatusResolved)
		argNum++
	}

	if filter.ResolvedSince != nil {
		query += fmt.Sprintf(" AND status = $%d AND resolved_at >= $%d", argNum, argNum+1)
		args = append(args, domain.IncidentStatusResolved, *filter.ResolvedSince)
		argNum += 2
		query += " ORDER BY resolved_at DESC, id"
	} else {
		query += " ORDER BY created_at DESC, id"
	}

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, *incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}

	if err := r.loadServiceIDs(ctx, incidents); err != nil {
		return nil, err
	}
	return incidents, nil
}

// ListIncidentUpdates retrieves the updates of an incident, newest first.
func (r *Repository) ListIncidentUpdates(ctx context.Context, incidentID string, limit int) ([]domain.IncidentUpdate, error) {
	query := `
		SELECT ` + updateColumns + `
		FROM incident_updates
		WHERE incident_id = $1
		ORDER BY created_at DESC, seq DESC
	`
	args := []any{incidentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incident updates: %w", err)
	}
	defer rows.Close()

	updates := make([]domain.IncidentUpdate, 0)
	for rows.Next() {
		var update domain.IncidentUpdate
		err := rows.Scan(
			&update.ID,
			&update.IncidentID,
			&update.Title,
			&update.Message,
			&update.Status,
			&update.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan incident update: %w", err)
		}
		updates = append(updates, update)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incident updates: %w", err)
	}
	return updates, nil
}

// BeginTx starts a new transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// GetIncidentTx reads an incident with SELECT ... FOR UPDATE.
func (r *Repository) GetIncidentTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Incident, error) {
	return r.getIncident(ctx, tx, id, " FOR UPDATE")
}

// CreateIncidentTx inserts an incident within a transaction.
func (r *Repository) CreateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			organization_id, title, description, status, severity,
			started_at, resolved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := tx.QueryRow(ctx, query,
		incident.OrganizationID,
		incident.Title,
		incident.Description,
		incident.Status,
		incident.Severity,
		incident.StartedAt,
		incident.ResolvedAt,
		incident.CreatedAt,
		incident.UpdatedAt,
	).Scan(&incident.ID)

	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// UpdateIncidentTx stores the editable fields of an incident within a transaction.
func (r *Repository) UpdateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error {
	query := `
		UPDATE incidents
		SET title = $2, description = $3, status = $4, severity = $5,
		    resolved_at = $6, updated_at = $7
		WHERE id = $1
	`
	result, err := tx.Exec(ctx, query,
		incident.ID,
		incident.Title,
		incident.Description,
		incident.Status,
		incident.Severity,
		incident.ResolvedAt,
		incident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}

	if result.RowsAffected() == 0 {
		return events.ErrIncidentNotFound
	}
	return nil
}

// DeleteIncidentTx deletes an incident. Updates and service links cascade.
func (r *Repository) DeleteIncidentTx(ctx context.Context, tx pgx.Tx, id string) error {
	result, err := tx.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}

	if result.RowsAffected() == 0 {
		return events.ErrIncidentNotFound
	}
	return nil
}

// SetIncidentServicesTx replaces the affected services of an incident,
// keeping the given order.
func (r *Repository) SetIncidentServicesTx(ctx context.Context, tx pgx.Tx, incidentID string, serviceIDs []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM incident_services WHERE incident_id = $1`, incidentID); err != nil {
		return fmt.Errorf("delete incident services: %w", err)
	}

	query := `
		INSERT INTO incident_services (incident_id, service_id, position)
		VALUES ($1, $2, $3)
	`
	for i, serviceID := range serviceIDs {
		if _, err := tx.Exec(ctx, query, incidentID, serviceID, i); err != nil {
			return fmt.Errorf("associate service %s: %w", serviceID, err)
		}
	}
	return nil
}

// CreateIncidentUpdateTx appends an update to an incident within a transaction.
func (r *Repository) CreateIncidentUpdateTx(ctx context.Context, tx pgx.Tx, update *domain.IncidentUpdate) error {
	query := `
		INSERT INTO incident_updates (incident_id, title, message, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := tx.QueryRow(ctx, query,
		update.IncidentID,
		update.Title,
		update.Message,
		update.Status,
		update.CreatedAt,
	).Scan(&update.ID)

	if err != nil {
		return fmt.Errorf("create incident update: %w", err)
	}
	return nil
}

func (r *Repository) getIncident(ctx context.Context, q querier, id, lock string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1` + lock

	incident, err := scanIncident(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}

	serviceIDs, err := listServiceIDs(ctx, q, []string{incident.ID})
	if err != nil {
		return nil, err
	}
	incident.ServiceIDs = serviceIDs[incident.ID]
	if incident.ServiceIDs == nil {
		incident.ServiceIDs = []string{}
	}
	return incident, nil
}

// loadServiceIDs fills ServiceIDs of every incident with one query.
func (r *Repository) loadServiceIDs(ctx context.Context, incidents []domain.Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	ids := make([]string, len(incidents))
	for i := range incidents {
		ids[i] = incidents[i].ID
	}
	serviceIDs, err := listServiceIDs(ctx, r.db, ids)
	if err != nil {
		return err
	}

	for i := range incidents {
		incidents[i].ServiceIDs = serviceIDs[incidents[i].ID]
		if incidents[i].ServiceIDs == nil {
			incidents[i].ServiceIDs = []string{}
		}
	}
	return nil
}

func listServiceIDs(ctx context.Context, q querier, incidentIDs []string) (map[string][]string, error) {
	query := `
		SELECT incident_id, service_id
		FROM incident_services
		WHERE incident_id = ANY($1::uuid[])
		ORDER BY incident_id, position
	`
	rows, err := q.Query(ctx, query, incidentIDs)
	if err != nil {
		return nil, fmt.Errorf("list incident services: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string, len(incidentIDs))
	for rows.Next() {
		var incidentID, serviceID string
		if err := rows.Scan(&incidentID, &serviceID); err != nil {
			return nil, fmt.Errorf("scan incident service: %w", err)
		}
		result[incidentID] = append(result[incidentID], serviceID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incident services: %w", err)
	}
	return result, nil
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	err := row.Scan(
		&incident.ID,
		&incident.OrganizationID,
		&incident.Title,
		&incident.Description,
		&incident.Status,
		&incident.Severity,
		&incident.StartedAt,
		&incident.ResolvedAt,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &incident, nil
}
