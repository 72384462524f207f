// Package events manages incidents: the timeline of updates an organization
// publishes about a disruption and the services it affects.
package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/bissquit/uptime-garden/internal/pkg/ctxlog"
	"github.com/jackc/pgx/v5"
)

// Status page limits.
const (
	RecentIncidentsWindow = 30 * 24 * time.Hour
	RecentIncidentsLimit  = 10
)

// ListUpdatesLimit caps the updates embedded in each incident of a staff listing.
const ListUpdatesLimit = 5

// Initial timeline entry of every incident.
const (
	CreatedUpdateTitle   = "Incident Created"
	createdUpdateMessage = "We are investigating reports of %s. We will provide updates as we learn more."
)

// Catalog is the read side of the catalog module used for incidents.
type Catalog interface {
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	GetPublicOrganization(ctx context.Context, slug string) (*domain.Organization, error)
	ListOrganizationServices(ctx context.Context, organizationID string, includeInactive bool) ([]domain.Service, error)
}

// Service implements incident business logic.
type Service struct {
	repo    Repository
	catalog Catalog
	now     func() time.Time
}

// NewService creates a new incident service.
func NewService(repo Repository, catalog Catalog) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		now:     time.Now,
	}
}

// CreateIncidentInput holds data for creating an incident.
type CreateIncidentInput struct {
	Title       string
	Description string
	// Severity defaults to medium.
	Severity domain.IncidentSeverity
	// StartedAt defaults to now.
	StartedAt  *time.Time
	ServiceIDs []string
}

// UpdateIncidentInput holds the fields to change. Nil fields are left as is.
type UpdateIncidentInput struct {
	Title       *string
	Description *string
	Status      *domain.IncidentStatus
	Severity    *domain.IncidentSeverity
	ServiceIDs  *[]string
}

// AddUpdateInput holds data for a timeline entry. Status becomes the
// status of the incident.
type AddUpdateInput struct {
	Status  domain.IncidentStatus
	Title   string
	Message string
}

// ListFilter holds staff listing options.
type ListFilter struct {
	Status *domain.IncidentStatus
	Limit  int
	Offset int
}

// AffectedService is a service named by an incident.
type AffectedService struct {
	ID     string               `json:"id"`
	Name   string               `json:"name"`
	Status domain.ServiceStatus `json:"status"`
}

// IncidentDetail is an incident with its affected services and timeline.
type IncidentDetail struct {
	domain.Incident
	AffectedServices []AffectedService       `json:"affected_services"`
	Updates          []domain.IncidentUpdate `json:"updates"`
}

// IncidentSummary is an incident as listed on a status page.
type IncidentSummary struct {
	domain.Incident
	AffectedServices []AffectedService      `json:"affected_services"`
	LatestUpdate     *domain.IncidentUpdate `json:"latest_update"`
}

// CreateIncident opens an incident in the investigating state and records
// its first timeline entry. Every affected service must be an active
// service of the organization.
func (s *Service) CreateIncident(ctx context.Context, organizationID string, input CreateIncidentInput) (*IncidentDetail, error) {
	severity := input.Severity
	if severity == "" {
		severity = domain.IncidentSeverityMedium
	}
	if !severity.IsValid() {
		return nil, ErrInvalidSeverity
	}

	if _, err := s.catalog.GetOrganization(ctx, organizationID); err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	services, err := s.serviceIndex(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	serviceIDs, err := validateServices(services, input.ServiceIDs)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	startedAt := now
	if input.StartedAt != nil {
		startedAt = input.StartedAt.UTC()
	}

	incident := &domain.Incident{
		OrganizationID: organizationID,
		Title:          input.Title,
		Description:    input.Description,
		Status:         domain.IncidentStatusInvestigating,
		Severity:       severity,
		StartedAt:      startedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
		ServiceIDs:     serviceIDs,
	}
	update := domain.IncidentUpdate{
		Title:     CreatedUpdateTitle,
		Message:   fmt.Sprintf(createdUpdateMessage, strings.ToLower(input.Title)),
		Status:    domain.IncidentStatusInvestigating,
		CreatedAt: now,
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.CreateIncidentTx(ctx, tx, incident); err != nil {
			return fmt.Errorf("create incident: %w", err)
		}
		if err := s.repo.SetIncidentServicesTx(ctx, tx, incident.ID, serviceIDs); err != nil {
			return fmt.Errorf("set incident services: %w", err)
		}
		update.IncidentID = incident.ID
		if err := s.repo.CreateIncidentUpdateTx(ctx, tx, &update); err != nil {
			return fmt.Errorf("create incident update: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordIncidentOpened(severity)
	ctxlog.FromContext(ctx).Info("incident created",
		"incident_id", incident.ID,
		"organization_id", organizationID,
		"severity", severity,
		"services", len(serviceIDs),
	)

	return &IncidentDetail{
		Incident:         *incident,
		AffectedServices: affectedServices(services, serviceIDs),
		Updates:          []domain.IncidentUpdate{update},
	}, nil
}

// GetIncident returns an incident with its full timeline.
func (s *Service) GetIncident(ctx context.Context, id string) (*IncidentDetail, error) {
	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	services, err := s.serviceIndex(ctx, incident.OrganizationID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, *incident, services, 0)
}

// ListIncidents returns incidents of an organization, newest first, each
// with its latest updates.
func (s *Service) ListIncidents(ctx context.Context, organizationID string, filter ListFilter) ([]IncidentDetail, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, ErrInvalidStatus
	}
	if _, err := s.catalog.GetOrganization(ctx, organizationID); err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	incidents, err := s.repo.ListIncidents(ctx, IncidentFilter{
		OrganizationID: organizationID,
		Status:         filter.Status,
		Limit:          filter.Limit,
		Offset:         filter.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return s.details(ctx, organizationID, incidents, ListUpdatesLimit)
}

// UpdateIncident changes incident fields. Moving to resolved stamps the
// resolution time and moving away from resolved clears it. A new service
// list replaces the old one and is validated like on creation.
func (s *Service) UpdateIncident(ctx context.Context, id string, input UpdateIncidentInput) (*IncidentDetail, error) {
	if input.Status != nil && !input.Status.IsValid() {
		return nil, ErrInvalidStatus
	}
	if input.Severity != nil && !input.Severity.IsValid() {
		return nil, ErrInvalidSeverity
	}

	current, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	services, err := s.serviceIndex(ctx, current.OrganizationID)
	if err != nil {
		return nil, err
	}
	var serviceIDs []string
	if input.ServiceIDs != nil {
		if serviceIDs, err = validateServices(services, *input.ServiceIDs); err != nil {
			return nil, err
		}
	}

	var incident *domain.Incident
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		incident, err = s.repo.GetIncidentTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("get incident: %w", err)
		}

		if input.Title != nil {
			incident.Title = *input.Title
		}
		if input.Description != nil {
			incident.Description = *input.Description
		}
		if input.Severity != nil {
			incident.Severity = *input.Severity
		}
		if input.Status != nil {
			s.setStatus(incident, *input.Status)
		}
		incident.UpdatedAt = s.now().UTC()

		if err := s.repo.UpdateIncidentTx(ctx, tx, incident); err != nil {
			return fmt.Errorf("update incident: %w", err)
		}
		if input.ServiceIDs != nil {
			if err := s.repo.SetIncidentServicesTx(ctx, tx, id, serviceIDs); err != nil {
				return fmt.Errorf("set incident services: %w", err)
			}
			incident.ServiceIDs = serviceIDs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("incident updated", "incident_id", id, "status", incident.Status)
	return s.detail(ctx, *incident, services, ListUpdatesLimit)
}

// AddUpdate appends a timeline entry and moves the incident to its status.
// A resolved incident can be reopened this way.
func (s *Service) AddUpdate(ctx context.Context, incidentID string, input AddUpdateInput) (*domain.IncidentUpdate, error) {
	if !input.Status.IsValid() {
		return nil, ErrInvalidStatus
	}

	update := &domain.IncidentUpdate{
		IncidentID: incidentID,
		Title:      input.Title,
		Message:    input.Message,
		Status:     input.Status,
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		incident, err := s.repo.GetIncidentTx(ctx, tx, incidentID)
		if err != nil {
			return fmt.Errorf("get incident: %w", err)
		}

		now := s.now().UTC()
		s.setStatus(incident, input.Status)
		incident.UpdatedAt = now
		if err := s.repo.UpdateIncidentTx(ctx, tx, incident); err != nil {
			return fmt.Errorf("update incident: %w", err)
		}

		update.CreatedAt = now
		if err := s.repo.CreateIncidentUpdateTx(ctx, tx, update); err != nil {
			return fmt.Errorf("create incident update: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordIncidentUpdate(input.Status)
	ctxlog.FromContext(ctx).Info("incident update added", "incident_id", incidentID, "status", input.Status)
	return update, nil
}

// ListUpdates returns the timeline of an incident, newest first.
func (s *Service) ListUpdates(ctx context.Context, incidentID string) ([]domain.IncidentUpdate, error) {
	if _, err := s.repo.GetIncident(ctx, incidentID); err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	updates, err := s.repo.ListIncidentUpdates(ctx, incidentID, 0)
	if err != nil {
		return nil, fmt.Errorf("list incident updates: %w", err)
	}
	return updates, nil
}

// DeleteIncident removes an unresolved incident with its timeline.
// Resolved incidents are kept as history.
func (s *Service) DeleteIncident(ctx context.Context, id string) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		incident, err := s.repo.GetIncidentTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("get incident: %w", err)
		}
		if incident.Status.IsResolved() {
			return ErrResolvedIncident
		}
		if err := s.repo.DeleteIncidentTx(ctx, tx, id); err != nil {
			return fmt.Errorf("delete incident: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	ctxlog.FromContext(ctx).Info("incident deleted", "incident_id", id)
	return nil
}

// ActiveIncidents returns the unresolved incidents of an organization,
// newest first.
func (s *Service) ActiveIncidents(ctx context.Context, organizationID string) ([]IncidentSummary, error) {
	incidents, err := s.repo.ListIncidents(ctx, IncidentFilter{
		OrganizationID: organizationID,
		Unresolved:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("list active incidents: %w", err)
	}
	return s.summaries(ctx, organizationID, incidents)
}

// RecentIncidents returns up to RecentIncidentsLimit incidents resolved
// within RecentIncidentsWindow, most recently resolved first.
func (s *Service) RecentIncidents(ctx context.Context, organizationID string) ([]IncidentSummary, error) {
	since := s.now().UTC().Add(-RecentIncidentsWindow)
	incidents, err := s.repo.ListIncidents(ctx, IncidentFilter{
		OrganizationID: organizationID,
		ResolvedSince:  &since,
		Limit:          RecentIncidentsLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list recent incidents: %w", err)
	}
	return s.summaries(ctx, organizationID, incidents)
}

// PublicIncidents returns the incidents of a public organization, newest
// first, with their full timelines.
func (s *Service) PublicIncidents(ctx context.Context, slug string, limit int) ([]IncidentDetail, error) {
	org, err := s.catalog.GetPublicOrganization(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	incidents, err := s.repo.ListIncidents(ctx, IncidentFilter{
		OrganizationID: org.ID,
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return s.details(ctx, org.ID, incidents, 0)
}

// PublicIncident returns one incident of a public organization. Incidents
// of other organizations are reported as not found.
func (s *Service) PublicIncident(ctx context.Context, slug, id string) (*IncidentDetail, error) {
	org, err := s.catalog.GetPublicOrganization(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	if incident.OrganizationID != org.ID {
		return nil, ErrIncidentNotFound
	}

	services, err := s.serviceIndex(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, *incident, services, 0)
}

func (s *Service) setStatus(incident *domain.Incident, status domain.IncidentStatus) {
	incident.Status = status
	switch {
	case status.IsResolved() && incident.ResolvedAt == nil:
		now := s.now().UTC()
		incident.ResolvedAt = &now
	case !status.IsResolved():
		incident.ResolvedAt = nil
	}
}

// serviceIndex maps the IDs of all services of an organization, inactive
// ones included, to the service.
func (s *Service) serviceIndex(ctx context.Context, organizationID string) (map[string]domain.Service, error) {
	services, err := s.catalog.ListOrganizationServices(ctx, organizationID, true)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	index := make(map[string]domain.Service, len(services))
	for _, service := range services {
		index[service.ID] = service
	}
	return index, nil
}

func (s *Service) details(ctx context.Context, organizationID string, incidents []domain.Incident, updatesLimit int) ([]IncidentDetail, error) {
	services, err := s.serviceIndex(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	result := make([]IncidentDetail, 0, len(incidents))
	for _, incident := range incidents {
		detail, err := s.detail(ctx, incident, services, updatesLimit)
		if err != nil {
			return nil, err
		}
		result = append(result, *detail)
	}
	return result, nil
}

func (s *Service) detail(ctx context.Context, incident domain.Incident, services map[string]domain.Service, updatesLimit int) (*IncidentDetail, error) {
	updates, err := s.repo.ListIncidentUpdates(ctx, incident.ID, updatesLimit)
	if err != nil {
		return nil, fmt.Errorf("list incident updates: %w", err)
	}
	return &IncidentDetail{
		Incident:         incident,
		AffectedServices: affectedServices(services, incident.ServiceIDs),
		Updates:          updates,
	}, nil
}

func (s *Service) summaries(ctx context.Context, organizationID string, incidents []domain.Incident) ([]IncidentSummary, error) {
	if len(incidents) == 0 {
		return []IncidentSummary{}, nil
	}
	services, err := s.serviceIndex(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	result := make([]IncidentSummary, 0, len(incidents))
	for _, incident := range incidents {
		updates, err := s.repo.ListIncidentUpdates(ctx, incident.ID, 1)
		if err != nil {
			return nil, fmt.Errorf("list incident updates: %w", err)
		}
		summary := IncidentSummary{
			Incident:         incident,
			AffectedServices: affectedServices(services, incident.ServiceIDs),
		}
		if len(updates) > 0 {
			summary.LatestUpdate = &updates[0]
		}
		result = append(result, summary)
	}
	return result, nil
}

func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			ctxlog.FromContext(ctx).Error("rollback failed", "error", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// validateServices returns ids without duplicates, in input order. Every id
// must name an active service in services.
func validateServices(services map[string]domain.Service, ids []string) ([]string, error) {
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		service, ok := services[id]
		if !ok || !service.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrInvalidServices, id)
		}
		if !slices.Contains(result, id) {
			result = append(result, id)
		}
	}
	return result, nil
}

// affectedServices resolves ids against services. Services no longer in
// the catalog are skipped.
func affectedServices(services map[string]domain.Service, ids []string) []AffectedService {
	result := make([]AffectedService, 0, len(ids))
	for _, id := range ids {
		service, ok := services[id]
		if !ok {
			continue
		}
		result = append(result, AffectedService{ID: service.ID, Name: service.Name, Status: service.Status})
	}
	return result
}
