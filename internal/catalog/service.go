package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/bissquit/uptime-garden/internal/pkg/ctxlog"
	"github.com/jackc/pgx/v5"
)

// ServiceCreatedReason is recorded on the first status event of every service.
const ServiceCreatedReason = "Service created"

// Service implements catalog business logic and owns the status event log.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new catalog service.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// CreateServiceInput holds fields for a new service.
type CreateServiceInput struct {
	Name        string
	Description string
	SortOrder   int
}

// UpdateServiceInput holds editable service fields.
type UpdateServiceInput struct {
	Name        string
	Description string
	SortOrder   int
}

// ChangeStatusInput describes a status transition.
type ChangeStatusInput struct {
	Status    domain.ServiceStatus
	Reason    string
	Automated bool
}

// CreateOrganization creates a new organization.
func (s *Service) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	if err := s.repo.CreateOrganization(ctx, org); err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	ctxlog.FromContext(ctx).Info("organization created", "organization_id", org.ID, "slug", org.Slug)
	return nil
}

// GetOrganization returns an organization by ID.
func (s *Service) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	org, err := s.repo.GetOrganizationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return org, nil
}

// GetPublicOrganization returns a public organization by slug.
// Private organizations are reported as not found.
func (s *Service) GetPublicOrganization(ctx context.Context, slug string) (*domain.Organization, error) {
	org, err := s.repo.GetOrganizationBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get organization by slug: %w", err)
	}
	if !org.IsPublic {
		return nil, ErrOrganizationNotFound
	}
	return org, nil
}

// ListOrganizations returns all organizations.
func (s *Service) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	orgs, err := s.repo.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return orgs, nil
}

// CreateService creates an operational service and records its first status event.
func (s *Service) CreateService(ctx context.Context, organizationID string, input CreateServiceInput) (*domain.Service, error) {
	if _, err := s.repo.GetOrganizationByID(ctx, organizationID); err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	now := s.now().UTC()
	service := &domain.Service{
		OrganizationID:   organizationID,
		Name:             input.Name,
		Description:      input.Description,
		Status:           domain.ServiceStatusOperational,
		IsActive:         true,
		SortOrder:        input.SortOrder,
		LastStatusChange: now,
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.CreateServiceTx(ctx, tx, service); err != nil {
			return fmt.Errorf("create service: %w", err)
		}
		event := &domain.StatusEvent{
			ServiceID: service.ID,
			Status:    domain.ServiceStatusOperational,
			Reason:    ServiceCreatedReason,
			CreatedAt: now,
		}
		if err := s.repo.CreateStatusEventTx(ctx, tx, event); err != nil {
			return fmt.Errorf("create status event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("service created",
		"service_id", service.ID,
		"organization_id", organizationID,
	)
	return service, nil
}

// GetService returns a service by ID, active or not.
func (s *Service) GetService(ctx context.Context, id string) (*domain.Service, error) {
	service, err := s.repo.GetServiceByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	return service, nil
}

// ListServices returns services of an organization ordered by sort order and name.
func (s *Service) ListServices(ctx context.Context, organizationID string, includeInactive bool) ([]domain.Service, error) {
	if _, err := s.repo.GetOrganizationByID(ctx, organizationID); err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	services, err := s.repo.ListServices(ctx, ServiceFilter{
		OrganizationID:  &organizationID,
		IncludeInactive: includeInactive,
	})
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return services, nil
}

// UpdateService updates name, description and sort order of an active service.
func (s *Service) UpdateService(ctx context.Context, id string, input UpdateServiceInput) (*domain.Service, error) {
	service, err := s.activeService(ctx, id)
	if err != nil {
		return nil, err
	}

	service.Name = input.Name
	service.Description = input.Description
	service.SortOrder = input.SortOrder

	if err := s.repo.UpdateService(ctx, service); err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}
	return service, nil
}

// ChangeStatus moves an active service to a new status and appends the
// transition to its status log in the same transaction. The service row is
// locked while the current status is read, so concurrent changes see each
// other's results. Setting the current status again records nothing.
func (s *Service) ChangeStatus(ctx context.Context, id string, input ChangeStatusInput) (*domain.Service, error) {
	if !input.Status.IsValid() {
		return nil, ErrInvalidStatus
	}

	var (
		service  *domain.Service
		previous domain.ServiceStatus
		changed  bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		service, err = s.repo.GetServiceByIDTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("get service: %w", err)
		}
		if !service.IsActive {
			return ErrServiceInactive
		}
		if service.Status == input.Status {
			return nil
		}

		previous = service.Status
		reason := input.Reason
		if reason == "" {
			reason = "Status updated to " + input.Status.Label()
		}
		now := s.now().UTC()

		if err := s.repo.UpdateServiceStatusTx(ctx, tx, id, input.Status, now); err != nil {
			return fmt.Errorf("update service status: %w", err)
		}
		event := &domain.StatusEvent{
			ServiceID:      id,
			Status:         input.Status,
			PreviousStatus: &previous,
			Reason:         reason,
			Automated:      input.Automated,
			CreatedAt:      now,
		}
		if err := s.repo.CreateStatusEventTx(ctx, tx, event); err != nil {
			return fmt.Errorf("create status event: %w", err)
		}

		service.Status = input.Status
		service.LastStatusChange = now
		service.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return service, nil
	}

	recordStatusChange(input.Status, input.Automated)
	ctxlog.FromContext(ctx).Info("service status changed",
		"service_id", id,
		"previous_status", previous,
		"status", input.Status,
		"automated", input.Automated,
	)
	return service, nil
}

// DeactivateService soft-deletes a service. Its status log is kept.
func (s *Service) DeactivateService(ctx context.Context, id string) error {
	if _, err := s.activeService(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeactivateService(ctx, id); err != nil {
		return fmt.Errorf("deactivate service: %w", err)
	}
	ctxlog.FromContext(ctx).Info("service deactivated", "service_id", id)
	return nil
}

// ListStatusLog returns a page of the status log, newest first, with the total count.
func (s *Service) ListStatusLog(ctx context.Context, serviceID string, limit, offset int) ([]domain.StatusEvent, int, error) {
	if _, err := s.repo.GetServiceByID(ctx, serviceID); err != nil {
		return nil, 0, fmt.Errorf("get service: %w", err)
	}

	events, err := s.repo.ListStatusLog(ctx, serviceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list status log: %w", err)
	}
	total, err := s.repo.CountStatusLog(ctx, serviceID)
	if err != nil {
		return nil, 0, fmt.Errorf("count status log: %w", err)
	}
	return events, total, nil
}

// ListStatusEvents returns the events of a service created within [from, to],
// oldest first.
func (s *Service) ListStatusEvents(ctx context.Context, serviceID string, from, to time.Time) ([]domain.StatusEvent, error) {
	events, err := s.repo.ListStatusEvents(ctx, serviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}
	return events, nil
}

// LatestStatusEventBefore returns the newest event created before t.
// The boolean is false when the log has no such event.
func (s *Service) LatestStatusEventBefore(ctx context.Context, serviceID string, t time.Time) (*domain.StatusEvent, bool, error) {
	event, err := s.repo.GetLatestStatusEventBefore(ctx, serviceID, t)
	if errors.Is(err, ErrStatusEventNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get latest status event: %w", err)
	}
	return event, true, nil
}

// ListOrganizationServices returns services of an organization without
// checking that it exists. Used by readers that already resolved it.
func (s *Service) ListOrganizationServices(ctx context.Context, organizationID string, includeInactive bool) ([]domain.Service, error) {
	services, err := s.repo.ListServices(ctx, ServiceFilter{
		OrganizationID:  &organizationID,
		IncludeInactive: includeInactive,
	})
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return services, nil
}

// CountActiveServicesByStatus returns the number of active services per current status.
func (s *Service) CountActiveServicesByStatus(ctx context.Context) (map[domain.ServiceStatus]int, error) {
	counts, err := s.repo.CountActiveServicesByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count services by status: %w", err)
	}
	return counts, nil
}

func (s *Service) activeService(ctx context.Context, id string) (*domain.Service, error) {
	service, err := s.repo.GetServiceByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	if !service.IsActive {
		return nil, ErrServiceInactive
	}
	return service, nil
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
