package catalog

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// mockTx records how a transaction ended. Only Commit and Rollback are
// implemented. A tx that locked a service row holds the repository's row
// lock until it ends, like SELECT ... FOR UPDATE.
type mockTx struct {
	pgx.Tx
	repo       *mockRepository
	committed  bool
	rolledBack bool
	locked     bool
	lockReads  int
}

func (tx *mockTx) Commit(_ context.Context) error {
	tx.committed = true
	tx.release()
	return nil
}

func (tx *mockTx) Rollback(_ context.Context) error {
	if tx.committed {
		return pgx.ErrTxClosed
	}
	tx.rolledBack = true
	tx.release()
	return nil
}

func (tx *mockTx) release() {
	if tx.locked {
		tx.locked = false
		tx.repo.rowLock.Unlock()
	}
}

// mockRepository is an in-memory Repository. Writes made through a
// transaction are applied immediately; tests inspect the tx to check
// whether it was committed.
type mockRepository struct {
	mu       sync.Mutex
	orgs     map[string]*domain.Organization
	services map[string]*domain.Service
	events   []domain.StatusEvent
	seq      int64
	txs      []*mockTx
	rowLock  sync.Mutex

	createEventErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		orgs:     make(map[string]*domain.Organization),
		services: make(map[string]*domain.Service),
	}
}

func (m *mockRepository) CreateOrganization(_ context.Context, org *domain.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orgs {
		if o.Slug == org.Slug {
			return ErrOrganizationSlugExists
		}
	}
	org.ID = uuid.NewString()
	copied := *org
	m.orgs[org.ID] = &copied
	return nil
}

func (m *mockRepository) GetOrganizationByID(_ context.Context, id string) (*domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orgs[id]; ok {
		copied := *o
		return &copied, nil
	}
	return nil, ErrOrganizationNotFound
}

func (m *mockRepository) GetOrganizationBySlug(_ context.Context, slug string) (*domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orgs {
		if o.Slug == slug {
			copied := *o
			return &copied, nil
		}
	}
	return nil, ErrOrganizationNotFound
}

func (m *mockRepository) ListOrganizations(_ context.Context) ([]domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orgs := make([]domain.Organization, 0, len(m.orgs))
	for _, o := range m.orgs {
		orgs = append(orgs, *o)
	}
	slices.SortFunc(orgs, func(a, b domain.Organization) int { return strings.Compare(a.Name, b.Name) })
	return orgs, nil
}

func (m *mockRepository) GetServiceByID(_ context.Context, id string) (*domain.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.services[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, ErrServiceNotFound
}

func (m *mockRepository) ListServices(_ context.Context, filter ServiceFilter) ([]domain.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	services := make([]domain.Service, 0)
	for _, s := range m.services {
		if filter.OrganizationID != nil && s.OrganizationID != *filter.OrganizationID {
			continue
		}
		if !filter.IncludeInactive && !s.IsActive {
			continue
		}
		services = append(services, *s)
	}
	slices.SortFunc(services, func(a, b domain.Service) int {
		if a.SortOrder != b.SortOrder {
			return a.SortOrder - b.SortOrder
		}
		return strings.Compare(a.Name, b.Name)
	})
	return services, nil
}

func (m *mockRepository) UpdateService(_ context.Context, service *domain.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.services[service.ID]
	if !ok {
		return ErrServiceNotFound
	}
	stored.Name = service.Name
	stored.Description = service.Description
	stored.SortOrder = service.SortOrder
	return nil
}

func (m *mockRepository) DeactivateService(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.services[id]
	if !ok {
		return ErrServiceNotFound
	}
	stored.IsActive = false
	return nil
}

func (m *mockRepository) CountActiveServicesByStatus(_ context.Context) (map[domain.ServiceStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.ServiceStatus]int)
	for _, s := range m.services {
		if s.IsActive {
			counts[s.Status]++
		}
	}
	return counts, nil
}

func (m *mockRepository) ListStatusEvents(_ context.Context, serviceID string, from, to time.Time) ([]domain.StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]domain.StatusEvent, 0)
	for _, e := range m.events {
		if e.ServiceID == serviceID && !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
			events = append(events, e)
		}
	}
	return events, nil
}

func (m *mockRepository) GetLatestStatusEventBefore(_ context.Context, serviceID string, t time.Time) (*domain.StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.StatusEvent
	for i := range m.events {
		e := m.events[i]
		if e.ServiceID == serviceID && e.CreatedAt.Before(t) && (latest == nil || latest.Before(e)) {
			latest = &e
		}
	}
	if latest == nil {
		return nil, ErrStatusEventNotFound
	}
	return latest, nil
}

func (m *mockRepository) ListStatusLog(_ context.Context, serviceID string, limit, offset int) ([]domain.StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]domain.StatusEvent, 0)
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].ServiceID == serviceID {
			events = append(events, m.events[i])
		}
	}
	if offset >= len(events) {
		return []domain.StatusEvent{}, nil
	}
	events = events[offset:]
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *mockRepository) CountStatusLog(_ context.Context, serviceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.events {
		if e.ServiceID == serviceID {
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) BeginTx(_ context.Context) (pgx.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &mockTx{repo: m}
	m.txs = append(m.txs, tx)
	return tx, nil
}

func (m *mockRepository) GetServiceByIDTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Service, error) {
	if mtx, ok := tx.(*mockTx); ok {
		mtx.lockReads++
		if !mtx.locked {
			m.rowLock.Lock()
			mtx.locked = true
		}
	}
	return m.GetServiceByID(ctx, id)
}

func (m *mockRepository) CreateServiceTx(_ context.Context, _ pgx.Tx, service *domain.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	service.ID = uuid.NewString()
	service.CreatedAt = service.LastStatusChange
	service.UpdatedAt = service.LastStatusChange
	copied := *service
	m.services[service.ID] = &copied
	return nil
}

func (m *mockRepository) UpdateServiceStatusTx(_ context.Context, _ pgx.Tx, serviceID string, status domain.ServiceStatus, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.services[serviceID]
	if !ok {
		return ErrServiceNotFound
	}
	stored.Status = status
	stored.LastStatusChange = changedAt
	return nil
}

func (m *mockRepository) CreateStatusEventTx(_ context.Context, _ pgx.Tx, event *domain.StatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createEventErr != nil {
		return m.createEventErr
	}
	m.seq++
	event.Seq = m.seq
	m.events = append(m.events, *event)
	return nil
}

func (m *mockRepository) lastTx() *mockTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) == 0 {
		return nil
	}
	return m.txs[len(m.txs)-1]
}

var errStorage = errors.New("storage failure")

// fixedClock returns a clock that advances by one minute on every call.
func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(time.Minute)
		return now
	}
}
