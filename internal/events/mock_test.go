package events

import (
	"context"
	"slices"
	"sync"

	"github.com/bissquit/uptime-garden/internal/catalog"
	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// mockTx records how a transaction ended. Only Commit and Rollback are implemented.
type mockTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	lockReads  int
}

func (tx *mockTx) Commit(_ context.Context) error {
	tx.committed = true
	return nil
}

func (tx *mockTx) Rollback(_ context.Context) error {
	if tx.committed {
		return pgx.ErrTxClosed
	}
	tx.rolledBack = true
	return nil
}

// mockRepository is an in-memory Repository. Writes made through a
// transaction are applied immediately.
type mockRepository struct {
	mu        sync.Mutex
	incidents map[string]*domain.Incident
	updates   []domain.IncidentUpdate
	txs       []*mockTx

	createUpdateErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{incidents: make(map[string]*domain.Incident)}
}

func (m *mockRepository) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

func (m *mockRepository) get(id string) (*domain.Incident, error) {
	incident, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	copied := *incident
	copied.ServiceIDs = slices.Clone(incident.ServiceIDs)
	return &copied, nil
}

func (m *mockRepository) ListIncidents(_ context.Context, filter IncidentFilter) ([]domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]domain.Incident, 0)
	for id, incident := range m.incidents {
		if incident.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Status != nil && incident.Status != *filter.Status {
			continue
		}
		if filter.Unresolved && incident.Status.IsResolved() {
			continue
		}
		if filter.ResolvedSince != nil &&
			(!incident.Status.IsResolved() || incident.ResolvedAt == nil || incident.ResolvedAt.Before(*filter.ResolvedSince)) {
			continue
		}
		copied, _ := m.get(id)
		result = append(result, *copied)
	}

	slices.SortFunc(result, func(a, b domain.Incident) int {
		if filter.ResolvedSince != nil {
			return b.ResolvedAt.Compare(*a.ResolvedAt)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if filter.Offset > 0 {
		result = result[min(filter.Offset, len(result)):]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockRepository) ListIncidentUpdates(_ context.Context, incidentID string, limit int) ([]domain.IncidentUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]domain.IncidentUpdate, 0)
	for i := len(m.updates) - 1; i >= 0; i-- {
		if m.updates[i].IncidentID == incidentID {
			result = append(result, m.updates[i])
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockRepository) BeginTx(_ context.Context) (pgx.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &mockTx{}
	m.txs = append(m.txs, tx)
	return tx, nil
}

func (m *mockRepository) GetIncidentTx(_ context.Context, tx pgx.Tx, id string) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mtx, ok := tx.(*mockTx); ok {
		mtx.lockReads++
	}
	return m.get(id)
}

func (m *mockRepository) CreateIncidentTx(_ context.Context, _ pgx.Tx, incident *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident.ID = uuid.NewString()
	copied := *incident
	m.incidents[incident.ID] = &copied
	return nil
}

func (m *mockRepository) UpdateIncidentTx(_ context.Context, _ pgx.Tx, incident *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.incidents[incident.ID]
	if !ok {
		return ErrIncidentNotFound
	}
	serviceIDs := stored.ServiceIDs
	*stored = *incident
	stored.ServiceIDs = serviceIDs
	return nil
}

func (m *mockRepository) DeleteIncidentTx(_ context.Context, _ pgx.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[id]; !ok {
		return ErrIncidentNotFound
	}
	delete(m.incidents, id)
	m.updates = slices.DeleteFunc(m.updates, func(u domain.IncidentUpdate) bool {
		return u.IncidentID == id
	})
	return nil
}

func (m *mockRepository) SetIncidentServicesTx(_ context.Context, _ pgx.Tx, incidentID string, serviceIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.incidents[incidentID]
	if !ok {
		return ErrIncidentNotFound
	}
	stored.ServiceIDs = slices.Clone(serviceIDs)
	return nil
}

func (m *mockRepository) CreateIncidentUpdateTx(_ context.Context, _ pgx.Tx, update *domain.IncidentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createUpdateErr != nil {
		return m.createUpdateErr
	}
	update.ID = uuid.NewString()
	m.updates = append(m.updates, *update)
	return nil
}

// fakeCatalog serves organizations and services from memory.
type fakeCatalog struct {
	orgs     map[string]*domain.Organization
	services []domain.Service
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{orgs: make(map[string]*domain.Organization)}
}

func (f *fakeCatalog) GetOrganization(_ context.Context, id string) (*domain.Organization, error) {
	if o, ok := f.orgs[id]; ok {
		return o, nil
	}
	return nil, catalog.ErrOrganizationNotFound
}

func (f *fakeCatalog) GetPublicOrganization(_ context.Context, slug string) (*domain.Organization, error) {
	for _, o := range f.orgs {
		if o.Slug == slug && o.IsPublic {
			return o, nil
		}
	}
	return nil, catalog.ErrOrganizationNotFound
}

func (f *fakeCatalog) ListOrganizationServices(_ context.Context, organizationID string, includeInactive bool) ([]domain.Service, error) {
	services := make([]domain.Service, 0)
	for _, s := range f.services {
		if s.OrganizationID == organizationID && (includeInactive || s.IsActive) {
			services = append(services, s)
		}
	}
	return services, nil
}
