package reporting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bissquit/uptime-garden/internal/catalog"
	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/bissquit/uptime-garden/internal/events"
)

// fakeCatalog is an in-memory Catalog. Events must be added in log order.
type fakeCatalog struct {
	orgs     map[string]*domain.Organization
	services []domain.Service
	events   map[string][]domain.StatusEvent

	listEventsErr   error
	listEventsDelay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	mu          sync.Mutex
	calls       int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		orgs:   make(map[string]*domain.Organization),
		events: make(map[string][]domain.StatusEvent),
	}
}

func (f *fakeCatalog) addOrganization(id, slug string, public bool) {
	f.orgs[id] = &domain.Organization{ID: id, Name: slug, Slug: slug, IsPublic: public}
}

func (f *fakeCatalog) addService(s domain.Service, events ...domain.StatusEvent) {
	f.services = append(f.services, s)
	for i := range events {
		events[i].ServiceID = s.ID
		events[i].Seq = int64(len(f.events[s.ID]) + 1)
		f.events[s.ID] = append(f.events[s.ID], events[i])
	}
}

func (f *fakeCatalog) GetService(_ context.Context, id string) (*domain.Service, error) {
	for _, s := range f.services {
		if s.ID == id {
			copied := s
			return &copied, nil
		}
	}
	return nil, catalog.ErrServiceNotFound
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

func (f *fakeCatalog) ListStatusEvents(ctx context.Context, serviceID string, from, to time.Time) ([]domain.StatusEvent, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		current := f.maxInFlight.Load()
		if n <= current || f.maxInFlight.CompareAndSwap(current, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.listEventsDelay > 0 {
		select {
		case <-time.After(f.listEventsDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.listEventsErr != nil {
		return nil, f.listEventsErr
	}

	events := make([]domain.StatusEvent, 0)
	for _, e := range f.events[serviceID] {
		if !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
			events = append(events, e)
		}
	}
	return events, nil
}

func (f *fakeCatalog) LatestStatusEventBefore(_ context.Context, serviceID string, t time.Time) (*domain.StatusEvent, bool, error) {
	var latest *domain.StatusEvent
	for _, e := range f.events[serviceID] {
		if e.CreatedAt.Before(t) {
			copied := e
			latest = &copied
		}
	}
	return latest, latest != nil, nil
}

// fakeIncidents returns fixed incident lists and records the organizations asked for.
type fakeIncidents struct {
	active []events.IncidentSummary
	recent []events.IncidentSummary
	err    error
	orgs   []string
}

func (f *fakeIncidents) ActiveIncidents(_ context.Context, organizationID string) ([]events.IncidentSummary, error) {
	f.orgs = append(f.orgs, organizationID)
	return f.active, f.err
}

func (f *fakeIncidents) RecentIncidents(_ context.Context, organizationID string) ([]events.IncidentSummary, error) {
	f.orgs = append(f.orgs, organizationID)
	return f.recent, f.err
}
