package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bissquit/uptime-garden/internal/catalog"
	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	acmeID    = "11111111-1111-1111-1111-111111111111"
	globexID  = "22222222-2222-2222-2222-222222222222"
	privateID = "33333333-3333-3333-3333-333333333333"

	apiID     = "aaaaaaaa-0000-0000-0000-000000000001"
	webID     = "aaaaaaaa-0000-0000-0000-000000000002"
	legacyID  = "aaaaaaaa-0000-0000-0000-000000000003"
	foreignID = "aaaaaaaa-0000-0000-0000-000000000004"
	missingID = "aaaaaaaa-0000-0000-0000-0000000000ff"
)

var clockStart = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFixtureCatalog() *fakeCatalog {
	f := newFakeCatalog()
	f.orgs[acmeID] = &domain.Organization{ID: acmeID, Slug: "acme", IsPublic: true}
	f.orgs[globexID] = &domain.Organization{ID: globexID, Slug: "globex", IsPublic: true}
	f.orgs[privateID] = &domain.Organization{ID: privateID, Slug: "internal", IsPublic: false}
	f.services = []domain.Service{
		{ID: apiID, OrganizationID: acmeID, Name: "API", Status: domain.ServiceStatusMajorOutage, IsActive: true},
		{ID: webID, OrganizationID: acmeID, Name: "Web", Status: domain.ServiceStatusOperational, IsActive: true},
		{ID: legacyID, OrganizationID: acmeID, Name: "Legacy", Status: domain.ServiceStatusOperational, IsActive: false},
		{ID: foreignID, OrganizationID: globexID, Name: "Billing", Status: domain.ServiceStatusOperational, IsActive: true},
	}
	return f
}

func newTestService(t *testing.T) (*Service, *mockRepository, *testClock) {
	t.Helper()

	repo := newMockRepository()
	clock := &testClock{now: clockStart}
	svc := NewService(repo, newFixtureCatalog())
	svc.now = clock.Now
	return svc, repo, clock
}

func openIncident(t *testing.T, svc *Service, orgID, title string, serviceIDs ...string) *IncidentDetail {
	t.Helper()

	incident, err := svc.CreateIncident(context.Background(), orgID, CreateIncidentInput{
		Title:      title,
		ServiceIDs: serviceIDs,
	})
	require.NoError(t, err)
	return incident
}

func TestCreateIncident(t *testing.T) {
	svc, repo, _ := newTestService(t)

	incident, err := svc.CreateIncident(context.Background(), acmeID, CreateIncidentInput{
		Title:       "Elevated API Errors",
		Description: "Requests fail intermittently",
		ServiceIDs:  []string{apiID, webID, apiID},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, incident.ID)
	assert.Equal(t, acmeID, incident.OrganizationID)
	assert.Equal(t, domain.IncidentStatusInvestigating, incident.Status)
	assert.Equal(t, domain.IncidentSeverityMedium, incident.Severity)
	assert.Equal(t, clockStart, incident.StartedAt)
	assert.Nil(t, incident.ResolvedAt)
	assert.Equal(t, []string{apiID, webID}, incident.ServiceIDs)
	assert.Equal(t, []AffectedService{
		{ID: apiID, Name: "API", Status: domain.ServiceStatusMajorOutage},
		{ID: webID, Name: "Web", Status: domain.ServiceStatusOperational},
	}, incident.AffectedServices)

	require.Len(t, incident.Updates, 1)
	first := incident.Updates[0]
	assert.Equal(t, CreatedUpdateTitle, first.Title)
	assert.Equal(t, "We are investigating reports of elevated api errors. We will provide updates as we learn more.", first.Message)
	assert.Equal(t, domain.IncidentStatusInvestigating, first.Status)
	assert.Equal(t, incident.ID, first.IncidentID)

	require.Len(t, repo.txs, 1)
	assert.True(t, repo.txs[0].committed)

	stored, err := svc.GetIncident(context.Background(), incident.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{apiID, webID}, stored.ServiceIDs)
	assert.Len(t, stored.Updates, 1)
}

func TestCreateIncident_KeepsSeverityAndStart(t *testing.T) {
	svc, _, _ := newTestService(t)
	startedAt := clockStart.Add(-2 * time.Hour)

	incident, err := svc.CreateIncident(context.Background(), acmeID, CreateIncidentInput{
		Title:     "Outage",
		Severity:  domain.IncidentSeverityCritical,
		StartedAt: &startedAt,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.IncidentSeverityCritical, incident.Severity)
	assert.Equal(t, startedAt, incident.StartedAt)
	assert.Empty(t, incident.AffectedServices)
}

func TestCreateIncident_Errors(t *testing.T) {
	tests := []struct {
		name    string
		orgID   string
		input   CreateIncidentInput
		wantErr error
	}{
		{"invalid severity", acmeID, CreateIncidentInput{Title: "x", Severity: "apocalyptic"}, ErrInvalidSeverity},
		{"unknown organization", "00000000-0000-0000-0000-000000000000", CreateIncidentInput{Title: "x"}, catalog.ErrOrganizationNotFound},
		{"inactive service", acmeID, CreateIncidentInput{Title: "x", ServiceIDs: []string{legacyID}}, ErrInvalidServices},
		{"service of another organization", acmeID, CreateIncidentInput{Title: "x", ServiceIDs: []string{apiID, foreignID}}, ErrInvalidServices},
		{"unknown service", acmeID, CreateIncidentInput{Title: "x", ServiceIDs: []string{missingID}}, ErrInvalidServices},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newTestService(t)

			_, err := svc.CreateIncident(context.Background(), tt.orgID, tt.input)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, repo.incidents)
			assert.Empty(t, repo.txs)
		})
	}
}

func TestCreateIncident_RollsBackOnFailure(t *testing.T) {
	svc, repo, _ := newTestService(t)
	errDB := errors.New("connection reset")
	repo.createUpdateErr = errDB

	_, err := svc.CreateIncident(context.Background(), acmeID, CreateIncidentInput{Title: "Outage"})

	assert.ErrorIs(t, err, errDB)
	require.Len(t, repo.txs, 1)
	assert.False(t, repo.txs[0].committed)
	assert.True(t, repo.txs[0].rolledBack)
}

func TestAddUpdate_ResolveAndReopen(t *testing.T) {
	svc, repo, clock := newTestService(t)
	ctx := context.Background()
	incident := openIncident(t, svc, acmeID, "Outage", apiID)

	steps := []struct {
		status       domain.IncidentStatus
		wantResolved *time.Time
	}{
		{domain.IncidentStatusIdentified, nil},
		{domain.IncidentStatusResolved, ptr(clockStart.Add(2 * time.Minute))},
		{domain.IncidentStatusResolved, ptr(clockStart.Add(2 * time.Minute))},
		{domain.IncidentStatusMonitoring, nil},
	}

	for i, step := range steps {
		clock.Advance(time.Minute)
		update, err := svc.AddUpdate(ctx, incident.ID, AddUpdateInput{
			Status:  step.status,
			Title:   fmt.Sprintf("Step %d", i),
			Message: "details",
		})
		require.NoError(t, err)
		assert.Equal(t, clock.Now(), update.CreatedAt)
		assert.Equal(t, step.status, update.Status)

		tx := repo.txs[len(repo.txs)-1]
		assert.True(t, tx.committed)
		assert.Equal(t, 1, tx.lockReads)

		stored, err := repo.GetIncident(ctx, incident.ID)
		require.NoError(t, err)
		assert.Equal(t, step.status, stored.Status, "step %d", i)
		assert.Equal(t, step.wantResolved, stored.ResolvedAt, "step %d", i)
		assert.Equal(t, []string{apiID}, stored.ServiceIDs)
	}

	updates, err := svc.ListUpdates(ctx, incident.ID)
	require.NoError(t, err)
	require.Len(t, updates, 5)
	assert.Equal(t, "Step 3", updates[0].Title)
	assert.Equal(t, CreatedUpdateTitle, updates[4].Title)
}

func TestAddUpdate_Errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	incident := openIncident(t, svc, acmeID, "Outage")

	_, err := svc.AddUpdate(ctx, incident.ID, AddUpdateInput{Status: "closed", Title: "x", Message: "y"})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.AddUpdate(ctx, missingID, AddUpdateInput{Status: domain.IncidentStatusIdentified, Title: "x", Message: "y"})
	assert.ErrorIs(t, err, ErrIncidentNotFound)

	_, err = svc.ListUpdates(ctx, missingID)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestUpdateIncident(t *testing.T) {
	svc, repo, clock := newTestService(t)
	ctx := context.Background()
	incident := openIncident(t, svc, acmeID, "Outage", apiID)

	clock.Advance(time.Hour)
	title := "Partial outage"
	severity := domain.IncidentSeverityHigh
	resolved := domain.IncidentStatusResolved
	services := []string{webID}

	updated, err := svc.UpdateIncident(ctx, incident.ID, UpdateIncidentInput{
		Title:      &title,
		Severity:   &severity,
		Status:     &resolved,
		ServiceIDs: &services,
	})
	require.NoError(t, err)

	assert.Equal(t, "Partial outage", updated.Title)
	assert.Equal(t, domain.IncidentSeverityHigh, updated.Severity)
	assert.Equal(t, domain.IncidentStatusResolved, updated.Status)
	require.NotNil(t, updated.ResolvedAt)
	assert.Equal(t, clock.Now(), *updated.ResolvedAt)
	assert.Equal(t, clock.Now(), updated.UpdatedAt)
	assert.Equal(t, []string{webID}, updated.ServiceIDs)
	assert.Equal(t, "Web", updated.AffectedServices[0].Name)
	assert.Equal(t, 1, repo.txs[len(repo.txs)-1].lockReads)

	// Omitted fields stay as they are.
	description := "root cause found"
	updated, err = svc.UpdateIncident(ctx, incident.ID, UpdateIncidentInput{Description: &description})
	require.NoError(t, err)
	assert.Equal(t, "Partial outage", updated.Title)
	assert.Equal(t, domain.IncidentStatusResolved, updated.Status)
	assert.NotNil(t, updated.ResolvedAt)
	assert.Equal(t, []string{webID}, updated.ServiceIDs)

	// An empty list removes all services.
	empty := []string{}
	updated, err = svc.UpdateIncident(ctx, incident.ID, UpdateIncidentInput{ServiceIDs: &empty})
	require.NoError(t, err)
	assert.Empty(t, updated.ServiceIDs)
	assert.Empty(t, updated.AffectedServices)
}

func TestUpdateIncident_Errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	incident := openIncident(t, svc, acmeID, "Outage", apiID)

	badStatus := domain.IncidentStatus("closed")
	badSeverity := domain.IncidentSeverity("huge")
	foreign := []string{foreignID}

	tests := []struct {
		name    string
		id      string
		input   UpdateIncidentInput
		wantErr error
	}{
		{"invalid status", incident.ID, UpdateIncidentInput{Status: &badStatus}, ErrInvalidStatus},
		{"invalid severity", incident.ID, UpdateIncidentInput{Severity: &badSeverity}, ErrInvalidSeverity},
		{"foreign service", incident.ID, UpdateIncidentInput{ServiceIDs: &foreign}, ErrInvalidServices},
		{"unknown incident", missingID, UpdateIncidentInput{}, ErrIncidentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateIncident(ctx, tt.id, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	stored, err := svc.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{apiID}, stored.ServiceIDs)
}

func TestDeleteIncident(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	open := openIncident(t, svc, acmeID, "Outage")
	closed := openIncident(t, svc, acmeID, "Old outage")
	_, err := svc.AddUpdate(ctx, closed.ID, AddUpdateInput{Status: domain.IncidentStatusResolved, Title: "Fixed", Message: "done"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteIncident(ctx, open.ID))
	_, err = svc.GetIncident(ctx, open.ID)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
	updates, err := repo.ListIncidentUpdates(ctx, open.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, updates)

	err = svc.DeleteIncident(ctx, closed.ID)
	assert.ErrorIs(t, err, ErrResolvedIncident)
	_, err = svc.GetIncident(ctx, closed.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteIncident(ctx, missingID), ErrIncidentNotFound)
}

func TestListIncidents(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	first := openIncident(t, svc, acmeID, "First")
	clock.Advance(time.Minute)
	second := openIncident(t, svc, acmeID, "Second")
	clock.Advance(time.Minute)
	openIncident(t, svc, globexID, "Elsewhere")

	for i := range 6 {
		clock.Advance(time.Minute)
		_, err := svc.AddUpdate(ctx, first.ID, AddUpdateInput{
			Status:  domain.IncidentStatusMonitoring,
			Title:   fmt.Sprintf("Update %d", i),
			Message: "watching",
		})
		require.NoError(t, err)
	}

	all, err := svc.ListIncidents(ctx, acmeID, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
	assert.Len(t, all[1].Updates, ListUpdatesLimit)
	assert.Equal(t, "Update 5", all[1].Updates[0].Title)

	monitoring := domain.IncidentStatusMonitoring
	filtered, err := svc.ListIncidents(ctx, acmeID, ListFilter{Status: &monitoring})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, first.ID, filtered[0].ID)

	paged, err := svc.ListIncidents(ctx, acmeID, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, first.ID, paged[0].ID)

	bad := domain.IncidentStatus("closed")
	_, err = svc.ListIncidents(ctx, acmeID, ListFilter{Status: &bad})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.ListIncidents(ctx, "00000000-0000-0000-0000-000000000000", ListFilter{})
	assert.ErrorIs(t, err, catalog.ErrOrganizationNotFound)
}

func TestActiveIncidents(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	older := openIncident(t, svc, acmeID, "Older", apiID)
	clock.Advance(time.Minute)
	newer := openIncident(t, svc, acmeID, "Newer")
	clock.Advance(time.Minute)
	resolved := openIncident(t, svc, acmeID, "Resolved")
	_, err := svc.AddUpdate(ctx, resolved.ID, AddUpdateInput{Status: domain.IncidentStatusResolved, Title: "Fixed", Message: "done"})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.AddUpdate(ctx, older.ID, AddUpdateInput{Status: domain.IncidentStatusIdentified, Title: "Cause found", Message: "bad deploy"})
	require.NoError(t, err)

	active, err := svc.ActiveIncidents(ctx, acmeID)
	require.NoError(t, err)

	require.Len(t, active, 2)
	assert.Equal(t, newer.ID, active[0].ID)
	assert.Equal(t, older.ID, active[1].ID)
	require.NotNil(t, active[1].LatestUpdate)
	assert.Equal(t, "Cause found", active[1].LatestUpdate.Title)
	assert.Equal(t, []AffectedService{{ID: apiID, Name: "API", Status: domain.ServiceStatusMajorOutage}}, active[1].AffectedServices)

	none, err := svc.ActiveIncidents(ctx, globexID)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRecentIncidents(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	resolve := func(title string) string {
		incident := openIncident(t, svc, acmeID, title)
		_, err := svc.AddUpdate(ctx, incident.ID, AddUpdateInput{Status: domain.IncidentStatusResolved, Title: "Fixed", Message: "done"})
		require.NoError(t, err)
		return incident.ID
	}

	// Resolved just over RecentIncidentsWindow before the query below.
	stale := resolve("Stale")
	clock.Advance(RecentIncidentsWindow - 12*time.Hour + time.Minute)

	var ids []string
	for i := range RecentIncidentsLimit + 2 {
		ids = append(ids, resolve(fmt.Sprintf("Recent %d", i)))
		clock.Advance(time.Hour)
	}
	openIncident(t, svc, acmeID, "Still open")

	recent, err := svc.RecentIncidents(ctx, acmeID)
	require.NoError(t, err)

	require.Len(t, recent, RecentIncidentsLimit)
	assert.Equal(t, ids[len(ids)-1], recent[0].ID)
	for _, incident := range recent {
		assert.NotEqual(t, stale, incident.ID)
		assert.Equal(t, domain.IncidentStatusResolved, incident.Status)
		require.NotNil(t, incident.LatestUpdate)
		assert.Equal(t, "Fixed", incident.LatestUpdate.Title)
	}
}

func TestPublicIncidents(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	acme := openIncident(t, svc, acmeID, "Outage", apiID)
	clock.Advance(time.Minute)
	_, err := svc.AddUpdate(ctx, acme.ID, AddUpdateInput{Status: domain.IncidentStatusIdentified, Title: "Found", Message: "cause"})
	require.NoError(t, err)
	globex := openIncident(t, svc, globexID, "Billing down", foreignID)
	openIncident(t, svc, privateID, "Hidden")

	list, err := svc.PublicIncidents(ctx, "acme", DefaultPublicLimit)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Updates, 2)

	detail, err := svc.PublicIncident(ctx, "acme", acme.ID)
	require.NoError(t, err)
	assert.Equal(t, "Outage", detail.Title)
	assert.Equal(t, domain.ServiceStatusMajorOutage, detail.AffectedServices[0].Status)

	_, err = svc.PublicIncident(ctx, "acme", globex.ID)
	assert.ErrorIs(t, err, ErrIncidentNotFound)

	_, err = svc.PublicIncidents(ctx, "internal", DefaultPublicLimit)
	assert.ErrorIs(t, err, catalog.ErrOrganizationNotFound)
}

func ptr[T any](v T) *T {
	return &v
}
