// Package reporting builds uptime reports and public status pages by
// reading the catalog status log and running the uptime engine over it.
package reporting

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/bissquit/uptime-garden/internal/events"
	"github.com/bissquit/uptime-garden/internal/uptime"
	"golang.org/x/sync/errgroup"
)

// Catalog is the read side of the catalog module used for reporting.
type Catalog interface {
	GetService(ctx context.Context, id string) (*domain.Service, error)
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	GetPublicOrganization(ctx context.Context, slug string) (*domain.Organization, error)
	ListOrganizationServices(ctx context.Context, organizationID string, includeInactive bool) ([]domain.Service, error)
	ListStatusEvents(ctx context.Context, serviceID string, from, to time.Time) ([]domain.StatusEvent, error)
	LatestStatusEventBefore(ctx context.Context, serviceID string, t time.Time) (*domain.StatusEvent, bool, error)
}

// Incidents lists the incidents shown on a status page.
type Incidents interface {
	ActiveIncidents(ctx context.Context, organizationID string) ([]events.IncidentSummary, error)
	RecentIncidents(ctx context.Context, organizationID string) ([]events.IncidentSummary, error)
}

// Config holds reporting settings.
type Config struct {
	// Location floors daily and hourly buckets and status history days.
	Location    *time.Location
	FleetWindow time.Duration
	// Concurrency bounds per-service fan-out within one report.
	Concurrency int
}

// Service builds uptime reports.
type Service struct {
	catalog   Catalog
	incidents Incidents
	cfg       Config
	now       func() time.Time
}

// NewService creates a new reporting service. Status pages list no
// incidents when incidents is nil.
func NewService(catalog Catalog, incidents Incidents, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.FleetWindow <= 0 {
		cfg.FleetWindow = uptime.DefaultFleetWindow
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Service{
		catalog:   catalog,
		incidents: incidents,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ServiceUptime is the uptime of one service over an explicit window.
type ServiceUptime struct {
	ServiceID string    `json:"service_id"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Uptime    float64   `json:"uptime_percentage"`
}

// SeriesPoint is one bucket of an uptime series.
type SeriesPoint struct {
	Label  string    `json:"label"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Uptime float64   `json:"uptime_percentage"`
}

// ServiceSeries is a bucketed uptime series for one service.
type ServiceSeries struct {
	ServiceID   string        `json:"service_id"`
	ServiceName string        `json:"service_name"`
	Period      string        `json:"period"`
	Description string        `json:"description"`
	Points      []SeriesPoint `json:"data_points"`
	Overall     float64       `json:"overall_uptime"`
}

// OrganizationSeries holds the series of every active service of an
// organization and their mean.
type OrganizationSeries struct {
	OrganizationID string          `json:"organization_id"`
	Period         string          `json:"period"`
	Description    string          `json:"description"`
	Services       []ServiceSeries `json:"services"`
	Overall        float64         `json:"overall_uptime"`
}

// StatusPage is the public summary of an organization.
type StatusPage struct {
	Organization       PageOrganization         `json:"organization"`
	OverallStatus      string                   `json:"overall_status"`
	OverallStatusLabel string                   `json:"overall_status_label"`
	Uptime             float64                  `json:"uptime_percentage"`
	UptimeWindowDays   float64                  `json:"uptime_window_days"`
	Services           []PageService            `json:"services"`
	ActiveIncidents    []events.IncidentSummary `json:"active_incidents"`
	RecentIncidents    []events.IncidentSummary `json:"recent_incidents"`
	GeneratedAt        time.Time                `json:"generated_at"`
}

// PageOrganization is the public part of an organization.
type PageOrganization struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	WebsiteURL  string `json:"website_url"`
	LogoURL     string `json:"logo_url"`
}

// PageService is a service as shown on the status page.
type PageService struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Status           string    `json:"status"`
	StatusLabel      string    `json:"status_label"`
	LastStatusChange time.Time `json:"last_status_change"`
	Uptime           float64   `json:"uptime_percentage"`
}

// StatusHistory holds the daily status of every active service of an organization.
type StatusHistory struct {
	Organization string           `json:"organization"`
	Days         int              `json:"days"`
	Services     []ServiceHistory `json:"services"`
}

// ServiceHistory is the daily status of one service, oldest day first.
type ServiceHistory struct {
	ServiceID   string       `json:"service_id"`
	ServiceName string       `json:"service_name"`
	Days        []DailyEntry `json:"history"`
}

// DailyEntry is the status a service held at the end of a day.
type DailyEntry struct {
	Date   string `json:"date"`
	Status string `json:"status"`
}

// ServiceUptime computes the uptime of a service over w.
func (s *Service) ServiceUptime(ctx context.Context, serviceID string, w uptime.Window) (report *ServiceUptime, err error) {
	defer observe(reportServiceUptime, time.Now(), &err)

	if err := w.Validate(); err != nil {
		return nil, err
	}

	service, err := s.catalog.GetService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}

	statusEvents, err := s.catalog.ListStatusEvents(ctx, serviceID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}
	recordEventsScanned(reportServiceUptime, len(statusEvents))

	return &ServiceUptime{
		ServiceID: serviceID,
		From:      w.Start,
		To:        w.End,
		Uptime:    round2(uptime.Reconstruct(service.Snapshot(), statusEvents, w)),
	}, nil
}

// TrailingServiceUptime computes the uptime of a service over the last d.
func (s *Service) TrailingServiceUptime(ctx context.Context, serviceID string, d time.Duration) (*ServiceUptime, error) {
	return s.ServiceUptime(ctx, serviceID, uptime.TrailingWindow(s.clock(), d))
}

// ServiceSeries builds the bucketed series of one service.
func (s *Service) ServiceSeries(ctx context.Context, serviceID string, kind uptime.PeriodKind) (report *ServiceSeries, err error) {
	defer observe(reportServiceSeries, time.Now(), &err)

	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", uptime.ErrUnsupportedPeriodKind, kind)
	}

	service, err := s.catalog.GetService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}

	series, err := s.buildSeries(ctx, reportServiceSeries, *service, kind, s.clock())
	if err != nil {
		return nil, err
	}
	return series, nil
}

// OrganizationSeries builds the series of every active service of an
// organization. Overall is the mean of the per-service overalls.
func (s *Service) OrganizationSeries(ctx context.Context, organizationID string, kind uptime.PeriodKind) (report *OrganizationSeries, err error) {
	defer observe(reportOrganizationSeries, time.Now(), &err)

	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", uptime.ErrUnsupportedPeriodKind, kind)
	}

	if _, err := s.catalog.GetOrganization(ctx, organizationID); err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	services, err := s.catalog.ListOrganizationServices(ctx, organizationID, false)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	now := s.clock()
	result := make([]ServiceSeries, len(services))
	err = s.fanOut(ctx, services, func(ctx context.Context, i int, service domain.Service) error {
		series, err := s.buildSeries(ctx, reportOrganizationSeries, service, kind, now)
		if err != nil {
			return err
		}
		result[i] = *series
		return nil
	})
	if err != nil {
		return nil, err
	}

	overalls := make([]uptime.Series, len(result))
	for i, series := range result {
		overalls[i] = uptime.Series{Kind: kind, Overall: series.Overall}
	}

	return &OrganizationSeries{
		OrganizationID: organizationID,
		Period:         string(kind),
		Description:    kind.Description(),
		Services:       result,
		Overall:        uptime.AggregateSeries(overalls),
	}, nil
}

// StatusPage builds the public status page of an organization.
func (s *Service) StatusPage(ctx context.Context, slug string) (report *StatusPage, err error) {
	defer observe(reportStatusPage, time.Now(), &err)

	org, err := s.catalog.GetPublicOrganization(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	services, err := s.catalog.ListOrganizationServices(ctx, org.ID, false)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	now := s.clock()
	w := uptime.TrailingWindow(now, s.cfg.FleetWindow)

	histories := make([]uptime.History, len(services))
	err = s.fanOut(ctx, services, func(ctx context.Context, i int, service domain.Service) error {
		statusEvents, err := s.catalog.ListStatusEvents(ctx, service.ID, w.Start, w.End)
		if err != nil {
			return fmt.Errorf("list status events for service %s: %w", service.ID, err)
		}
		recordEventsScanned(reportStatusPage, len(statusEvents))
		histories[i] = uptime.History{Snapshot: service.Snapshot(), Events: statusEvents}
		return nil
	})
	if err != nil {
		return nil, err
	}

	snapshots := make([]domain.ServiceSnapshot, len(services))
	pageServices := make([]PageService, len(services))
	for i, service := range services {
		snapshots[i] = histories[i].Snapshot
		pageServices[i] = PageService{
			ID:               service.ID,
			Name:             service.Name,
			Description:      service.Description,
			Status:           string(service.Status),
			StatusLabel:      service.Status.Label(),
			LastStatusChange: service.LastStatusChange,
			Uptime:           round2(uptime.Reconstruct(histories[i].Snapshot, histories[i].Events, w)),
		}
	}

	overall := uptime.OverallStatus(snapshots)

	active, recent, err := s.pageIncidents(ctx, org.ID)
	if err != nil {
		return nil, err
	}

	return &StatusPage{
		Organization: PageOrganization{
			Name:        org.Name,
			Slug:        org.Slug,
			Description: org.Description,
			WebsiteURL:  org.WebsiteURL,
			LogoURL:     org.LogoURL,
		},
		OverallStatus:      string(overall),
		OverallStatusLabel: overall.Label(),
		Uptime:             uptime.FleetUptime(histories, w),
		UptimeWindowDays:   s.cfg.FleetWindow.Hours() / 24,
		Services:           pageServices,
		ActiveIncidents:    active,
		RecentIncidents:    recent,
		GeneratedAt:        now,
	}, nil
}

func (s *Service) pageIncidents(ctx context.Context, organizationID string) (active, recent []events.IncidentSummary, err error) {
	if s.incidents == nil {
		return []events.IncidentSummary{}, []events.IncidentSummary{}, nil
	}
	if active, err = s.incidents.ActiveIncidents(ctx, organizationID); err != nil {
		return nil, nil, fmt.Errorf("list active incidents: %w", err)
	}
	if recent, err = s.incidents.RecentIncidents(ctx, organizationID); err != nil {
		return nil, nil, fmt.Errorf("list recent incidents: %w", err)
	}
	return active, recent, nil
}

// StatusHistory returns the status of every active service of a public
// organization at the end of each of the last days days.
func (s *Service) StatusHistory(ctx context.Context, slug string, days int) (report *StatusHistory, err error) {
	defer observe(reportStatusHistory, time.Now(), &err)

	org, err := s.catalog.GetPublicOrganization(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	services, err := s.catalog.ListOrganizationServices(ctx, org.ID, false)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	now := s.clock()
	w := uptime.HistoryRange(days, now)

	result := make([]ServiceHistory, len(services))
	err = s.fanOut(ctx, services, func(ctx context.Context, i int, service domain.Service) error {
		statusEvents, err := s.catalog.ListStatusEvents(ctx, service.ID, w.Start, w.End)
		if err != nil {
			return fmt.Errorf("list status events for service %s: %w", service.ID, err)
		}
		seed, found, err := s.catalog.LatestStatusEventBefore(ctx, service.ID, w.Start)
		if err != nil {
			return fmt.Errorf("get status before window for service %s: %w", service.ID, err)
		}
		if found {
			statusEvents = append([]domain.StatusEvent{*seed}, statusEvents...)
		}
		recordEventsScanned(reportStatusHistory, len(statusEvents))

		statuses := uptime.DailyStatusHistory(service.Snapshot(), statusEvents, days, now)
		entries := make([]DailyEntry, len(statuses))
		for j, st := range statuses {
			entries[j] = DailyEntry{Date: st.Date, Status: string(st.Status)}
		}
		result[i] = ServiceHistory{
			ServiceID:   service.ID,
			ServiceName: service.Name,
			Days:        entries,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &StatusHistory{
		Organization: org.Slug,
		Days:         days,
		Services:     result,
	}, nil
}

func (s *Service) buildSeries(ctx context.Context, report string, service domain.Service, kind uptime.PeriodKind, now time.Time) (*ServiceSeries, error) {
	r, err := kind.Range(now)
	if err != nil {
		return nil, err
	}

	statusEvents, err := s.catalog.ListStatusEvents(ctx, service.ID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("list status events for service %s: %w", service.ID, err)
	}
	recordEventsScanned(report, len(statusEvents))

	series, err := uptime.Bucket(service.Snapshot(), statusEvents, kind, now)
	if err != nil {
		return nil, err
	}

	points := make([]SeriesPoint, len(series.Points))
	for i, p := range series.Points {
		points[i] = SeriesPoint{
			Label:  p.Label,
			Start:  p.Start,
			End:    p.End,
			Uptime: round2(p.Uptime),
		}
	}

	return &ServiceSeries{
		ServiceID:   service.ID,
		ServiceName: service.Name,
		Period:      string(kind),
		Description: kind.Description(),
		Points:      points,
		Overall:     series.Overall,
	}, nil
}

// fanOut runs fn for every service with at most cfg.Concurrency running at
// once. The first error cancels the rest.
func (s *Service) fanOut(ctx context.Context, services []domain.Service, fn func(ctx context.Context, i int, service domain.Service) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, service := range services {
		g.Go(func() error {
			return fn(gctx, i, service)
		})
	}
	return g.Wait()
}

func (s *Service) clock() time.Time {
	return s.now().In(s.cfg.Location)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
