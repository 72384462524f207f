package reporting

import (
	"net/http"

	"github.com/bissquit/uptime-garden/internal/catalog"
	"github.com/bissquit/uptime-garden/internal/pkg/ctxlog"
	"github.com/bissquit/uptime-garden/internal/pkg/httputil"
	"github.com/bissquit/uptime-garden/internal/uptime"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: errBadParam, Status: http.StatusBadRequest},
	{Error: uptime.ErrInvalidWindow, Status: http.StatusBadRequest},
	{Error: uptime.ErrUnsupportedPeriodKind, Status: http.StatusBadRequest},
	{Error: catalog.ErrServiceNotFound, Status: http.StatusNotFound, Message: "service not found"},
	{Error: catalog.ErrOrganizationNotFound, Status: http.StatusNotFound, Message: "organization not found"},
}

// Handler serves uptime reports and public status pages.
type Handler struct {
	service        *Service
	maxHistoryDays int
}

// NewHandler creates a new reporting handler. maxHistoryDays caps ?days=
// on the public history endpoint.
func NewHandler(service *Service, maxHistoryDays int) *Handler {
	if maxHistoryDays < 1 {
		maxHistoryDays = DefaultHistoryDays
	}
	return &Handler{
		service:        service,
		maxHistoryDays: maxHistoryDays,
	}
}

// RegisterPublicRoutes registers unauthenticated status page routes.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/status/{slug}", h.GetStatusPage)
	r.Get("/status/{slug}/history", h.GetStatusHistory)
}

// RegisterRoutes registers staff uptime routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/services/{id}/uptime", h.GetServiceUptime)
	r.Get("/services/{id}/uptime/{period}", h.GetServiceSeries)
	r.Get("/organizations/{id}/uptime/{period}", h.GetOrganizationSeries)
}

// GetStatusPage handles GET /status/{slug} request.
func (h *Handler) GetStatusPage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	ctx := ctxlog.With(r.Context(), "slug", slug)

	page, err := h.service.StatusPage(ctx, slug)
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, page)
}

// GetStatusHistory handles GET /status/{slug}/history request.
func (h *Handler) GetStatusHistory(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r.URL.Query(), h.maxHistoryDays)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	slug := chi.URLParam(r, "slug")
	ctx := ctxlog.With(r.Context(), "slug", slug, "days", days)

	history, err := h.service.StatusHistory(ctx, slug, days)
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, history)
}

// GetServiceUptime handles GET /services/{id}/uptime request.
func (h *Handler) GetServiceUptime(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "service")
	if !ok {
		return
	}

	query, err := parseUptimeQuery(r.URL.Query(), h.service.clock())
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := ctxlog.With(r.Context(), "service_id", id)

	var report *ServiceUptime
	if query.window != nil {
		report, err = h.service.ServiceUptime(ctx, id, *query.window)
	} else {
		report, err = h.service.TrailingServiceUptime(ctx, id, query.trailing)
	}
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, report)
}

// GetServiceSeries handles GET /services/{id}/uptime/{period} request.
func (h *Handler) GetServiceSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "service")
	if !ok {
		return
	}

	kind, err := uptime.ParsePeriodKind(chi.URLParam(r, "period"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	ctx := ctxlog.With(r.Context(), "service_id", id, "period", kind)

	series, err := h.service.ServiceSeries(ctx, id, kind)
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, series)
}

// GetOrganizationSeries handles GET /organizations/{id}/uptime/{period} request.
func (h *Handler) GetOrganizationSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "organization")
	if !ok {
		return
	}

	kind, err := uptime.ParsePeriodKind(chi.URLParam(r, "period"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	ctx := ctxlog.With(r.Context(), "organization_id", id, "period", kind)

	series, err := h.service.OrganizationSeries(ctx, id, kind)
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, series)
}

func pathID(w http.ResponseWriter, r *http.Request, kind string) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid "+kind+" id")
		return "", false
	}
	return id.String(), true
}
