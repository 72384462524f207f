package events

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bissquit/uptime-garden/internal/catalog"
	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/bissquit/uptime-garden/internal/pkg/ctxlog"
	"github.com/bissquit/uptime-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Pagination constants.
const (
	DefaultListLimit   = 50
	DefaultPublicLimit = 20
	MaxListLimit       = 100
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: ErrIncidentNotFound.Error()},
	{Error: ErrInvalidStatus, Status: http.StatusBadRequest, Message: ErrInvalidStatus.Error()},
	{Error: ErrInvalidSeverity, Status: http.StatusBadRequest, Message: ErrInvalidSeverity.Error()},
	{Error: ErrInvalidServices, Status: http.StatusBadRequest},
	{Error: ErrResolvedIncident, Status: http.StatusBadRequest, Message: ErrResolvedIncident.Error()},
	{Error: catalog.ErrOrganizationNotFound, Status: http.StatusNotFound, Message: "organization not found"},
}

// Handler handles HTTP requests for incidents.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incident handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterPublicRoutes registers unauthenticated incident routes.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/status/{slug}/incidents", h.ListPublicIncidents)
	r.Get("/status/{slug}/incidents/{id}", h.GetPublicIncident)
}

// RegisterRoutes registers staff incident routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/organizations/{id}/incidents", h.ListIncidents)
	r.Post("/organizations/{id}/incidents", h.CreateIncident)

	r.Get("/incidents/{id}", h.GetIncident)
	r.Patch("/incidents/{id}", h.UpdateIncident)
	r.Delete("/incidents/{id}", h.DeleteIncident)
	r.Get("/incidents/{id}/updates", h.ListUpdates)
	r.Post("/incidents/{id}/updates", h.AddUpdate)
}

// CreateIncidentRequest represents the request body for opening an incident.
type CreateIncidentRequest struct {
	Title              string     `json:"title" validate:"required,min=1,max=255"`
	Description        string     `json:"description" validate:"max=5000"`
	Severity           string     `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	StartedAt          *time.Time `json:"started_at"`
	AffectedServiceIDs []string   `json:"affected_service_ids" validate:"dive,uuid"`
}

// UpdateIncidentRequest represents the request body for editing an incident.
// Omitted fields are left unchanged.
type UpdateIncidentRequest struct {
	Title              *string   `json:"title" validate:"omitempty,min=1,max=255"`
	Description        *string   `json:"description" validate:"omitempty,max=5000"`
	Status             *string   `json:"status" validate:"omitempty,oneof=investigating identified monitoring resolved"`
	Severity           *string   `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	AffectedServiceIDs *[]string `json:"affected_service_ids" validate:"omitempty,dive,uuid"`
}

// ToInput converts the request to service input.
func (r *UpdateIncidentRequest) ToInput() UpdateIncidentInput {
	input := UpdateIncidentInput{
		Title:       r.Title,
		Description: r.Description,
		ServiceIDs:  r.AffectedServiceIDs,
	}
	if r.Status != nil {
		status := domain.IncidentStatus(*r.Status)
		input.Status = &status
	}
	if r.Severity != nil {
		severity := domain.IncidentSeverity(*r.Severity)
		input.Severity = &severity
	}
	return input
}

// AddUpdateRequest represents the request body for a timeline entry.
type AddUpdateRequest struct {
	Status  string `json:"status" validate:"required,oneof=investigating identified monitoring resolved"`
	Title   string `json:"title" validate:"required,min=1,max=255"`
	Message string `json:"message" validate:"required,min=1,max=5000"`
}

// CreateIncident handles POST /organizations/{id}/incidents request.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(w, r, "id", "organization")
	if !ok {
		return
	}

	var req CreateIncidentRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := ctxlog.With(r.Context(), "organization_id", orgID)

	incident, err := h.service.CreateIncident(ctx, orgID, CreateIncidentInput{
		Title:       req.Title,
		Description: req.Description,
		Severity:    domain.IncidentSeverity(req.Severity),
		StartedAt:   req.StartedAt,
		ServiceIDs:  req.AffectedServiceIDs,
	})
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// ListIncidents handles GET /organizations/{id}/incidents request.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(w, r, "id", "organization")
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, ok := queryInt(w, q, "limit", DefaultListLimit, 1)
	if !ok {
		return
	}
	offset, ok := queryInt(w, q, "offset", 0, 0)
	if !ok {
		return
	}

	filter := ListFilter{Limit: min(limit, MaxListLimit), Offset: offset}
	if v := q.Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		filter.Status = &status
	}

	incidents, err := h.service.ListIncidents(r.Context(), orgID, filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incidents)
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "incident")
	if !ok {
		return
	}

	incident, err := h.service.GetIncident(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// UpdateIncident handles PATCH /incidents/{id} request.
func (h *Handler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "incident")
	if !ok {
		return
	}

	var req UpdateIncidentRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := ctxlog.With(r.Context(), "incident_id", id)

	incident, err := h.service.UpdateIncident(ctx, id, req.ToInput())
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// DeleteIncident handles DELETE /incidents/{id} request.
func (h *Handler) DeleteIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "incident")
	if !ok {
		return
	}

	ctx := ctxlog.With(r.Context(), "incident_id", id)

	if err := h.service.DeleteIncident(ctx, id); err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.NoContent(w)
}

// AddUpdate handles POST /incidents/{id}/updates request.
func (h *Handler) AddUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "incident")
	if !ok {
		return
	}

	var req AddUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := ctxlog.With(r.Context(), "incident_id", id)

	update, err := h.service.AddUpdate(ctx, id, AddUpdateInput{
		Status:  domain.IncidentStatus(req.Status),
		Title:   req.Title,
		Message: req.Message,
	})
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, update)
}

// ListUpdates handles GET /incidents/{id}/updates request.
func (h *Handler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "incident")
	if !ok {
		return
	}

	updates, err := h.service.ListUpdates(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, updates)
}

// ListPublicIncidents handles GET /status/{slug}/incidents request.
func (h *Handler) ListPublicIncidents(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r.URL.Query(), "limit", DefaultPublicLimit, 1)
	if !ok {
		return
	}

	slug := chi.URLParam(r, "slug")
	ctx := ctxlog.With(r.Context(), "slug", slug)

	incidents, err := h.service.PublicIncidents(ctx, slug, min(limit, MaxListLimit))
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incidents)
}

// GetPublicIncident handles GET /status/{slug}/incidents/{id} request.
func (h *Handler) GetPublicIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "incident")
	if !ok {
		return
	}

	slug := chi.URLParam(r, "slug")
	ctx := ctxlog.With(r.Context(), "slug", slug, "incident_id", id)

	incident, err := h.service.PublicIncident(ctx, slug, id)
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

// pathID reads a UUID URL parameter.
func pathID(w http.ResponseWriter, r *http.Request, param, kind string) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid "+kind+" id")
		return "", false
	}
	return id.String(), true
}

// queryInt reads an integer query parameter that must be at least minValue.
func queryInt(w http.ResponseWriter, q url.Values, name string, def, minValue int) (int, bool) {
	v := q.Get(name)
	if v == "" {
		return def, true
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < minValue {
		httputil.Error(w, http.StatusBadRequest, name+" must be an integer of at least "+strconv.Itoa(minValue))
		return 0, false
	}
	return parsed, true
}
