// Package catalog manages organizations and services and owns the
// append-only status log every uptime figure is reconstructed from.
package catalog

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bissquit/uptime-garden/internal/domain"
	"github.com/bissquit/uptime-garden/internal/pkg/ctxlog"
	"github.com/bissquit/uptime-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Pagination constants.
const (
	DefaultStatusLogLimit = 50
	MaxStatusLogLimit     = 100
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrOrganizationNotFound, Status: http.StatusNotFound},
	{Error: ErrServiceNotFound, Status: http.StatusNotFound},
	{Error: ErrOrganizationSlugExists, Status: http.StatusConflict},
	{Error: ErrServiceInactive, Status: http.StatusConflict},
	{Error: ErrInvalidStatus, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the catalog module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers catalog routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/organizations", h.ListOrganizations)
	r.Post("/organizations", h.CreateOrganization)
	r.Get("/organizations/{id}", h.GetOrganization)
	r.Get("/organizations/{id}/services", h.ListServices)
	r.Post("/organizations/{id}/services", h.CreateService)

	r.Get("/services/{id}", h.GetService)
	r.Patch("/services/{id}", h.UpdateService)
	r.Delete("/services/{id}", h.DeactivateService)
	r.Patch("/services/{id}/status", h.ChangeStatus)
	r.Get("/services/{id}/status-log", h.GetStatusLog)
}

// CreateOrganizationRequest represents the request body for creating an organization.
type CreateOrganizationRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Slug        string `json:"slug" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=2000"`
	WebsiteURL  string `json:"website_url" validate:"omitempty,url"`
	LogoURL     string `json:"logo_url" validate:"omitempty,url"`
	IsPublic    *bool  `json:"is_public"`
}

// ToDomain converts the request to a domain model. Organizations are public unless stated otherwise.
func (r *CreateOrganizationRequest) ToDomain() *domain.Organization {
	isPublic := true
	if r.IsPublic != nil {
		isPublic = *r.IsPublic
	}
	return &domain.Organization{
		Name:        r.Name,
		Slug:        r.Slug,
		Description: r.Description,
		WebsiteURL:  r.WebsiteURL,
		LogoURL:     r.LogoURL,
		IsPublic:    isPublic,
	}
}

// ServiceRequest represents the request body for creating or updating a service.
type ServiceRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=2000"`
	SortOrder   int    `json:"sort_order"`
}

// ChangeStatusRequest represents the request body for a status change.
type ChangeStatusRequest struct {
	Status    string `json:"status" validate:"required,oneof=operational degraded_performance partial_outage major_outage maintenance"`
	Reason    string `json:"reason" validate:"max=1000"`
	Automated bool   `json:"automated"`
}

// CreateOrganization handles POST /organizations request.
func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganizationRequest
	if !h.decode(w, r, &req) {
		return
	}

	org := req.ToDomain()
	if err := h.service.CreateOrganization(r.Context(), org); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, org)
}

// GetOrganization handles GET /organizations/{id} request.
func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "organization")
	if !ok {
		return
	}

	org, err := h.service.GetOrganization(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, org)
}

// ListOrganizations handles GET /organizations request.
func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.service.ListOrganizations(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, orgs)
}

// CreateService handles POST /organizations/{id}/services request.
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(w, r, "organization")
	if !ok {
		return
	}

	var req ServiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	service, err := h.service.CreateService(r.Context(), orgID, CreateServiceInput{
		Name:        req.Name,
		Description: req.Description,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, service)
}

// ListServices handles GET /organizations/{id}/services request.
// Inactive services are included with ?include_inactive=true.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(w, r, "organization")
	if !ok {
		return
	}

	includeInactive := false
	if v := r.URL.Query().Get("include_inactive"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "include_inactive must be a boolean")
			return
		}
		includeInactive = parsed
	}

	services, err := h.service.ListServices(r.Context(), orgID, includeInactive)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, services)
}

// GetService handles GET /services/{id} request.
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "service")
	if !ok {
		return
	}

	service, err := h.service.GetService(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, service)
}

// UpdateService handles PATCH /services/{id} request.
func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "service")
	if !ok {
		return
	}

	var req ServiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	service, err := h.service.UpdateService(r.Context(), id, UpdateServiceInput{
		Name:        req.Name,
		Description: req.Description,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, service)
}

// DeactivateService handles DELETE /services/{id} request.
func (h *Handler) DeactivateService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "service")
	if !ok {
		return
	}

	if err := h.service.DeactivateService(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.NoContent(w)
}

// ChangeStatus handles PATCH /services/{id}/status request.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "service")
	if !ok {
		return
	}

	var req ChangeStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := ctxlog.With(r.Context(), "service_id", id)

	service, err := h.service.ChangeStatus(ctx, id, ChangeStatusInput{
		Status:    domain.ServiceStatus(req.Status),
		Reason:    req.Reason,
		Automated: req.Automated,
	})
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, service)
}

// GetStatusLog handles GET /services/{id}/status-log request.
func (h *Handler) GetStatusLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "service")
	if !ok {
		return
	}

	limit := DefaultStatusLogLimit
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > MaxStatusLogLimit {
			parsed = MaxStatusLogLimit
		}
		limit = parsed
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			httputil.Error(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}

	entries, total, err := h.service.ListStatusLog(r.Context(), id, limit, offset)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
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

// pathID reads the {id} URL parameter and rejects anything that is not a UUID.
func pathID(w http.ResponseWriter, r *http.Request, kind string) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid "+kind+" id")
		return "", false
	}
	return id.String(), true
}
