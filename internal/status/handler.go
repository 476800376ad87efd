package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/beaconhq/beacon/internal/domain"
	"github.com/beaconhq/beacon/internal/pages"
	"github.com/beaconhq/beacon/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrReportNotFound, Status: http.StatusNotFound, Message: "status report not found"},
	{Error: ErrMaintenanceNotFound, Status: http.StatusNotFound, Message: "maintenance not found"},
	{Error: ErrInvalidStatus, Status: http.StatusBadRequest, Message: "invalid report status"},
	{Error: ErrInvalidWindow, Status: http.StatusBadRequest, Message: "maintenance window end must be after start"},
	{Error: pages.ErrPageNotFound, Status: http.StatusNotFound, Message: "page not found"},
}

// Handler handles the operator HTTP surface for reports and maintenances.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new status handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers the operator routes. The caller is expected to
// wrap them with operator authentication.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/reports", h.CreateReport)
	r.Post("/reports/{id}/updates", h.AddReportUpdate)
	r.Post("/maintenances", h.CreateMaintenance)
	r.Post("/maintenances/{id}/notify", h.NotifyMaintenance)
}

// CreateReportRequest represents request body for creating a report.
type CreateReportRequest struct {
	PageID       int64   `json:"page_id" validate:"required,gt=0"`
	Title        string  `json:"title" validate:"required,max=200"`
	Status       string  `json:"status" validate:"required,oneof=investigating identified monitoring resolved"`
	Message      string  `json:"message" validate:"required"`
	ComponentIDs []int64 `json:"component_ids" validate:"dive,gt=0"`
}

// CreateReport handles POST /reports.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	report, err := h.service.CreateReport(r.Context(), CreateReportInput{
		PageID:       req.PageID,
		Title:        req.Title,
		Status:       domain.ReportStatus(req.Status),
		Message:      req.Message,
		ComponentIDs: req.ComponentIDs,
	})
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, report)
}

// AddReportUpdateRequest represents request body for appending an update.
type AddReportUpdateRequest struct {
	Status  string `json:"status" validate:"required,oneof=investigating identified monitoring resolved"`
	Message string `json:"message" validate:"required"`
}

// AddReportUpdate handles POST /reports/{id}/updates.
func (h *Handler) AddReportUpdate(w http.ResponseWriter, r *http.Request) {
	reportID, err := pathID(r, "id")
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid report id")
		return
	}

	var req AddReportUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	update, err := h.service.AddReportUpdate(r.Context(), reportID, domain.ReportStatus(req.Status), req.Message)
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, update)
}

// CreateMaintenanceRequest represents request body for scheduling a
// maintenance window.
type CreateMaintenanceRequest struct {
	PageID       int64     `json:"page_id" validate:"required,gt=0"`
	Title        string    `json:"title" validate:"required,max=200"`
	Message      string    `json:"message" validate:"required"`
	ComponentIDs []int64   `json:"component_ids" validate:"dive,gt=0"`
	StartsAt     time.Time `json:"starts_at" validate:"required"`
	EndsAt       time.Time `json:"ends_at" validate:"required"`
}

// CreateMaintenance handles POST /maintenances.
func (h *Handler) CreateMaintenance(w http.ResponseWriter, r *http.Request) {
	var req CreateMaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	m, err := h.service.CreateMaintenance(r.Context(), CreateMaintenanceInput{
		PageID:       req.PageID,
		Title:        req.Title,
		Message:      req.Message,
		ComponentIDs: req.ComponentIDs,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
	})
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, m)
}

// NotifyMaintenance handles POST /maintenances/{id}/notify.
func (h *Handler) NotifyMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid maintenance id")
		return
	}

	if err := h.service.NotifyMaintenance(r.Context(), id); err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusAccepted, map[string]string{"message": "notification dispatch started"})
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	var compErr *UnknownComponentsError
	if errors.As(err, &compErr) {
		httputil.ValidationError(w, compErr)
		return
	}
	httputil.HandleError(ctx, w, err, errorMappings)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
