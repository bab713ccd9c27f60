package periods

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes period lifecycle transitions.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the period endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/periods/{periodID}/transition", h.Transition)
}

type transitionRequest struct {
	Status string `json:"status"`
}

type periodDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Status    string `json:"status"`
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	target := accounting.PeriodStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	switch target {
	case accounting.PeriodStatusOpen, accounting.PeriodStatusSoftClosed, accounting.PeriodStatusHardClosed:
	default:
		httpx.RespondError(w, &accounting.ValidationError{Violations: []string{"status: must be OPEN, SOFT_CLOSED or HARD_CLOSED"}})
		return
	}
	period, err := h.service.Transition(r.Context(), tenantID, chi.URLParam(r, "periodID"), userID, target)
	switch {
	case errors.Is(err, ErrPeriodNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	case errors.Is(err, ErrInvalidTransition):
		httpx.CodedProblem(w, http.StatusConflict, "INVALID_TRANSITION", "Conflict", err.Error())
		return
	case err != nil:
		h.logger.Error("period transition", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, periodDTO{
		ID:        period.ID,
		Name:      period.Name,
		StartDate: period.StartDate.Format(accounting.DateLayout),
		EndDate:   period.EndDate.Format(accounting.DateLayout),
		Status:    string(period.Status),
	})
}
