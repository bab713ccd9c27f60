package accounts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the chart of accounts endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.List)
}

type accountDTO struct {
	ID                 string `json:"id"`
	Code               string `json:"code"`
	Name               string `json:"name"`
	Type               string `json:"type"`
	NormalBalance      string `json:"normalBalance"`
	IsSystemControlled bool   `json:"isSystemControlled"`
	AllowsIntercompany bool   `json:"allowsIntercompany"`
	ExternalMapping    string `json:"externalMapping,omitempty"`
}

func toDTO(a accounting.Account) accountDTO {
	return accountDTO{
		ID:                 a.ID,
		Code:               a.Code,
		Name:               a.Name,
		Type:               string(a.Type),
		NormalBalance:      string(a.NormalBalance),
		IsSystemControlled: a.IsSystemControlled,
		AllowsIntercompany: a.AllowsIntercompany,
		ExternalMapping:    a.ExternalMapping,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	accounts, err := h.service.List(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]accountDTO, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toDTO(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": out})
}
