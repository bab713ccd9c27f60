package eliminationhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/elimination"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Scheduler enqueues elimination runs for the worker.
type Scheduler interface {
	ScheduleElimination(ctx context.Context, req elimination.RunRequest) (string, error)
}

// Handler exposes elimination previews and run scheduling.
type Handler struct {
	logger         *slog.Logger
	service        *elimination.Service
	scheduler      Scheduler
	defaultAccount string
}

// NewHandler constructs the HTTP handler. scheduler may be nil, in which case
// run scheduling is not mounted.
func NewHandler(logger *slog.Logger, service *elimination.Service, scheduler Scheduler, defaultAccount string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, scheduler: scheduler, defaultAccount: defaultAccount}
}

// MountRoutes registers elimination routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/eliminations", func(r chi.Router) {
		r.Post("/preview", h.preview)
		if h.scheduler != nil {
			r.Post("/runs", h.schedule)
		}
	})
}

type runBody struct {
	ConsolidationEntityID  string `json:"consolidationEntityId"`
	EliminationAccountCode string `json:"eliminationAccountCode"`
	From                   string `json:"from"`
	To                     string `json:"to"`
}

type previewResponse struct {
	Entries []journals.JournalEntryDTO `json:"entries"`
}

type scheduleResponse struct {
	TaskID string `json:"taskId"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (elimination.RunRequest, bool) {
	tenantID, _, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return elimination.RunRequest{}, false
	}
	var body runBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.CodedProblem(w, http.StatusBadRequest, accounting.CodeValidation, "Invalid Body", err.Error())
		return elimination.RunRequest{}, false
	}
	req := elimination.RunRequest{
		TenantID:               tenantID,
		ConsolidationEntityID:  strings.TrimSpace(body.ConsolidationEntityID),
		EliminationAccountCode: strings.TrimSpace(body.EliminationAccountCode),
		From:                   body.From,
		To:                     body.To,
	}
	if req.EliminationAccountCode == "" {
		req.EliminationAccountCode = h.defaultAccount
	}
	return req, true
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	entries, err := h.service.Generate(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := previewResponse{Entries: make([]journals.JournalEntryDTO, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, journals.ToDTO(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if _, _, err := req.Window(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := h.scheduler.ScheduleElimination(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, scheduleResponse{TaskID: id})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if accounting.Describe(err).Code == accounting.CodeInternal {
		h.logger.Error("elimination request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
