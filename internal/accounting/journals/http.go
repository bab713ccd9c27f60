package journals

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// IdempotencyHeader carries the client's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes journal posting and balance queries over HTTP.
type Handler struct {
	logger   *slog.Logger
	commands *CommandHandler
	balances *balances.Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, commands *CommandHandler, balanceService *balances.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, commands: commands, balances: balanceService}
}

// MountRoutes registers the journal routes. posting wraps write routes,
// typically with a rate limiter.
func (h *Handler) MountRoutes(r chi.Router, posting ...func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(posting...)
		r.Post("/journal-entries", h.Create)
		r.Post("/journal-entries/{id}/reverse", h.Reverse)
	})
	r.Get("/journal-entries/{id}", h.Get)
	r.Get("/balances", h.Balance)
}

// Create posts a journal entry. 201 on first execution, 200 on replay.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var cmd CreateJournalEntryCommand
	if err := httpx.DecodeJSON(r, &cmd); err != nil {
		httpx.CodedProblem(w, http.StatusBadRequest, accounting.CodeValidation, "Invalid Body", err.Error())
		return
	}
	cmd.TenantID = tenantID
	if cmd.CreatedBy == "" {
		cmd.CreatedBy = userID
	}
	if key := strings.TrimSpace(r.Header.Get(IdempotencyHeader)); key != "" {
		cmd.IdempotencyKey = key
	}
	res, err := h.commands.Handle(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusCreated
	if res.WasIdempotent {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

type reverseRequest struct {
	PostingDate string `json:"postingDate"`
}

// Reverse posts the reversal of an existing entry.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body reverseRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.CodedProblem(w, http.StatusBadRequest, accounting.CodeValidation, "Invalid Body", err.Error())
			return
		}
	}
	res, err := h.commands.Reverse(r.Context(), ReverseCommand{
		TenantID:    tenantID,
		EntryID:     chi.URLParam(r, "id"),
		PostingDate: body.PostingDate,
		CreatedBy:   userID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusCreated
	if res.WasIdempotent {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

// Get returns one entry.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.commands.Service().Find(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToDTO(entry))
}

// Balance answers BalanceAt, or AuditBalanceAt when known_at is supplied.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	key := balances.Key{
		TenantID:    tenantID,
		EntityID:    q.Get("entity"),
		AccountCode: q.Get("account"),
		Currency:    strings.ToUpper(q.Get("currency")),
	}
	var violations []string
	if key.EntityID == "" {
		violations = append(violations, "entity: required")
	}
	if key.AccountCode == "" {
		violations = append(violations, "account: required")
	}
	if _, err := accounting.NormalizeCurrency(key.Currency); err != nil {
		violations = append(violations, "currency: "+err.Error())
	}
	validAt, err := accounting.ParseDate(q.Get("valid_at"))
	if err != nil {
		violations = append(violations, "valid_at: expected YYYY-MM-DD")
	}
	var knownAt *time.Time
	if raw := q.Get("known_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			violations = append(violations, "known_at: expected RFC 3339")
		} else {
			t = t.UTC()
			knownAt = &t
		}
	}
	if len(violations) > 0 {
		httpx.RespondError(w, &accounting.ValidationError{Violations: violations})
		return
	}

	var balance accounting.Money
	if knownAt != nil {
		balance, err = h.balances.AuditBalanceAt(r.Context(), key, validAt, *knownAt)
	} else {
		balance, err = h.balances.BalanceAt(r.Context(), key, validAt)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, BalanceDTO{
		EntityID:          key.EntityID,
		AccountCode:       key.AccountCode,
		Currency:          balance.Currency(),
		ValidAt:           validAt.Format(accounting.DateLayout),
		KnownAt:           knownAt,
		BalanceMinorUnits: balance.Amount(),
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrJournalNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyKeyReused):
		httpx.CodedProblem(w, http.StatusConflict, shared.CodeIdempotencyKeyReused, "Conflict", err.Error())
	default:
		if accounting.Describe(err).Code == accounting.CodeInternal {
			h.logger.Error("journals request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
