package consolhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/consol"
	"github.com/odyssey-erp/odyssey-ledger/internal/consol/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// RateStore persists monthly FX quotes.
type RateStore interface {
	UpsertFxRate(ctx context.Context, asOf time.Time, pair string, quote fx.Quote) error
}

type invalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// Handler wires consolidation report endpoints.
type Handler struct {
	logger    *slog.Logger
	reports   consol.Reporter
	rates     RateStore
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the consolidation handler. rates may be nil.
func NewHandler(logger *slog.Logger, reports consol.Reporter, rates RateStore, requestsPerMinute int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 10
	}
	limiter := httprate.Limit(requestsPerMinute, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if tenant := strings.TrimSpace(r.Header.Get(httpx.TenantHeader)); tenant != "" {
			return "tenant:" + tenant, nil
		}
		return httprate.KeyByIP(r)
	}))
	return &Handler{logger: logger, reports: reports, rates: rates, rateLimit: limiter}
}

// MountRoutes registers consolidation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rateLimit).Get("/consolidations/{entityID}", h.getReport)
	r.With(h.rateLimit).Get("/consolidations/{entityID}/statements", h.getStatements)
	if h.rates != nil {
		r.Put("/fx-rates/{pair}/{period}", h.putRate)
	}
}

func (h *Handler) consolidate(w http.ResponseWriter, r *http.Request) (consol.Report, bool) {
	tenantID, _, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return consol.Report{}, false
	}
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		if asOf, err = accounting.ParseDate(raw); err != nil {
			httpx.RespondError(w, &accounting.ValidationError{Violations: []string{"as_of: expected YYYY-MM-DD"}})
			return consol.Report{}, false
		}
	}
	report, err := h.reports.Consolidate(r.Context(), tenantID, chi.URLParam(r, "entityID"), asOf)
	if err != nil {
		h.respondError(w, err)
		return consol.Report{}, false
	}
	return report, true
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.consolidate(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, consol.ToReportDTO(report))
}

type statementsResponse struct {
	ParentEntityID         string             `json:"parent_entity_id"`
	AsOfDate               string             `json:"as_of_date"`
	Currency               string             `json:"currency"`
	Statements             reports.Statements `json:"statements"`
	EquityPickupMinor      int64              `json:"equity_pickup_minor_units"`
	NonControllingInterest int64              `json:"non_controlling_interest_minor_units"`
}

func (h *Handler) getStatements(w http.ResponseWriter, r *http.Request) {
	report, ok := h.consolidate(w, r)
	if !ok {
		return
	}
	resp := statementsResponse{
		ParentEntityID: report.ParentEntityID,
		AsOfDate:       report.AsOfDate.Format(accounting.DateLayout),
		Currency:       report.Currency,
	}
	balances := make([]reports.AccountBalance, 0, len(report.Lines))
	for _, line := range report.Lines {
		switch line.Kind {
		case consol.LineKindEquityPickup:
			resp.EquityPickupMinor += line.BalanceMinorUnits
		case consol.LineKindNCI:
			resp.NonControllingInterest += line.BalanceMinorUnits
		default:
			balances = append(balances, reports.AccountBalance{
				Code:              line.AccountCode,
				Name:              line.AccountName,
				Type:              line.AccountType,
				BalanceMinorUnits: line.BalanceMinorUnits,
			})
		}
	}
	resp.Statements = reports.Build(balances)
	httpx.JSON(w, http.StatusOK, resp)
}

type rateBody struct {
	Average string `json:"average"`
	Closing string `json:"closing"`
}

func (h *Handler) putRate(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body rateBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.CodedProblem(w, http.StatusBadRequest, accounting.CodeValidation, "Invalid Body", err.Error())
		return
	}
	var violations []string
	pair := strings.ToUpper(chi.URLParam(r, "pair"))
	if len(pair) != 6 {
		violations = append(violations, "pair: expected six letters such as EURUSD")
	}
	period, err := time.Parse("2006-01", chi.URLParam(r, "period"))
	if err != nil {
		violations = append(violations, "period: expected YYYY-MM")
	}
	avg, err := decimal.NewFromString(body.Average)
	if err != nil || !avg.IsPositive() {
		violations = append(violations, "average: positive decimal required")
	}
	closing, err := decimal.NewFromString(body.Closing)
	if err != nil || !closing.IsPositive() {
		violations = append(violations, "closing: positive decimal required")
	}
	if len(violations) > 0 {
		httpx.RespondError(w, &accounting.ValidationError{Violations: violations})
		return
	}
	if err := h.rates.UpsertFxRate(r.Context(), period, pair, fx.Quote{Average: avg, Closing: closing}); err != nil {
		h.respondError(w, err)
		return
	}
	// translated reports cached for the tenant are stale now
	if inv, ok := h.reports.(invalidator); ok {
		if err := inv.Invalidate(r.Context(), tenantID); err != nil {
			h.logger.Warn("invalidate consolidation cache", slog.String("tenant_id", tenantID), slog.Any("error", err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consol.ErrEntityNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, consol.ErrEntityCycle), errors.Is(err, consol.ErrTreeTooDeep), errors.Is(err, consol.ErrTranslationRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	default:
		if accounting.Describe(err).Code == accounting.CodeInternal {
			h.logger.Error("consolidation request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
