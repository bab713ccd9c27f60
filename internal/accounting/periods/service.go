// Package periods owns the accounting period lifecycle and answers whether a
// date may receive postings.
package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var (
	// ErrInvalidTransition indicates a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("periods: invalid status transition")
	// ErrPeriodNotFound indicates the period id is unknown to the tenant.
	ErrPeriodNotFound = errors.New("periods: period not found")
)

// ValidateTransition enforces OPEN -> SOFT_CLOSED -> HARD_CLOSED. Moving to
// the current status is a no-op.
func ValidateTransition(from, to accounting.PeriodStatus) error {
	if from == to {
		return nil
	}
	switch {
	case from == accounting.PeriodStatusOpen && to == accounting.PeriodStatusSoftClosed:
		return nil
	case from == accounting.PeriodStatusSoftClosed && to == accounting.PeriodStatusHardClosed:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Repository is the period store.
type Repository interface {
	FindByID(ctx context.Context, tenantID, periodID string) (accounting.Period, error)
	FindCovering(ctx context.Context, tenantID string, date time.Time) (*accounting.Period, error)
	UpdateStatus(ctx context.Context, tenantID, periodID string, status accounting.PeriodStatus) error
}

// Service answers posting eligibility and drives period transitions.
type Service struct {
	repo   Repository
	audit  shared.AuditAppender
	logger *slog.Logger
}

// NewService constructs the period service.
func NewService(repo Repository, audit shared.AuditAppender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger.With(slog.String("component", "periods"))}
}

// CanPostToDate reports whether date falls in a period that accepts postings.
func (s *Service) CanPostToDate(ctx context.Context, tenantID string, date time.Time) (accounting.PostingEligibility, error) {
	period, err := s.repo.FindCovering(ctx, tenantID, accounting.CivilDate(date))
	if err != nil {
		return accounting.PostingEligibility{}, fmt.Errorf("periods: find covering: %w", err)
	}
	return Eligibility(period), nil
}

// Eligibility derives the posting answer from the covering period, if any.
func Eligibility(period *accounting.Period) accounting.PostingEligibility {
	if period == nil {
		return accounting.PostingEligibility{Reason: accounting.ReasonNoPeriod}
	}
	p := *period
	if !p.Status.AllowsPosting() {
		return accounting.PostingEligibility{Period: &p, Reason: fmt.Sprintf("period %s is %s", p.Name, p.Status)}
	}
	return accounting.PostingEligibility{Allowed: true, Period: &p}
}

// Transition moves a period to the target status.
func (s *Service) Transition(ctx context.Context, tenantID, periodID, actor string, to accounting.PeriodStatus) (accounting.Period, error) {
	period, err := s.repo.FindByID(ctx, tenantID, periodID)
	if err != nil {
		return accounting.Period{}, err
	}
	if err := ValidateTransition(period.Status, to); err != nil {
		return accounting.Period{}, err
	}
	if period.Status == to {
		return period, nil
	}
	if err := s.repo.UpdateStatus(ctx, tenantID, periodID, to); err != nil {
		return accounting.Period{}, fmt.Errorf("periods: update status: %w", err)
	}
	from := period.Status
	period.Status = to
	if s.audit != nil {
		if err := s.audit.Append(ctx, shared.AuditLog{
			TenantID:   tenantID,
			UserID:     actor,
			Action:     "period_transition",
			EntityType: "accounting_period",
			EntityID:   periodID,
			Payload:    map[string]any{"from": string(from), "to": string(to)},
		}); err != nil {
			s.logger.Error("append period audit", slog.String("period_id", periodID), slog.Any("error", err))
		}
	}
	s.logger.Info("period transitioned",
		slog.String("tenant_id", tenantID),
		slog.String("period_id", periodID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	return period, nil
}
