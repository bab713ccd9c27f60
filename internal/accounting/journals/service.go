package journals

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Eligibility is the posting answer for one date.
type Eligibility struct {
	Allowed bool
	Period  *accounting.Period
	Reason  string
}

// JournalEntryService answers read-side questions about journals.
type JournalEntryService struct {
	periods PeriodRepository
	repo    Repository
}

// NewJournalEntryService constructs the service. repo may be nil when only
// eligibility checks are needed.
func NewJournalEntryService(periods PeriodRepository, repo Repository) *JournalEntryService {
	return &JournalEntryService{periods: periods, repo: repo}
}

// Within returns a copy answering eligibility from periods. A nil periods
// keeps the receiver's source.
func (s *JournalEntryService) Within(periods PeriodRepository) *JournalEntryService {
	if periods == nil {
		return s
	}
	return &JournalEntryService{periods: periods, repo: s.repo}
}

// CanPost reports whether tenantID may post on date.
func (s *JournalEntryService) CanPost(ctx context.Context, tenantID string, date time.Time) (Eligibility, error) {
	got, err := s.periods.CanPostToDate(ctx, tenantID, accounting.CivilDate(date))
	if err != nil {
		return Eligibility{}, fmt.Errorf("journals: can post: %w", err)
	}
	if got.Period == nil && got.Reason == "" {
		got.Reason = accounting.ReasonNoPeriod
	}
	return Eligibility{Allowed: got.Allowed && got.Period != nil, Period: got.Period, Reason: got.Reason}, nil
}

// EnsureCanPost converts a negative answer into *accounting.NoPeriodFoundError
// or *accounting.PeriodClosedError.
func (s *JournalEntryService) EnsureCanPost(ctx context.Context, tenantID string, date time.Time) error {
	got, err := s.CanPost(ctx, tenantID, date)
	if err != nil {
		return err
	}
	if got.Period == nil {
		return &accounting.NoPeriodFoundError{Date: accounting.CivilDate(date)}
	}
	if !got.Allowed || !got.Period.Status.AllowsPosting() {
		return &accounting.PeriodClosedError{Period: got.Period.Name, Status: got.Period.Status}
	}
	return nil
}

// Find loads a posted entry.
func (s *JournalEntryService) Find(ctx context.Context, tenantID, id string) (accounting.JournalEntry, error) {
	if s.repo == nil {
		return accounting.JournalEntry{}, ErrJournalNotFound
	}
	return s.repo.FindByID(ctx, tenantID, id)
}
