// Package balances keeps the bitemporal balance ledger: every posted line
// becomes an append-only record stamped with a valid time (the business
// date) and a transaction time (when the ledger learned about it).
package balances

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Key identifies one balance series.
type Key struct {
	TenantID    string
	EntityID    string
	AccountCode string
	Currency    string
}

// Record is one immutable balance contribution.
type Record struct {
	Key
	EntryID          string
	LineID           string
	AmountMinorUnits int64
	ValidTime        time.Time
	TransactionTime  time.Time
}

// Store appends and filters records. Records must return only rows with
// ValidTime <= validTo and TransactionTime <= knownAt.
type Store interface {
	Append(ctx context.Context, records ...Record) error
	Records(ctx context.Context, key Key, validTo, knownAt time.Time) ([]Record, error)
}

// ErrStoreRequired indicates the service was built without a store.
var ErrStoreRequired = errors.New("balances: store required")

// Service derives balances by summing visible records.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs the balance service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Within returns a copy writing to store, typically a transaction-scoped one.
func (s *Service) Within(store Store) *Service {
	clone := *s
	clone.store = store
	return &clone
}

// RecordsFor converts entry lines into balance records stamped at txTime.
func RecordsFor(entry accounting.JournalEntry, txTime time.Time) []Record {
	lines := entry.Lines()
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		records = append(records, Record{
			Key: Key{
				TenantID:    entry.TenantID(),
				EntityID:    entry.EntityID(),
				AccountCode: line.AccountCode(),
				Currency:    line.Currency(),
			},
			EntryID:          entry.ID(),
			LineID:           line.ID(),
			AmountMinorUnits: line.SignedAmount(),
			ValidTime:        entry.PostingDate(),
			TransactionTime:  txTime.UTC(),
		})
	}
	return records
}

// ApplyJournalEntry appends one signed record per line.
func (s *Service) ApplyJournalEntry(ctx context.Context, entry accounting.JournalEntry) error {
	if s == nil || s.store == nil {
		return ErrStoreRequired
	}
	if err := s.store.Append(ctx, RecordsFor(entry, s.now())...); err != nil {
		return fmt.Errorf("balances: append: %w", err)
	}
	return nil
}

// BalanceAt is the current best knowledge of the balance as of validTime.
func (s *Service) BalanceAt(ctx context.Context, key Key, validTime time.Time) (accounting.Money, error) {
	return s.AuditBalanceAt(ctx, key, validTime, s.now())
}

// AuditBalanceAt is the balance as of validTime as the ledger knew it at
// transactionTime.
func (s *Service) AuditBalanceAt(ctx context.Context, key Key, validTime, transactionTime time.Time) (accounting.Money, error) {
	records, err := s.History(ctx, key, validTime, transactionTime)
	if err != nil {
		return accounting.Money{}, err
	}
	total, err := accounting.ZeroMoney(key.Currency)
	if err != nil {
		return accounting.Money{}, err
	}
	for _, r := range records {
		amount, err := accounting.NewMoney(r.AmountMinorUnits, key.Currency)
		if err != nil {
			return accounting.Money{}, err
		}
		if total, err = total.Add(amount); err != nil {
			return accounting.Money{}, err
		}
	}
	return total, nil
}

// History lists the visible records ordered by transaction then valid time.
func (s *Service) History(ctx context.Context, key Key, validTime, transactionTime time.Time) ([]Record, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreRequired
	}
	validTo := accounting.CivilDate(validTime)
	knownAt := transactionTime.UTC()
	records, err := s.store.Records(ctx, key, validTo, knownAt)
	if err != nil {
		return nil, fmt.Errorf("balances: load records: %w", err)
	}
	visible := records[:0:0]
	for _, r := range records {
		// filter again in case a store over-fetches
		if r.ValidTime.After(validTo) || r.TransactionTime.After(knownAt) {
			continue
		}
		visible = append(visible, r)
	}
	sort.SliceStable(visible, func(i, j int) bool {
		if !visible[i].TransactionTime.Equal(visible[j].TransactionTime) {
			return visible[i].TransactionTime.Before(visible[j].TransactionTime)
		}
		return visible[i].ValidTime.Before(visible[j].ValidTime)
	})
	return visible, nil
}
