package journals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// memoryRepo stages writes per transaction and publishes them on commit.
type memoryRepo struct {
	mu          sync.Mutex
	entries     map[string]accounting.JournalEntry
	balances    *balances.MemoryStore
	idempotency map[string]shared.IdempotencyRecord
	recordedAt  map[string]time.Time
	// raceWinner commits just before the next SaveJournalEntry, the way a
	// concurrent posting holding the same key would.
	raceWinner *committedPosting
	// txPeriods, when set, answers eligibility inside transactions.
	txPeriods PeriodRepository
	commits   int
}

type committedPosting struct {
	entry  accounting.JournalEntry
	record shared.IdempotencyRecord
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		entries:     make(map[string]accounting.JournalEntry),
		balances:    balances.NewMemoryStore(),
		idempotency: make(map[string]shared.IdempotencyRecord),
		recordedAt:  make(map[string]time.Time),
	}
}

type memoryTx struct {
	repo        *memoryRepo
	entries     []accounting.JournalEntry
	recordedAt  []time.Time
	records     []balances.Record
	idempotency []shared.IdempotencyRecord
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	tx := &memoryTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range tx.entries {
		r.entries[e.ID()] = e
		r.recordedAt[e.ID()] = tx.recordedAt[i]
	}
	for _, rec := range tx.idempotency {
		r.idempotency[rec.TenantID+"|"+rec.Key] = rec
	}
	r.commits++
	return r.balances.Append(ctx, tx.records...)
}

func (r *memoryRepo) FindByID(_ context.Context, tenantID, id string) (accounting.JournalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.TenantID() != tenantID {
		return accounting.JournalEntry{}, ErrJournalNotFound
	}
	return e, nil
}

func (r *memoryRepo) FindByIdempotencyKey(_ context.Context, tenantID, key string) (accounting.JournalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.TenantID() == tenantID && e.IdempotencyKey() == key {
			return e, nil
		}
	}
	return accounting.JournalEntry{}, ErrJournalNotFound
}

func (r *memoryRepo) FindIntercompanyTransactions(_ context.Context, tenantID string, from, to, _ time.Time) ([]accounting.JournalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []accounting.JournalEntry
	for _, e := range r.entries {
		d := e.PostingDate()
		if e.TenantID() == tenantID && e.IsIntercompany() && !d.Before(from) && !d.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetTrialBalanceData(context.Context, string, string, time.Time, time.Time) ([]TrialBalanceRow, error) {
	return nil, nil
}

func (r *memoryRepo) entryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SaveJournalEntry enforces the (tenant, idempotency key) uniqueness of
// journal_entries.
func (tx *memoryTx) SaveJournalEntry(_ context.Context, entry accounting.JournalEntry, recordedAt time.Time) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if w := r.raceWinner; w != nil {
		r.entries[w.entry.ID()] = w.entry
		r.idempotency[w.record.TenantID+"|"+w.record.Key] = w.record
		r.raceWinner = nil
	}
	if key := entry.IdempotencyKey(); key != "" {
		taken := func(e accounting.JournalEntry) bool {
			return e.TenantID() == entry.TenantID() && e.IdempotencyKey() == key
		}
		for _, e := range r.entries {
			if taken(e) {
				return fmt.Errorf("insert entry: key %q: %w", key, shared.ErrIdempotencyConflict)
			}
		}
		for _, e := range tx.entries {
			if taken(e) {
				return fmt.Errorf("insert entry: key %q: %w", key, shared.ErrIdempotencyConflict)
			}
		}
	}
	tx.entries = append(tx.entries, entry)
	tx.recordedAt = append(tx.recordedAt, recordedAt)
	return nil
}

func (tx *memoryTx) Periods() PeriodRepository { return tx.repo.txPeriods }

// prune drops idempotency records the way the cleanup job does.
func (r *memoryRepo) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idempotency = make(map[string]shared.IdempotencyRecord)
}

func (tx *memoryTx) Balances() balances.Store { return txBalances{tx} }

func (tx *memoryTx) Idempotency() shared.IdempotencyRepository { return txIdempotency{tx} }

type txBalances struct{ tx *memoryTx }

func (b txBalances) Append(_ context.Context, records ...balances.Record) error {
	b.tx.records = append(b.tx.records, records...)
	return nil
}

func (b txBalances) Records(ctx context.Context, key balances.Key, validTo, knownAt time.Time) ([]balances.Record, error) {
	return b.tx.repo.balances.Records(ctx, key, validTo, knownAt)
}

type txIdempotency struct{ tx *memoryTx }

func (i txIdempotency) FindExisting(ctx context.Context, tenantID, key string) (*shared.IdempotencyRecord, error) {
	return i.tx.repo.FindExisting(ctx, tenantID, key)
}

func (i txIdempotency) RecordExecution(_ context.Context, record shared.IdempotencyRecord) error {
	r := i.tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.idempotency[record.TenantID+"|"+record.Key]; ok {
		return shared.ErrIdempotencyConflict
	}
	i.tx.idempotency = append(i.tx.idempotency, record)
	return nil
}

// FindExisting lets the repo serve as the non-transactional idempotency store.
func (r *memoryRepo) FindExisting(_ context.Context, tenantID, key string) (*shared.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.idempotency[tenantID+"|"+key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memoryRepo) RecordExecution(context.Context, shared.IdempotencyRecord) error {
	return shared.ErrIdempotencyConflict
}

type stubAccounts struct {
	accounts map[string]accounting.Account
}

func newStubAccounts(accounts ...accounting.Account) *stubAccounts {
	s := &stubAccounts{accounts: make(map[string]accounting.Account)}
	for _, a := range accounts {
		s.accounts[a.Code] = a
	}
	return s
}

func (s *stubAccounts) FindByID(_ context.Context, _ string, id string) (accounting.Account, error) {
	for _, a := range s.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return accounting.Account{}, ErrJournalNotFound
}

func (s *stubAccounts) FindByCode(_ context.Context, _ string, code string) (accounting.Account, error) {
	a, ok := s.accounts[code]
	if !ok {
		return accounting.Account{}, ErrJournalNotFound
	}
	return a, nil
}

func (s *stubAccounts) FindByCodes(_ context.Context, _ string, codes []string) ([]accounting.Account, error) {
	var out []accounting.Account
	for _, c := range codes {
		if a, ok := s.accounts[c]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

type stubPeriods struct {
	period *accounting.Period
	calls  int
}

func (s *stubPeriods) CanPostToDate(_ context.Context, _ string, date time.Time) (accounting.PostingEligibility, error) {
	s.calls++
	if s.period == nil || !s.period.Covers(date) {
		return accounting.PostingEligibility{Reason: accounting.ReasonNoPeriod}, nil
	}
	p := *s.period
	return accounting.PostingEligibility{Allowed: p.Status.AllowsPosting(), Period: &p}, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (b *recordingBus) Publish(_ context.Context, event shared.DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	err  error
}

func (a *recordingAudit) Append(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

type countingMetrics struct {
	posted, replayed int
	rejected         []string
}

func (m *countingMetrics) PostingRecorded(string)      { m.posted++ }
func (m *countingMetrics) IdempotentReplay()           { m.replayed++ }
func (m *countingMetrics) PostingRejected(code string) { m.rejected = append(m.rejected, code) }
