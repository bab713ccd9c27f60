package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ErrJournalNotFound indicates the entry does not exist for the tenant.
var ErrJournalNotFound = errors.New("journals: journal entry not found")

// AccountRepository resolves chart of accounts entries.
type AccountRepository interface {
	FindByID(ctx context.Context, tenantID, id string) (accounting.Account, error)
	FindByCode(ctx context.Context, tenantID, code string) (accounting.Account, error)
	FindByCodes(ctx context.Context, tenantID string, codes []string) ([]accounting.Account, error)
}

// PeriodRepository answers whether a date accepts postings.
type PeriodRepository interface {
	CanPostToDate(ctx context.Context, tenantID string, date time.Time) (accounting.PostingEligibility, error)
}

// Repository encapsulates journal storage. WithTx scopes one posting.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	FindByID(ctx context.Context, tenantID, id string) (accounting.JournalEntry, error)
	FindByIdempotencyKey(ctx context.Context, tenantID, key string) (accounting.JournalEntry, error)
	// FindIntercompanyTransactions returns intercompany entries posted in
	// [from, to] and recorded at or before knownAt.
	FindIntercompanyTransactions(ctx context.Context, tenantID string, from, to, knownAt time.Time) ([]accounting.JournalEntry, error)
	GetTrialBalanceData(ctx context.Context, tenantID, entityID string, asOf, knownAt time.Time) ([]TrialBalanceRow, error)
}

// Tx exposes the stores written by one posting.
type Tx interface {
	// SaveJournalEntry stores entry with recordedAt as its transaction time.
	// A second entry with the same idempotency key fails with
	// shared.ErrIdempotencyConflict.
	SaveJournalEntry(ctx context.Context, entry accounting.JournalEntry, recordedAt time.Time) error
	Balances() balances.Store
	Idempotency() shared.IdempotencyRepository
	// Periods answers eligibility inside the transaction. Nil means the
	// handler's own period source is used.
	Periods() PeriodRepository
}

// idempotencyIndex is the partial unique index on journal_entries.
const idempotencyIndex = "journal_entries_idempotency_idx"

// TrialBalanceRow is one account's signed (debit-positive) balance.
type TrialBalanceRow struct {
	AccountCode       string
	AccountName       string
	AccountType       accounting.AccountType
	Currency          string
	BalanceMinorUnits int64
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres journal store.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Balances() balances.Store {
	return balances.NewPGStore(r.tx)
}

func (r *txRepository) Idempotency() shared.IdempotencyRepository {
	return shared.NewIdempotencyStore(r.tx)
}

// Periods reads the covering period FOR SHARE, so a close of that period
// waits until this posting commits or rolls back.
func (r *txRepository) Periods() PeriodRepository {
	return lockedPeriods{tx: r.tx}
}

type lockedPeriods struct {
	tx pgx.Tx
}

func (p lockedPeriods) CanPostToDate(ctx context.Context, tenantID string, date time.Time) (accounting.PostingEligibility, error) {
	period, err := periods.LockCovering(ctx, p.tx, tenantID, accounting.CivilDate(date))
	if err != nil {
		return accounting.PostingEligibility{}, fmt.Errorf("lock period: %w", err)
	}
	return periods.Eligibility(period), nil
}

func (r *txRepository) SaveJournalEntry(ctx context.Context, entry accounting.JournalEntry, recordedAt time.Time) error {
	s := entry.Snapshot()
	metadata := s.Metadata
	if metadata == nil {
		metadata = accounting.Metadata{}
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO journal_entries (id, tenant_id, entity_id, counterparty_entity_id, is_intercompany,
posting_date, valid_time_start, source_module, source_document_id, source_document_type, description, currency,
total_minor_units, version, created_by, idempotency_key, metadata, recorded_at)
VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULLIF($16,''),$17,$18)`,
		s.ID, s.TenantID, s.EntityID, s.CounterpartyEntityID, s.IsIntercompany,
		s.PostingDate, s.ValidTimeStart, s.SourceModule, s.SourceDocumentID, s.SourceDocumentType, s.Description, s.Currency,
		entry.Total().Amount(), s.Version, s.CreatedBy, s.IdempotencyKey, metadata, recordedAt.UTC())
	if err != nil {
		if isIdempotencyViolation(err) {
			return fmt.Errorf("insert entry: key %q: %w", s.IdempotencyKey, shared.ErrIdempotencyConflict)
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	batch := &pgx.Batch{}
	for i, l := range s.Lines {
		lineMeta := l.Metadata
		if lineMeta == nil {
			lineMeta = accounting.Metadata{}
		}
		var rate *string
		if l.ExchangeRate != nil {
			v := l.ExchangeRate.String()
			rate = &v
		}
		batch.Queue(`INSERT INTO journal_lines (id, entry_id, tenant_id, line_no, account_code, debit_minor_units, credit_minor_units,
currency, cost_center, project_id, intercompany_partner_id, elimination_account_code, metadata,
transaction_amount_minor_units, transaction_currency, exchange_rate)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),NULLIF($10,''),NULLIF($11,''),NULLIF($12,''),$13,$14,NULLIF($15,''),$16::numeric)`,
			l.ID, s.ID, s.TenantID, i+1, l.AccountCode, l.DebitMinorUnits, l.CreditMinorUnits,
			s.Currency, l.CostCenter, l.ProjectID, l.IntercompanyPartnerID, l.EliminationAccountCode, lineMeta,
			l.TransactionAmountMinorUnits, l.TransactionCurrency, rate)
	}
	results := r.tx.SendBatch(ctx, batch)
	for range s.Lines {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert line: %w", err)
		}
	}
	return results.Close()
}

func isIdempotencyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == idempotencyIndex
}

const entryColumns = `id, tenant_id, entity_id, COALESCE(counterparty_entity_id, ''), is_intercompany, posting_date, valid_time_start,
source_module, source_document_id, source_document_type, description, currency, version, created_by,
COALESCE(idempotency_key, ''), metadata`

func scanEntry(row pgx.Row) (accounting.EntrySnapshot, error) {
	var s accounting.EntrySnapshot
	err := row.Scan(&s.ID, &s.TenantID, &s.EntityID, &s.CounterpartyEntityID, &s.IsIntercompany, &s.PostingDate, &s.ValidTimeStart,
		&s.SourceModule, &s.SourceDocumentID, &s.SourceDocumentType, &s.Description, &s.Currency, &s.Version, &s.CreatedBy,
		&s.IdempotencyKey, &s.Metadata)
	return s, err
}

func (r *repository) FindByID(ctx context.Context, tenantID, id string) (accounting.JournalEntry, error) {
	return r.findOne(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND id=$2`, tenantID, id)
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (accounting.JournalEntry, error) {
	return r.findOne(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND idempotency_key=$2`, tenantID, key)
}

func (r *repository) findOne(ctx context.Context, sql string, args ...any) (accounting.JournalEntry, error) {
	s, err := scanEntry(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accounting.JournalEntry{}, ErrJournalNotFound
		}
		return accounting.JournalEntry{}, err
	}
	lines, err := r.loadLines(ctx, s.TenantID, []string{s.ID})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.Lines = lines[s.ID]
	return accounting.RestoreJournalEntry(s)
}

func (r *repository) FindIntercompanyTransactions(ctx context.Context, tenantID string, from, to, knownAt time.Time) ([]accounting.JournalEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE tenant_id=$1 AND is_intercompany AND posting_date BETWEEN $2 AND $3 AND recorded_at <= $4
ORDER BY posting_date, id`, tenantID, accounting.CivilDate(from), accounting.CivilDate(to), knownAt)
	if err != nil {
		return nil, err
	}
	var snapshots []accounting.EntrySnapshot
	for rows.Next() {
		s, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	ids := make([]string, len(snapshots))
	for i, s := range snapshots {
		ids[i] = s.ID
	}
	lines, err := r.loadLines(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	entries := make([]accounting.JournalEntry, 0, len(snapshots))
	for _, s := range snapshots {
		s.Lines = lines[s.ID]
		entry, err := accounting.RestoreJournalEntry(s)
		if err != nil {
			return nil, fmt.Errorf("journals: restore %s: %w", s.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *repository) loadLines(ctx context.Context, tenantID string, entryIDs []string) (map[string][]accounting.LineSnapshot, error) {
	rows, err := r.db.Query(ctx, `SELECT entry_id, id, account_code, debit_minor_units, credit_minor_units,
COALESCE(cost_center, ''), COALESCE(project_id, ''), COALESCE(intercompany_partner_id, ''), COALESCE(elimination_account_code, ''),
metadata, transaction_amount_minor_units, COALESCE(transaction_currency, ''), exchange_rate::text
FROM journal_lines WHERE tenant_id=$1 AND entry_id = ANY($2) ORDER BY entry_id, line_no`, tenantID, entryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]accounting.LineSnapshot, len(entryIDs))
	for rows.Next() {
		var (
			entryID string
			l       accounting.LineSnapshot
			rate    *string
		)
		if err := rows.Scan(&entryID, &l.ID, &l.AccountCode, &l.DebitMinorUnits, &l.CreditMinorUnits,
			&l.CostCenter, &l.ProjectID, &l.IntercompanyPartnerID, &l.EliminationAccountCode,
			&l.Metadata, &l.TransactionAmountMinorUnits, &l.TransactionCurrency, &rate); err != nil {
			return nil, err
		}
		if rate != nil {
			d, err := decimal.NewFromString(*rate)
			if err != nil {
				return nil, fmt.Errorf("journals: exchange rate %q: %w", *rate, err)
			}
			l.ExchangeRate = &d
		}
		out[entryID] = append(out[entryID], l)
	}
	return out, rows.Err()
}

// GetTrialBalanceData sums balance records per account as of asOf, as known
// at knownAt.
func (r *repository) GetTrialBalanceData(ctx context.Context, tenantID, entityID string, asOf, knownAt time.Time) ([]TrialBalanceRow, error) {
	rows, err := r.db.Query(ctx, `SELECT b.account_code, a.name, a.type, b.currency, SUM(b.amount_minor_units)::bigint
FROM temporal_balance_records b
JOIN accounts a ON a.tenant_id = b.tenant_id AND a.code = b.account_code
WHERE b.tenant_id=$1 AND b.entity_id=$2 AND b.valid_time <= $3 AND b.transaction_time <= $4
GROUP BY b.account_code, a.name, a.type, b.currency
ORDER BY b.account_code`, tenantID, entityID, accounting.CivilDate(asOf), knownAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrialBalanceRow
	for rows.Next() {
		var row TrialBalanceRow
		if err := rows.Scan(&row.AccountCode, &row.AccountName, &row.AccountType, &row.Currency, &row.BalanceMinorUnits); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
