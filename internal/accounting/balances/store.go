package balances

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// MemoryStore is an in-process Store for tests and single-node tooling.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, records ...Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

// Records implements Store.
func (m *MemoryStore) Records(_ context.Context, key Key, validTo, knownAt time.Time) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if r.Key != key || r.ValidTime.After(validTo) || r.TransactionTime.After(knownAt) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Len reports how many records were appended.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Querier is the subset of pgx used by PGStore; *pgxpool.Pool and pgx.Tx
// both satisfy it.
type Querier interface {
	shared.DBTX
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PGStore keeps records in temporal_balance_records.
type PGStore struct {
	db Querier
}

// NewPGStore constructs the Postgres store.
func NewPGStore(db Querier) *PGStore {
	return &PGStore{db: db}
}

var recordColumns = []string{
	"tenant_id", "entity_id", "account_code", "currency",
	"entry_id", "line_id", "amount_minor_units", "valid_time", "transaction_time",
}

// Append bulk-inserts records with COPY.
func (s *PGStore) Append(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := s.db.CopyFrom(ctx, pgx.Identifier{"temporal_balance_records"}, recordColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{
				r.TenantID, r.EntityID, r.AccountCode, r.Currency,
				r.EntryID, r.LineID, r.AmountMinorUnits, r.ValidTime, r.TransactionTime,
			}, nil
		}))
	return err
}

// Records implements Store.
func (s *PGStore) Records(ctx context.Context, key Key, validTo, knownAt time.Time) ([]Record, error) {
	rows, err := s.db.Query(ctx, `SELECT entry_id, line_id, amount_minor_units, valid_time, transaction_time
FROM temporal_balance_records
WHERE tenant_id=$1 AND entity_id=$2 AND account_code=$3 AND currency=$4
  AND valid_time <= $5 AND transaction_time <= $6
ORDER BY transaction_time, valid_time`,
		key.TenantID, key.EntityID, key.AccountCode, key.Currency, validTo, knownAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r := Record{Key: key}
		if err := rows.Scan(&r.EntryID, &r.LineID, &r.AmountMinorUnits, &r.ValidTime, &r.TransactionTime); err != nil {
			return nil, err
		}
		r.ValidTime = r.ValidTime.UTC()
		r.TransactionTime = r.TransactionTime.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
