package shared

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/blake2b"
)

// ErrIdempotencyConflict indicates a concurrent execution already recorded the key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// ErrIdempotencyKeyReused indicates a key was replayed with a different payload.
var ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")

// ErrIdempotencyRecordMissing indicates a replay found no stored execution.
var ErrIdempotencyRecordMissing = errors.New("idempotency record not found")

// CodeIdempotencyKeyReused is the stable error code for ErrIdempotencyKeyReused.
const CodeIdempotencyKeyReused = "IDEMPOTENCY_KEY_REUSED"

// IdempotencyRecord is a stored execution keyed by (tenant, key).
type IdempotencyRecord struct {
	TenantID    string
	Key         string
	Fingerprint string
	Result      json.RawMessage
	CreatedAt   time.Time
}

// IdempotencyRepository persists executions. RecordExecution must return
// ErrIdempotencyConflict when (tenant, key) already exists.
type IdempotencyRepository interface {
	FindExisting(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error)
	RecordExecution(ctx context.Context, record IdempotencyRecord) error
}

// IdempotencyService wraps operations with at-most-once semantics.
type IdempotencyService struct {
	repo IdempotencyRepository
	now  func() time.Time
}

// NewIdempotencyService constructs the service.
func NewIdempotencyService(repo IdempotencyRepository) *IdempotencyService {
	return &IdempotencyService{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *IdempotencyService) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Within returns a copy bound to repo, typically a transaction-scoped store.
func (s *IdempotencyService) Within(repo IdempotencyRepository) *IdempotencyService {
	clone := *s
	clone.repo = repo
	return &clone
}

// Outcome carries an operation result and whether it was replayed.
type Outcome[T any] struct {
	Value         T
	WasIdempotent bool
}

// ExecuteIdempotent runs op at most once per (tenantID, key). An empty key
// always runs op. When RecordExecution reports a conflict the error wraps
// ErrIdempotencyConflict; the caller rolls back its unit of work and calls
// ReplayIdempotent to return the winner's result.
func ExecuteIdempotent[T any](ctx context.Context, s *IdempotencyService, tenantID, key, fingerprint string, op func(context.Context) (T, error)) (Outcome[T], error) {
	var zero Outcome[T]
	if op == nil {
		return zero, errors.New("idempotency: operation required")
	}
	key = strings.TrimSpace(key)
	if key == "" || s == nil || s.repo == nil {
		value, err := op(ctx)
		if err != nil {
			return zero, err
		}
		return Outcome[T]{Value: value}, nil
	}

	existing, err := s.repo.FindExisting(ctx, tenantID, key)
	if err != nil {
		return zero, fmt.Errorf("idempotency: lookup: %w", err)
	}
	if existing != nil {
		return decodeOutcome[T](existing, fingerprint)
	}

	value, err := op(ctx)
	if err != nil {
		return zero, err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return zero, fmt.Errorf("idempotency: encode result: %w", err)
	}
	record := IdempotencyRecord{
		TenantID:    tenantID,
		Key:         key,
		Fingerprint: fingerprint,
		Result:      payload,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.RecordExecution(ctx, record); err != nil {
		if errors.Is(err, ErrIdempotencyConflict) {
			return zero, err
		}
		return zero, fmt.Errorf("idempotency: record: %w", err)
	}
	return Outcome[T]{Value: value}, nil
}

// ReplayIdempotent returns the stored result for (tenantID, key).
func ReplayIdempotent[T any](ctx context.Context, s *IdempotencyService, tenantID, key, fingerprint string) (Outcome[T], error) {
	var zero Outcome[T]
	if s == nil || s.repo == nil {
		return zero, ErrIdempotencyRecordMissing
	}
	existing, err := s.repo.FindExisting(ctx, tenantID, strings.TrimSpace(key))
	if err != nil {
		return zero, fmt.Errorf("idempotency: lookup: %w", err)
	}
	if existing == nil {
		return zero, ErrIdempotencyRecordMissing
	}
	return decodeOutcome[T](existing, fingerprint)
}

func decodeOutcome[T any](record *IdempotencyRecord, fingerprint string) (Outcome[T], error) {
	var zero Outcome[T]
	if fingerprint != "" && record.Fingerprint != "" && fingerprint != record.Fingerprint {
		return zero, ErrIdempotencyKeyReused
	}
	var value T
	if err := json.Unmarshal(record.Result, &value); err != nil {
		return zero, fmt.Errorf("idempotency: decode stored result: %w", err)
	}
	return Outcome[T]{Value: value, WasIdempotent: true}, nil
}

// Fingerprint hashes the JSON form of v with BLAKE2b-256.
func Fingerprint(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdempotencyStore persists executions in idempotency_records, which carries
// a UNIQUE (tenant_id, key) constraint.
type IdempotencyStore struct {
	db DBTX
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(db DBTX) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// FindExisting returns nil when no execution is stored.
func (s *IdempotencyStore) FindExisting(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("idempotency store not initialised")
	}
	record := IdempotencyRecord{TenantID: tenantID, Key: key}
	err := s.db.QueryRow(ctx, `SELECT fingerprint, result, created_at FROM idempotency_records WHERE tenant_id=$1 AND key=$2`, tenantID, key).
		Scan(&record.Fingerprint, &record.Result, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// RecordExecution inserts the execution, mapping unique violations to
// ErrIdempotencyConflict.
func (s *IdempotencyStore) RecordExecution(ctx context.Context, record IdempotencyRecord) error {
	if s == nil || s.db == nil {
		return errors.New("idempotency store not initialised")
	}
	if record.Key == "" {
		return errors.New("idempotency key required")
	}
	if record.TenantID == "" {
		return errors.New("idempotency tenant required")
	}
	_, err := s.db.Exec(ctx, `INSERT INTO idempotency_records (tenant_id, key, fingerprint, result, created_at) VALUES ($1, $2, $3, $4, $5)`,
		record.TenantID, record.Key, record.Fingerprint, []byte(record.Result), record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention and reports how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
