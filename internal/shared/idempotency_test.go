package shared

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryIdempotencyRepo struct {
	mu      sync.Mutex
	records map[string]IdempotencyRecord
	// conflictOnce simulates a concurrent winner inserting first.
	conflictOnce *IdempotencyRecord
}

func newMemoryIdempotencyRepo() *memoryIdempotencyRepo {
	return &memoryIdempotencyRepo{records: make(map[string]IdempotencyRecord)}
}

func (r *memoryIdempotencyRepo) FindExisting(_ context.Context, tenantID, key string) (*IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[tenantID+"|"+key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memoryIdempotencyRepo) RecordExecution(_ context.Context, record IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflictOnce != nil {
		r.records[record.TenantID+"|"+record.Key] = *r.conflictOnce
		r.conflictOnce = nil
		return ErrIdempotencyConflict
	}
	id := record.TenantID + "|" + record.Key
	if _, ok := r.records[id]; ok {
		return ErrIdempotencyConflict
	}
	r.records[id] = record
	return nil
}

type result struct {
	ID string `json:"id"`
}

func TestExecuteIdempotentRunsOnce(t *testing.T) {
	repo := newMemoryIdempotencyRepo()
	svc := NewIdempotencyService(repo)
	calls := 0
	op := func(context.Context) (result, error) {
		calls++
		return result{ID: "je-1"}, nil
	}

	first, err := ExecuteIdempotent(context.Background(), svc, "t1", "key-1", "fp", op)
	require.NoError(t, err)
	require.False(t, first.WasIdempotent)

	second, err := ExecuteIdempotent(context.Background(), svc, "t1", "key-1", "fp", op)
	require.NoError(t, err)
	require.True(t, second.WasIdempotent)
	require.Equal(t, first.Value, second.Value)
	require.Equal(t, 1, calls)

	other, err := ExecuteIdempotent(context.Background(), svc, "t2", "key-1", "fp", op)
	require.NoError(t, err)
	require.False(t, other.WasIdempotent)
	require.Equal(t, 2, calls)
}

func TestExecuteIdempotentWithoutKeyAlwaysRuns(t *testing.T) {
	svc := NewIdempotencyService(newMemoryIdempotencyRepo())
	calls := 0
	op := func(context.Context) (result, error) {
		calls++
		return result{ID: "x"}, nil
	}
	for i := 0; i < 3; i++ {
		out, err := ExecuteIdempotent(context.Background(), svc, "t1", "  ", "", op)
		require.NoError(t, err)
		require.False(t, out.WasIdempotent)
	}
	require.Equal(t, 3, calls)
}

func TestExecuteIdempotentDoesNotRecordFailures(t *testing.T) {
	repo := newMemoryIdempotencyRepo()
	svc := NewIdempotencyService(repo)
	boom := errors.New("boom")
	_, err := ExecuteIdempotent(context.Background(), svc, "t1", "k", "", func(context.Context) (result, error) {
		return result{}, boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, repo.records)
}

func TestExecuteIdempotentConflictThenReplay(t *testing.T) {
	repo := newMemoryIdempotencyRepo()
	repo.conflictOnce = &IdempotencyRecord{TenantID: "t1", Key: "k", Fingerprint: "fp", Result: []byte(`{"id":"winner"}`)}
	svc := NewIdempotencyService(repo)

	_, err := ExecuteIdempotent(context.Background(), svc, "t1", "k", "fp", func(context.Context) (result, error) {
		return result{ID: "loser"}, nil
	})
	require.ErrorIs(t, err, ErrIdempotencyConflict)

	replay, err := ReplayIdempotent[result](context.Background(), svc, "t1", "k", "fp")
	require.NoError(t, err)
	require.True(t, replay.WasIdempotent)
	require.Equal(t, "winner", replay.Value.ID)
}

func TestExecuteIdempotentRejectsReusedKey(t *testing.T) {
	svc := NewIdempotencyService(newMemoryIdempotencyRepo())
	op := func(context.Context) (result, error) { return result{ID: "a"}, nil }
	_, err := ExecuteIdempotent(context.Background(), svc, "t1", "k", "fp-1", op)
	require.NoError(t, err)
	_, err = ExecuteIdempotent(context.Background(), svc, "t1", "k", "fp-2", op)
	require.ErrorIs(t, err, ErrIdempotencyKeyReused)
}

func TestFingerprintIsStable(t *testing.T) {
	a, err := Fingerprint(map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	b, err := Fingerprint(map[string]any{"a": "x", "b": 1})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}
