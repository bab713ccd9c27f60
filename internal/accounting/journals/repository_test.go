package journals

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyIndexViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: idempotencyIndex}
	require.True(t, isIdempotencyViolation(fmt.Errorf("insert entry: %w", dup)))

	require.False(t, isIdempotencyViolation(&pgconn.PgError{Code: "23505", ConstraintName: "journal_entries_pkey"}))
	require.False(t, isIdempotencyViolation(&pgconn.PgError{Code: "40001", ConstraintName: idempotencyIndex}))
	require.False(t, isIdempotencyViolation(errors.New("connection reset")))
}
