package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// ErrAccountNotFound indicates an unknown account id or code.
var ErrAccountNotFound = errors.New("accounts: account not found")

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository interface {
	List(ctx context.Context, tenantID string) ([]accounting.Account, error)
	FindByID(ctx context.Context, tenantID, id string) (accounting.Account, error)
	FindByCode(ctx context.Context, tenantID, code string) (accounting.Account, error)
	FindByCodes(ctx context.Context, tenantID string, codes []string) ([]accounting.Account, error)
}

type repository struct {
	db Querier
}

func NewRepository(db Querier) Repository {
	return &repository{db: db}
}

const accountColumns = `id, tenant_id, code, name, type, normal_balance, is_system_controlled, allows_intercompany, COALESCE(external_mapping, '')`

func scanAccount(row pgx.Row) (accounting.Account, error) {
	var a accounting.Account
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.IsSystemControlled, &a.AllowsIntercompany, &a.ExternalMapping)
	return a, err
}

func (r *repository) List(ctx context.Context, tenantID string) ([]accounting.Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 ORDER BY code`, tenantID)
}

func (r *repository) FindByID(ctx context.Context, tenantID, id string) (accounting.Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return accounting.Account{}, ErrAccountNotFound
	}
	return a, err
}

func (r *repository) FindByCode(ctx context.Context, tenantID, code string) (accounting.Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND code=$2`, tenantID, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return accounting.Account{}, ErrAccountNotFound
	}
	return a, err
}

// FindByCodes returns the accounts that exist; missing codes are simply absent.
func (r *repository) FindByCodes(ctx context.Context, tenantID string, codes []string) ([]accounting.Account, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND code = ANY($2) ORDER BY code`, tenantID, codes)
}

func (r *repository) query(ctx context.Context, sql string, args ...any) ([]accounting.Account, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []accounting.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
