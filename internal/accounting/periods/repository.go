package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type repository struct {
	db shared.DBTX
}

// NewRepository returns the Postgres period store.
func NewRepository(db shared.DBTX) Repository {
	return &repository{db: db}
}

const periodColumns = `id, tenant_id, name, start_date, end_date, status`

func scanPeriod(row pgx.Row) (accounting.Period, error) {
	var p accounting.Period
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.StartDate, &p.EndDate, &p.Status); err != nil {
		return accounting.Period{}, err
	}
	p.StartDate = accounting.CivilDate(p.StartDate)
	p.EndDate = accounting.CivilDate(p.EndDate)
	return p, nil
}

func (r *repository) FindByID(ctx context.Context, tenantID, periodID string) (accounting.Period, error) {
	p, err := scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+`
FROM accounting_periods WHERE tenant_id=$1 AND id=$2`, tenantID, periodID))
	if errors.Is(err, pgx.ErrNoRows) {
		return accounting.Period{}, ErrPeriodNotFound
	}
	return p, err
}

// FindCovering returns nil when no period covers the date.
func (r *repository) FindCovering(ctx context.Context, tenantID string, date time.Time) (*accounting.Period, error) {
	return findCovering(ctx, r.db, tenantID, date, "")
}

// LockCovering is FindCovering under FOR SHARE: until the surrounding
// transaction ends, UpdateStatus on the returned period blocks.
func LockCovering(ctx context.Context, db shared.DBTX, tenantID string, date time.Time) (*accounting.Period, error) {
	return findCovering(ctx, db, tenantID, date, " FOR SHARE")
}

func findCovering(ctx context.Context, db shared.DBTX, tenantID string, date time.Time, lock string) (*accounting.Period, error) {
	p, err := scanPeriod(db.QueryRow(ctx, `SELECT `+periodColumns+`
FROM accounting_periods WHERE tenant_id=$1 AND $2::date BETWEEN start_date AND end_date
ORDER BY start_date LIMIT 1`+lock, tenantID, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) UpdateStatus(ctx context.Context, tenantID, periodID string, status accounting.PeriodStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounting_periods SET status=$3, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, tenantID, periodID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}
