package consol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/consol/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Querier is the subset of pgx used by Repository.
type Querier interface {
	shared.DBTX
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository provides persistence helpers for consolidation workloads.
type Repository struct {
	db Querier
}

// NewRepository constructs a consolidation repository.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

const entityColumns = `id, tenant_id, name, COALESCE(parent_entity_id, ''), ownership_percentage::text, consolidation_method, currency`

func scanEntity(row pgx.Row) (Entity, error) {
	var (
		e         Entity
		ownership string
		method    string
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.Name, &e.ParentEntityID, &ownership, &method, &e.Currency); err != nil {
		return Entity{}, err
	}
	pct, err := decimal.NewFromString(ownership)
	if err != nil {
		return Entity{}, fmt.Errorf("consol: entity %s ownership: %w", e.ID, err)
	}
	e.OwnershipPercentage = pct
	e.ConsolidationMethod = ParseMethod(method)
	e.Currency = strings.ToUpper(e.Currency)
	return e, nil
}

// FindByID implements EntityRepository.
func (r *Repository) FindByID(ctx context.Context, tenantID, entityID string) (Entity, error) {
	e, err := scanEntity(r.db.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE tenant_id=$1 AND id=$2`, tenantID, entityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entity{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
		}
		return Entity{}, err
	}
	return e, nil
}

// Children implements EntityRepository.
func (r *Repository) Children(ctx context.Context, tenantID, parentID string) ([]Entity, error) {
	rows, err := r.db.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE tenant_id=$1 AND parent_entity_id=$2 ORDER BY id`, tenantID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// QuoteForPeriod implements fx.QuoteProvider from the fx_rates table.
func (r *Repository) QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (fx.Quote, bool, error) {
	period := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
	var avg, closing string
	err := r.db.QueryRow(ctx, `SELECT average_rate::text, closing_rate::text FROM fx_rates WHERE period=$1 AND pair=$2`,
		period, strings.ToUpper(pair)).Scan(&avg, &closing)
	if errors.Is(err, pgx.ErrNoRows) {
		return fx.Quote{}, false, nil
	}
	if err != nil {
		return fx.Quote{}, false, err
	}
	var q fx.Quote
	if q.Average, err = decimal.NewFromString(avg); err != nil {
		return fx.Quote{}, false, err
	}
	if q.Closing, err = decimal.NewFromString(closing); err != nil {
		return fx.Quote{}, false, err
	}
	return q, true, nil
}

// UpsertFxRate stores the monthly quote of a pair.
func (r *Repository) UpsertFxRate(ctx context.Context, asOf time.Time, pair string, quote fx.Quote) error {
	period := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
	_, err := r.db.Exec(ctx, `INSERT INTO fx_rates (period, pair, average_rate, closing_rate)
VALUES ($1, $2, $3::numeric, $4::numeric)
ON CONFLICT (period, pair) DO UPDATE SET average_rate = EXCLUDED.average_rate, closing_rate = EXCLUDED.closing_rate`,
		period, strings.ToUpper(pair), quote.Average.String(), quote.Closing.String())
	return err
}
