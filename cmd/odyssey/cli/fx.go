package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/consol"
	"github.com/odyssey-erp/odyssey-ledger/internal/consol/fx"
)

// FXRepository is the storage the FX helpers read and write.
type FXRepository interface {
	fx.QuoteProvider
	UpsertFxRate(ctx context.Context, asOf time.Time, pair string, quote fx.Quote) error
	consol.EntityRepository
}

// FXOpsCLI offers operational helpers to manage FX rates used by consolidation.
type FXOpsCLI struct {
	repo     FXRepository
	maxDepth int
}

// NewFXOpsCLI constructs a new helper instance.
func NewFXOpsCLI(repo FXRepository) (*FXOpsCLI, error) {
	if repo == nil {
		return nil, errors.New("fx cli: repository required")
	}
	return &FXOpsCLI{repo: repo, maxDepth: consol.DefaultMaxDepth}, nil
}

// ValidateParams scopes a gap check to one entity tree and period.
type ValidateParams struct {
	TenantID string
	EntityID string
	Period   time.Time
	Pairs    []string
}

// ValidateResult is the gap check outcome with the pairs it considered.
type ValidateResult struct {
	EntityID           string
	ReportingCurrency  string
	ConsideredPairs    []string
	RequestedPairNames []string
	Result             fx.Result
}

// ValidateGaps checks that every foreign member currency of the tree under
// params.EntityID has both rates for the period. Explicit pairs are checked
// in addition.
func (c *FXOpsCLI) ValidateGaps(ctx context.Context, params ValidateParams) (ValidateResult, error) {
	root, err := c.repo.FindByID(ctx, params.TenantID, params.EntityID)
	if err != nil {
		return ValidateResult{}, err
	}
	currencies, err := c.memberCurrencies(ctx, params.TenantID, root)
	if err != nil {
		return ValidateResult{}, err
	}
	pairs := make(map[string]struct{})
	for _, ccy := range currencies {
		if ccy == root.Currency {
			continue
		}
		pairs[fx.Pair(ccy, root.Currency)] = struct{}{}
	}
	requested := make([]string, 0, len(params.Pairs))
	for _, p := range params.Pairs {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		requested = append(requested, p)
		pairs[p] = struct{}{}
	}
	considered := make([]string, 0, len(pairs))
	reqs := make([]fx.Requirement, 0, len(pairs))
	for pair := range pairs {
		considered = append(considered, pair)
	}
	sort.Strings(considered)
	for _, pair := range considered {
		reqs = append(reqs, fx.Requirement{Pair: pair, Methods: []fx.Method{fx.MethodAverage, fx.MethodClosing}})
	}
	res, err := fx.Validate(ctx, c.repo, params.Period, reqs)
	if err != nil {
		return ValidateResult{}, err
	}
	return ValidateResult{
		EntityID:           root.ID,
		ReportingCurrency:  root.Currency,
		ConsideredPairs:    considered,
		RequestedPairNames: requested,
		Result:             res,
	}, nil
}

func (c *FXOpsCLI) memberCurrencies(ctx context.Context, tenantID string, root consol.Entity) ([]string, error) {
	seen := map[string]bool{root.ID: true}
	set := map[string]struct{}{root.Currency: {}}
	level := []consol.Entity{root}
	for depth := 0; len(level) > 0; depth++ {
		if depth > c.maxDepth {
			return nil, consol.ErrTreeTooDeep
		}
		var next []consol.Entity
		for _, parent := range level {
			if parent.ConsolidationMethod == consol.MethodEquity && parent.ID != root.ID {
				continue
			}
			children, err := c.repo.Children(ctx, tenantID, parent.ID)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if seen[child.ID] {
					return nil, fmt.Errorf("%w at %s", consol.ErrEntityCycle, child.ID)
				}
				seen[child.ID] = true
				set[child.Currency] = struct{}{}
				next = append(next, child)
			}
		}
		level = next
	}
	out := make([]string, 0, len(set))
	for ccy := range set {
		out = append(out, ccy)
	}
	sort.Strings(out)
	return out, nil
}
