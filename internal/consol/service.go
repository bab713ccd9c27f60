// Package consol rolls the trial balances of an entity tree into one
// consolidated report.
package consol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/consol/fx"
)

var (
	// ErrEntityNotFound indicates the requested entity is missing.
	ErrEntityNotFound = errors.New("consol: entity not found")
	// ErrEntityCycle indicates an entity was reached twice during a walk.
	ErrEntityCycle = errors.New("consol: entity hierarchy is not a tree")
	// ErrTreeTooDeep indicates the hierarchy exceeds the configured depth.
	ErrTreeTooDeep = errors.New("consol: entity hierarchy too deep")
	// ErrTranslationRequired indicates a foreign-currency balance without a translator.
	ErrTranslationRequired = errors.New("consol: currency translation required")
)

// EntityRepository reads the group structure.
type EntityRepository interface {
	FindByID(ctx context.Context, tenantID, entityID string) (Entity, error)
	Children(ctx context.Context, tenantID, parentID string) ([]Entity, error)
}

// TrialBalanceSource reads per-entity trial balances as of a date, bounded
// by a transaction-time cutoff.
type TrialBalanceSource interface {
	GetTrialBalanceData(ctx context.Context, tenantID, entityID string, asOf, knownAt time.Time) ([]journals.TrialBalanceRow, error)
}

// Config tunes the walker and the adjustment accounts.
type Config struct {
	MaxDepth          int
	Concurrency       int
	InvestmentAccount string
	NCIAccount        string
}

// Defaults for Config.
const (
	DefaultMaxDepth          = 8
	DefaultConcurrency       = 4
	DefaultInvestmentAccount = "INVESTMENT-EQUITY-METHOD"
	DefaultNCIAccount        = "NCI"
)

// Service computes consolidated reports.
type Service struct {
	entities   EntityRepository
	balances   TrialBalanceSource
	translator fx.Translator
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewService wires the consolidation service. translator may be nil when
// every entity reports in the parent's currency.
func NewService(entities EntityRepository, balances TrialBalanceSource, translator fx.Translator, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.InvestmentAccount == "" {
		cfg.InvestmentAccount = DefaultInvestmentAccount
	}
	if cfg.NCIAccount == "" {
		cfg.NCIAccount = DefaultNCIAccount
	}
	return &Service{
		entities:   entities,
		balances:   balances,
		translator: translator,
		cfg:        cfg,
		logger:     logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

type member struct {
	entity    Entity
	ownership decimal.Decimal
	depth     int
	root      bool
}

type balanceRow struct {
	fx.Amount
	name string
}

// Consolidate builds the consolidated report of parentEntityID as of asOf.
// Every trial balance is read with the same transaction-time cutoff.
func (s *Service) Consolidate(ctx context.Context, tenantID, parentEntityID string, asOf time.Time) (Report, error) {
	if s == nil || s.entities == nil || s.balances == nil {
		return Report{}, fmt.Errorf("consol service not initialised")
	}
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(parentEntityID) == "" {
		return Report{}, &accounting.ValidationError{Violations: []string{"tenant id and parent entity id required"}}
	}
	asOf = accounting.CivilDate(asOf)
	cutoff := s.now().UTC()

	root, err := s.entities.FindByID(ctx, tenantID, parentEntityID)
	if err != nil {
		return Report{}, err
	}
	currency, err := accounting.NormalizeCurrency(root.Currency)
	if err != nil {
		return Report{}, fmt.Errorf("consol: entity %s: %w", root.ID, err)
	}
	members, err := s.walkTree(ctx, tenantID, root)
	if err != nil {
		return Report{}, err
	}

	rows := make([][]balanceRow, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, m := range members {
		g.Go(func() error {
			tb, err := s.balances.GetTrialBalanceData(gctx, tenantID, m.entity.ID, asOf, cutoff)
			if err != nil {
				return fmt.Errorf("consol: trial balance of %s: %w", m.entity.ID, err)
			}
			translated, err := s.translate(gctx, asOf, m.entity, currency, tb)
			if err != nil {
				return err
			}
			rows[i] = translated
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := s.aggregate(members, rows)
	report.TenantID = tenantID
	report.ParentEntityID = root.ID
	report.AsOfDate = asOf
	report.KnownAt = cutoff
	report.Currency = currency
	report.ConsolidationMethod = root.ConsolidationMethod

	s.log().Info("consolidated entity tree",
		slog.String("tenant_id", tenantID),
		slog.String("parent_entity_id", root.ID),
		slog.String("as_of", asOf.Format(accounting.DateLayout)),
		slog.Int("members", len(members)),
		slog.Int("lines", len(report.Lines)))
	return report, nil
}

// walkTree returns the root followed by its descendants in depth-first
// order. Equity-method entities are leaves.
func (s *Service) walkTree(ctx context.Context, tenantID string, root Entity) ([]member, error) {
	visited := map[string]struct{}{root.ID: {}}
	members := []member{{entity: root, ownership: decimal.NewFromInt(1), root: true}}

	var visit func(parent member) error
	visit = func(parent member) error {
		if !parent.root && parent.entity.ConsolidationMethod == MethodEquity {
			return nil
		}
		children, err := s.entities.Children(ctx, tenantID, parent.entity.ID)
		if err != nil {
			return fmt.Errorf("consol: children of %s: %w", parent.entity.ID, err)
		}
		sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				return fmt.Errorf("%w: %s reached again below %s", ErrEntityCycle, child.ID, parent.entity.ID)
			}
			depth := parent.depth + 1
			if depth > s.cfg.MaxDepth {
				return fmt.Errorf("%w: %s is %d levels below %s", ErrTreeTooDeep, child.ID, depth, root.ID)
			}
			if err := child.Validate(); err != nil {
				return err
			}
			visited[child.ID] = struct{}{}
			m := member{entity: child, ownership: parent.ownership.Mul(child.Ownership()), depth: depth}
			members = append(members, m)
			if err := visit(m); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(members[0]); err != nil {
		return nil, err
	}
	return members, nil
}

// translate converts rows held in a foreign currency into the report currency.
func (s *Service) translate(ctx context.Context, asOf time.Time, entity Entity, currency string, tb []journals.TrialBalanceRow) ([]balanceRow, error) {
	byCurrency := map[string][]int{}
	out := make([]balanceRow, len(tb))
	for i, r := range tb {
		out[i] = balanceRow{
			Amount: fx.Amount{AccountCode: r.AccountCode, AccountType: r.AccountType, MinorUnits: r.BalanceMinorUnits},
			name:   r.AccountName,
		}
		cur := strings.ToUpper(r.Currency)
		if cur == "" {
			cur = strings.ToUpper(entity.Currency)
		}
		if cur != currency {
			byCurrency[cur] = append(byCurrency[cur], i)
		}
	}
	if len(byCurrency) == 0 {
		return out, nil
	}
	if s.translator == nil {
		return nil, fmt.Errorf("%w: entity %s holds balances outside %s", ErrTranslationRequired, entity.ID, currency)
	}
	foreign := make([]string, 0, len(byCurrency))
	for cur := range byCurrency {
		foreign = append(foreign, cur)
	}
	sort.Strings(foreign)
	for _, cur := range foreign {
		idx := byCurrency[cur]
		amounts := make([]fx.Amount, len(idx))
		for j, i := range idx {
			amounts[j] = out[i].Amount
		}
		converted, err := s.translator.Translate(ctx, asOf, cur, currency, amounts)
		if err != nil {
			return nil, fmt.Errorf("consol: translate %s for %s: %w", cur, entity.ID, err)
		}
		if len(converted) != len(idx) {
			return nil, fmt.Errorf("consol: translator returned %d amounts for %d", len(converted), len(idx))
		}
		for j, i := range idx {
			out[i].MinorUnits = converted[j].MinorUnits
		}
	}
	return out, nil
}

func (s *Service) aggregate(members []member, rows [][]balanceRow) Report {
	accounts := map[string]*Line{}
	var adjustments []Line
	var totalNCI int64
	hasNCI := false

	add := func(r balanceRow, amount int64) {
		line, ok := accounts[r.AccountCode]
		if !ok {
			line = &Line{AccountCode: r.AccountCode, AccountName: r.name, AccountType: r.AccountType, Kind: LineKindAccount}
			accounts[r.AccountCode] = line
		}
		line.BalanceMinorUnits += amount
	}

	report := Report{Members: make([]Member, 0, len(members))}
	for i, m := range members {
		method := m.entity.ConsolidationMethod
		if m.root {
			method = MethodFull
		}
		report.Members = append(report.Members, Member{
			EntityID:           m.entity.ID,
			Name:               m.entity.Name,
			Method:             method,
			Currency:           m.entity.Currency,
			EffectiveOwnership: m.ownership.String(),
			Depth:              m.depth,
		})

		switch method {
		case MethodFull:
			for _, r := range rows[i] {
				add(r, r.MinorUnits)
			}
			if m.root {
				continue
			}
			nci := roundHalfUp(decimal.NewFromInt(1).Sub(m.ownership).Mul(decimal.NewFromInt(netAssets(rows[i]))))
			adjustments = append(adjustments, Line{
				AccountCode:       s.cfg.NCIAccount,
				AccountType:       accounting.AccountTypeEquity,
				Kind:              LineKindNCI,
				EntityID:          m.entity.ID,
				BalanceMinorUnits: nci,
			})
			totalNCI += nci
			hasNCI = true
		case MethodProportional:
			for j, share := range proportionalShares(rows[i], m.ownership) {
				add(rows[i][j], share)
			}
		case MethodEquity:
			pickup := roundHalfUp(m.ownership.Mul(decimal.NewFromInt(netResult(rows[i]))))
			adjustments = append(adjustments, Line{
				AccountCode:       s.cfg.InvestmentAccount,
				AccountType:       accounting.AccountTypeAsset,
				Kind:              LineKindEquityPickup,
				EntityID:          m.entity.ID,
				BalanceMinorUnits: pickup,
			})
		}
	}

	report.Lines = make([]Line, 0, len(accounts)+len(adjustments))
	for _, l := range accounts {
		report.Lines = append(report.Lines, *l)
	}
	report.Lines = append(report.Lines, adjustments...)
	sort.SliceStable(report.Lines, func(i, j int) bool {
		a, b := report.Lines[i], report.Lines[j]
		if a.AccountCode != b.AccountCode {
			return a.AccountCode < b.AccountCode
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.EntityID < b.EntityID
	})
	if hasNCI {
		report.TotalNCIMinorUnits = &totalNCI
	}
	return report
}

// proportionalShares scales each row by ownership. Shares are rounded one by
// one and the residual goes to the largest row, so they sum to the rounded
// share of the total.
func proportionalShares(rows []balanceRow, ownership decimal.Decimal) []int64 {
	shares := make([]int64, len(rows))
	if len(rows) == 0 {
		return shares
	}
	var total, sum int64
	largest := 0
	for i, r := range rows {
		shares[i] = roundHalfUp(ownership.Mul(decimal.NewFromInt(r.MinorUnits)))
		total += r.MinorUnits
		sum += shares[i]
		if absMinor(r.MinorUnits) > absMinor(rows[largest].MinorUnits) {
			largest = i
		}
	}
	shares[largest] += roundHalfUp(ownership.Mul(decimal.NewFromInt(total))) - sum
	return shares
}

func absMinor(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// netAssets is assets less liabilities, debit-positive.
func netAssets(rows []balanceRow) int64 {
	var total int64
	for _, r := range rows {
		if r.AccountType == accounting.AccountTypeAsset || r.AccountType == accounting.AccountTypeLiability {
			total += r.MinorUnits
		}
	}
	return total
}

// netResult is income less expenses. Income balances are credit-negative,
// so the P&L sum is negated.
func netResult(rows []balanceRow) int64 {
	var total int64
	for _, r := range rows {
		if r.AccountType == accounting.AccountTypeRevenue || r.AccountType == accounting.AccountTypeExpense {
			total += r.MinorUnits
		}
	}
	return -total
}

// roundHalfUp rounds to the nearest minor unit, halves away from zero.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "consol"))
	}
	return slog.Default().With(slog.String("component", "consol"))
}
