package consol

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Method controls how an entity's balances roll into its parent.
type Method string

const (
	MethodFull         Method = "FULL"
	MethodProportional Method = "PROPORTIONAL"
	MethodEquity       Method = "EQUITY"
)

// LineKind distinguishes rolled-up balances from computed adjustments.
type LineKind string

const (
	LineKindAccount      LineKind = "ACCOUNT"
	LineKindEquityPickup LineKind = "EQUITY_PICKUP"
	LineKindNCI          LineKind = "NCI"
)

var hundred = decimal.NewFromInt(100)

// Entity is one node of a group structure.
type Entity struct {
	ID                  string
	TenantID            string
	Name                string
	ParentEntityID      string
	OwnershipPercentage decimal.Decimal
	ConsolidationMethod Method
	Currency            string
}

// Validate checks the fields the walker relies on.
func (e Entity) Validate() error {
	var violations []string
	if e.OwnershipPercentage.IsNegative() || e.OwnershipPercentage.GreaterThan(hundred) {
		violations = append(violations, fmt.Sprintf("entity %s: ownership %s outside [0,100]", e.ID, e.OwnershipPercentage))
	}
	switch e.ConsolidationMethod {
	case MethodFull, MethodProportional, MethodEquity:
	default:
		violations = append(violations, fmt.Sprintf("entity %s: unknown consolidation method %q", e.ID, e.ConsolidationMethod))
	}
	if _, err := accounting.NormalizeCurrency(e.Currency); err != nil {
		violations = append(violations, fmt.Sprintf("entity %s: %v", e.ID, err))
	}
	if len(violations) > 0 {
		return &accounting.ValidationError{Violations: violations}
	}
	return nil
}

// Ownership is the ownership percentage as a fraction.
func (e Entity) Ownership() decimal.Decimal {
	return e.OwnershipPercentage.Div(hundred)
}

// Line is one row of a consolidated report. Account lines carry debit-positive
// balances; NCI and equity pickup lines carry the computed amount and name
// the subsidiary they were derived from.
type Line struct {
	AccountCode       string                 `json:"account_code"`
	AccountName       string                 `json:"account_name,omitempty"`
	AccountType       accounting.AccountType `json:"account_type,omitempty"`
	Kind              LineKind               `json:"kind"`
	EntityID          string                 `json:"entity_id,omitempty"`
	BalanceMinorUnits int64                  `json:"balance_minor_units"`
}

// Member summarises how one entity took part in a consolidation.
type Member struct {
	EntityID           string `json:"entity_id"`
	Name               string `json:"name"`
	Method             Method `json:"method"`
	Currency           string `json:"currency"`
	EffectiveOwnership string `json:"effective_ownership"`
	Depth              int    `json:"depth"`
}

// Report is the consolidated trial balance of a parent entity.
type Report struct {
	TenantID            string    `json:"tenant_id"`
	ParentEntityID      string    `json:"parent_entity_id"`
	AsOfDate            time.Time `json:"as_of_date"`
	KnownAt             time.Time `json:"known_at"`
	Currency            string    `json:"currency"`
	ConsolidationMethod Method    `json:"consolidation_method"`
	Lines               []Line    `json:"lines"`
	TotalNCIMinorUnits  *int64    `json:"total_nci_minor_units,omitempty"`
	Members             []Member  `json:"members"`
}

// ParseMethod normalises a stored method name.
func ParseMethod(raw string) Method {
	return Method(strings.ToUpper(strings.TrimSpace(raw)))
}
