// Package fx translates trial-balance amounts between currencies for
// consolidation.
package fx

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Quote holds the average and closing rates of one pair for one month.
// A rate converts one major unit of the base into the quote currency.
type Quote struct {
	Average decimal.Decimal
	Closing decimal.Decimal
}

// Rate returns the rate for method.
func (q Quote) Rate(method Method) decimal.Decimal {
	if method == MethodAverage {
		return q.Average
	}
	return q.Closing
}

// Amount is one account balance in minor units.
type Amount struct {
	AccountCode string
	AccountType accounting.AccountType
	MinorUnits  int64
}

// Translator converts amounts from one currency into another as of a date.
type Translator interface {
	Translate(ctx context.Context, asOf time.Time, from, to string, amounts []Amount) ([]Amount, error)
}

// MissingRateError reports pairs without usable quotes for a period.
type MissingRateError struct {
	Period time.Time
	Gaps   []Gap
}

func (e *MissingRateError) Error() string {
	parts := make([]string, 0, len(e.Gaps))
	for _, g := range e.Gaps {
		methods := make([]string, len(g.Methods))
		for i, m := range g.Methods {
			methods[i] = string(m)
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", g.Pair, strings.Join(methods, ",")))
	}
	return fmt.Sprintf("fx: rates missing for %s: %s", e.Period.Format("2006-01"), strings.Join(parts, "; "))
}

// Code identifies the error on the wire.
func (e *MissingRateError) Code() string { return "FX_RATE_MISSING" }

// Pair joins base and quote currency codes.
func Pair(from, to string) string {
	return strings.ToUpper(strings.TrimSpace(from)) + strings.ToUpper(strings.TrimSpace(to))
}

// RateTable is an in-memory QuoteProvider.
type RateTable struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewRateTable constructs an empty table.
func NewRateTable() *RateTable {
	return &RateTable{quotes: make(map[string]Quote)}
}

func periodOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func quoteKey(period time.Time, pair string) string {
	return period.Format("2006-01") + "|" + strings.ToUpper(pair)
}

// Set stores the quote of pair for the month containing asOf.
func (t *RateTable) Set(asOf time.Time, pair string, quote Quote) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.quotes[quoteKey(periodOf(asOf), pair)] = quote
}

// QuoteForPeriod implements QuoteProvider.
func (t *RateTable) QuoteForPeriod(_ context.Context, asOf time.Time, pair string) (Quote, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.quotes[quoteKey(periodOf(asOf), pair)]
	return q, ok, nil
}

// Converter is the Translator applying a Policy to quotes from a provider.
type Converter struct {
	policy Policy
	quotes QuoteProvider
}

// NewConverter constructs a converter instance.
func NewConverter(policy Policy, quotes QuoteProvider) *Converter {
	return &Converter{policy: policy, quotes: quotes}
}

// Translate converts every amount at the rate its account type calls for.
// Results are rounded half away from zero to the target's minor unit.
func (c *Converter) Translate(ctx context.Context, asOf time.Time, from, to string, amounts []Amount) ([]Amount, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return append([]Amount(nil), amounts...), nil
	}
	fromScale, err := minorScale(from)
	if err != nil {
		return nil, err
	}
	toScale, err := minorScale(to)
	if err != nil {
		return nil, err
	}
	if len(amounts) == 0 {
		return nil, nil
	}

	needed := map[Method]struct{}{}
	for _, a := range amounts {
		needed[c.policy.MethodFor(a.AccountType)] = struct{}{}
	}
	methods := make([]Method, 0, len(needed))
	for m := range needed {
		methods = append(methods, m)
	}
	pair := Pair(from, to)
	res, err := Validate(ctx, c.quotes, asOf, []Requirement{{Pair: pair, Methods: methods}})
	if err != nil {
		return nil, err
	}
	if len(res.Gaps) > 0 {
		return nil, &MissingRateError{Period: res.Period, Gaps: res.Gaps}
	}
	quote := res.Available[pair]

	out := make([]Amount, len(amounts))
	for i, a := range amounts {
		rate := quote.Rate(c.policy.MethodFor(a.AccountType))
		converted := decimal.New(a.MinorUnits, -fromScale).Mul(rate).Shift(toScale).Round(0)
		out[i] = Amount{AccountCode: a.AccountCode, AccountType: a.AccountType, MinorUnits: converted.IntPart()}
	}
	return out, nil
}

func minorScale(code string) (int32, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("fx: %q is not an ISO-4217 code", code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}
