package fx

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// QuoteProvider looks up the quote of a pair for the month containing asOf.
type QuoteProvider interface {
	QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (Quote, bool, error)
}

// Requirement lists the methods a consolidation needs for one pair.
type Requirement struct {
	Pair    string
	Methods []Method
}

// Gap lists the methods of a pair that have no positive rate.
type Gap struct {
	Pair    string
	Methods []Method
}

// Result is the outcome of Validate for one month.
type Result struct {
	Period    time.Time
	Checked   int
	Gaps      []Gap
	Available map[string]Quote
}

var (
	ErrProviderRequired   = errors.New("fx: quote provider required")
	ErrPeriodRequired     = errors.New("fx: period is required")
	ErrInvalidRequirement = errors.New("fx: invalid requirement")
)

// methodMask is a set of Methods; the bit order gives the sort order.
type methodMask uint8

const (
	maskAverage methodMask = 1 << iota
	maskClosing
)

var maskOrder = []struct {
	bit    methodMask
	method Method
}{{maskAverage, MethodAverage}, {maskClosing, MethodClosing}}

func maskOf(m Method) (methodMask, bool) {
	for _, o := range maskOrder {
		if o.method == m {
			return o.bit, true
		}
	}
	return 0, false
}

func (m methodMask) methods() []Method {
	var out []Method
	for _, o := range maskOrder {
		if m&o.bit != 0 {
			out = append(out, o.method)
		}
	}
	return out
}

// Validate checks that every requirement has a positive rate in the month of
// asOf. Requirements naming the same pair are merged; pairs are checked in
// lexical order.
func Validate(ctx context.Context, provider QuoteProvider, asOf time.Time, reqs []Requirement) (Result, error) {
	if provider == nil {
		return Result{}, ErrProviderRequired
	}
	if asOf.IsZero() {
		return Result{}, ErrPeriodRequired
	}
	needed := make(map[string]methodMask, len(reqs))
	for _, req := range reqs {
		pair := strings.ToUpper(strings.TrimSpace(req.Pair))
		if pair == "" {
			return Result{}, fmt.Errorf("%w: pair required", ErrInvalidRequirement)
		}
		if len(req.Methods) == 0 {
			return Result{}, fmt.Errorf("%w: no methods for %s", ErrInvalidRequirement, pair)
		}
		for _, m := range req.Methods {
			bit, ok := maskOf(m)
			if !ok {
				return Result{}, fmt.Errorf("%w: unsupported method %q for %s", ErrInvalidRequirement, m, pair)
			}
			needed[pair] |= bit
		}
	}

	pairs := make([]string, 0, len(needed))
	for pair := range needed {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	res := Result{Period: periodOf(asOf), Gaps: []Gap{}, Available: make(map[string]Quote, len(pairs))}
	for _, pair := range pairs {
		quote, ok, err := provider.QuoteForPeriod(ctx, res.Period, pair)
		if err != nil {
			return Result{}, err
		}
		res.Checked++
		missing := needed[pair]
		if ok {
			res.Available[pair] = quote
			for _, o := range maskOrder {
				if quote.Rate(o.method).IsPositive() {
					missing &^= o.bit
				}
			}
		}
		if missing != 0 {
			res.Gaps = append(res.Gaps, Gap{Pair: pair, Methods: missing.methods()})
		}
	}
	return res, nil
}
