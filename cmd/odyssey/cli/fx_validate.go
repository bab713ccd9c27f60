package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/consol/fx"
)

// FXValidateOptions are the flags of `fx validate`.
type FXValidateOptions struct {
	TenantID   string
	EntityID   string
	Period     string
	Pairs      []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// FXQuoteStatus names one pair/method of one month.
type FXQuoteStatus struct {
	Pair   string `json:"pair"`
	Period string `json:"period"`
	Method string `json:"method"`
}

// FXValidateSummary is the JSON output of `fx validate`.
type FXValidateSummary struct {
	OK                bool            `json:"ok"`
	EntityID          string          `json:"entity_id"`
	ReportingCurrency string          `json:"reporting_currency"`
	Gaps              []FXQuoteStatus `json:"gaps"`
	AvailableQuotes   []FXQuoteStatus `json:"available_quotes"`
}

// ValidateCommand checks the rates a consolidation of the entity tree needs.
// Exit codes: 0 complete, 10 gaps found, 1 failure.
func (c *FXOpsCLI) ValidateCommand(ctx context.Context, opts FXValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	fail := func(format string, args ...any) int {
		fmt.Fprintf(opts.Stderr, "fx validate: "+format+"\n", args...)
		return 1
	}
	if strings.TrimSpace(opts.TenantID) == "" || strings.TrimSpace(opts.EntityID) == "" {
		return fail("--tenant and --entity are required")
	}
	period, err := time.Parse(periodLayout, strings.TrimSpace(opts.Period))
	if err != nil {
		return fail("invalid period %q (expected YYYY-MM)", opts.Period)
	}
	result, err := c.ValidateGaps(ctx, ValidateParams{TenantID: opts.TenantID, EntityID: opts.EntityID, Period: period, Pairs: opts.Pairs})
	if err != nil {
		return fail("%v", err)
	}
	summary := summarizeValidation(result)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			return fail("encode json: %v", err)
		}
	} else {
		printValidation(opts.Stdout, result, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func summarizeValidation(result ValidateResult) FXValidateSummary {
	period := result.Result.Period.Format(periodLayout)
	summary := FXValidateSummary{
		EntityID:          result.EntityID,
		ReportingCurrency: result.ReportingCurrency,
		Gaps:              []FXQuoteStatus{},
		AvailableQuotes:   []FXQuoteStatus{},
	}
	for _, gap := range result.Result.Gaps {
		for _, m := range gap.Methods {
			summary.Gaps = append(summary.Gaps, FXQuoteStatus{Pair: gap.Pair, Period: period, Method: string(m)})
		}
	}
	for pair, quote := range result.Result.Available {
		for _, m := range quotedMethods(quote) {
			summary.AvailableQuotes = append(summary.AvailableQuotes, FXQuoteStatus{Pair: pair, Period: period, Method: m})
		}
	}
	sortStatuses(summary.Gaps)
	sortStatuses(summary.AvailableQuotes)
	summary.OK = len(summary.Gaps) == 0
	return summary
}

func quotedMethods(q fx.Quote) []string {
	var out []string
	if q.Average.IsPositive() {
		out = append(out, string(fx.MethodAverage))
	}
	if q.Closing.IsPositive() {
		out = append(out, string(fx.MethodClosing))
	}
	return out
}

func sortStatuses(rows []FXQuoteStatus) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Pair != b.Pair {
			return a.Pair < b.Pair
		}
		return a.Method < b.Method
	})
}

func printValidation(out io.Writer, result ValidateResult, summary FXValidateSummary) {
	fmt.Fprintf(out, "FX validation for entity %s (%s), period %s\n",
		result.EntityID, result.ReportingCurrency, result.Result.Period.Format(periodLayout))
	if summary.OK {
		fmt.Fprintln(out, "All required FX rates are present.")
	} else {
		fmt.Fprintf(out, "%d gap(s) detected:\n", len(summary.Gaps))
		for _, gap := range summary.Gaps {
			fmt.Fprintf(out, " - %s missing %s\n", gap.Pair, gap.Method)
		}
	}
	if len(result.ConsideredPairs) > 0 {
		fmt.Fprintln(out, "Checked pairs:")
		for _, pair := range result.ConsideredPairs {
			methods := quotedMethods(result.Result.Available[pair])
			if len(methods) == 0 {
				fmt.Fprintf(out, " - %s (missing)\n", pair)
				continue
			}
			fmt.Fprintf(out, " - %s (%s)\n", pair, strings.Join(methods, ", "))
		}
	}
	if len(result.RequestedPairNames) > 0 {
		fmt.Fprintf(out, "Requested pairs: %s\n", strings.Join(result.RequestedPairNames, ", "))
	}
}
