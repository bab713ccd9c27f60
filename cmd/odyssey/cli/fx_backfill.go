package cli

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/consol/fx"
)

// FXBackfillMode selects whether a backfill only reports or also writes.
type FXBackfillMode string

const (
	FXBackfillModeDry   FXBackfillMode = "dry"
	FXBackfillModeApply FXBackfillMode = "apply"
)

const periodLayout = "2006-01"

// inverseScale is the number of decimals kept when a quote is derived from
// the inverse pair.
const inverseScale = 10

// FXBackfillOptions configures the backfill command. SourceReader wins over
// Source; Source "-" reads Stdin.
type FXBackfillOptions struct {
	Pair         string
	From         string
	To           string
	Mode         FXBackfillMode
	Source       string
	SourceReader io.Reader
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
	Confirm      func(io.Reader, io.Writer) (bool, error)
}

// FXBackfillSummary is the command report.
type FXBackfillSummary struct {
	Pair       string                `json:"pair"`
	Mode       FXBackfillMode        `json:"mode"`
	From       string                `json:"from"`
	To         string                `json:"to"`
	Missing    []FXBackfillGap       `json:"missing"`
	Candidates []FXBackfillCandidate `json:"candidates"`
	Applied    []FXBackfillCandidate `json:"applied,omitempty"`
	Unsourced  []string              `json:"unsourced,omitempty"`
}

// FXBackfillGap is one month lacking average and/or closing quotes.
type FXBackfillGap struct {
	Period  string   `json:"period"`
	Missing []string `json:"missing_methods"`
}

// FXBackfillCandidate is a quote found in the source for a missing month.
type FXBackfillCandidate struct {
	Period   string          `json:"period"`
	Average  decimal.Decimal `json:"average"`
	Closing  decimal.Decimal `json:"closing"`
	Inverted bool            `json:"inverted,omitempty"`
}

func (c FXBackfillCandidate) quote() fx.Quote {
	return fx.Quote{Average: c.Average, Closing: c.Closing}
}

type backfillRequest struct {
	pair   string
	mode   FXBackfillMode
	months []time.Time
}

func parseBackfill(opts FXBackfillOptions) (backfillRequest, error) {
	req := backfillRequest{
		pair: strings.ToUpper(strings.TrimSpace(opts.Pair)),
		mode: FXBackfillMode(strings.ToLower(strings.TrimSpace(string(opts.Mode)))),
	}
	if req.mode == "" {
		req.mode = FXBackfillModeDry
	}
	if req.mode != FXBackfillModeDry && req.mode != FXBackfillModeApply {
		return req, fmt.Errorf("invalid mode %q (expected dry or apply)", opts.Mode)
	}
	if len(req.pair) != 6 {
		return req, errors.New("--pair must be six letters such as USDIDR")
	}
	from, err := time.Parse(periodLayout, strings.TrimSpace(opts.From))
	if err != nil {
		return req, fmt.Errorf("invalid --from %q (expected YYYY-MM)", opts.From)
	}
	to, err := time.Parse(periodLayout, strings.TrimSpace(opts.To))
	if err != nil {
		return req, fmt.Errorf("invalid --to %q (expected YYYY-MM)", opts.To)
	}
	if from.After(to) {
		return req, errors.New("--from must not be after --to")
	}
	for m := from; !m.After(to); m = m.AddDate(0, 1, 0) {
		req.months = append(req.months, m)
	}
	return req, nil
}

// BackfillCommand reports the months of a pair without complete quotes and,
// in apply mode, writes the quotes supplied by the CSV source. Exit codes:
// 0 nothing left to do, 10 gaps remain, 1 failure.
func (c *FXOpsCLI) BackfillCommand(ctx context.Context, opts FXBackfillOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	fail := func(err error) int {
		fmt.Fprintf(opts.Stderr, "fx backfill: %v\n", err)
		return 1
	}

	req, err := parseBackfill(opts)
	if err != nil {
		return fail(err)
	}
	gaps, err := c.findGaps(ctx, req)
	if err != nil {
		return fail(err)
	}
	sourced, err := loadQuoteSource(opts, req.pair)
	if err != nil {
		return fail(err)
	}

	summary := FXBackfillSummary{
		Pair:    req.pair,
		Mode:    req.mode,
		From:    req.months[0].Format(periodLayout),
		To:      req.months[len(req.months)-1].Format(periodLayout),
		Missing: gaps,
	}
	for _, gap := range gaps {
		if candidate, ok := sourced[gap.Period]; ok {
			summary.Candidates = append(summary.Candidates, candidate)
		} else {
			summary.Unsourced = append(summary.Unsourced, gap.Period)
		}
	}

	if req.mode == FXBackfillModeApply && len(summary.Candidates) > 0 {
		confirm := opts.Confirm
		if confirm == nil {
			confirm = confirmOnYes
		}
		ok, err := confirm(opts.Stdin, opts.Stdout)
		if err != nil {
			return fail(fmt.Errorf("confirmation failed: %w", err))
		}
		if !ok {
			return fail(errors.New("cancelled by user"))
		}
		for _, candidate := range summary.Candidates {
			q := candidate.quote()
			if !q.Average.IsPositive() || !q.Closing.IsPositive() {
				return fail(fmt.Errorf("non-positive rates for %s", candidate.Period))
			}
			month, _ := time.Parse(periodLayout, candidate.Period)
			if err := c.repo.UpsertFxRate(ctx, month, req.pair, q); err != nil {
				return fail(fmt.Errorf("apply %s: %w", candidate.Period, err))
			}
			summary.Applied = append(summary.Applied, candidate)
		}
	}

	if err := writeBackfillSummary(opts, summary); err != nil {
		return fail(err)
	}
	remaining := len(gaps) - len(summary.Applied)
	if remaining > 0 {
		return 10
	}
	return 0
}

func (c *FXOpsCLI) findGaps(ctx context.Context, req backfillRequest) ([]FXBackfillGap, error) {
	both := []fx.Requirement{{Pair: req.pair, Methods: []fx.Method{fx.MethodAverage, fx.MethodClosing}}}
	var gaps []FXBackfillGap
	for _, month := range req.months {
		res, err := fx.Validate(ctx, c.repo, month, both)
		if err != nil {
			return nil, fmt.Errorf("validate %s: %w", month.Format(periodLayout), err)
		}
		for _, gap := range res.Gaps {
			methods := make([]string, 0, len(gap.Methods))
			for _, m := range gap.Methods {
				methods = append(methods, string(m))
			}
			sort.Strings(methods)
			gaps = append(gaps, FXBackfillGap{Period: month.Format(periodLayout), Missing: methods})
		}
	}
	return gaps, nil
}

func loadQuoteSource(opts FXBackfillOptions, pair string) (map[string]FXBackfillCandidate, error) {
	switch src := strings.TrimSpace(opts.Source); {
	case opts.SourceReader != nil:
		return readQuoteSource(opts.SourceReader, pair)
	case src == "":
		return nil, nil
	case src == "-":
		return readQuoteSource(opts.Stdin, pair)
	default:
		f, err := os.Open(src)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return readQuoteSource(f, pair)
	}
}

// readQuoteSource parses CSV rows of period,pair,average,closing (header
// required, "#" comments allowed). Rows quoting the inverse pair are
// inverted when the pair itself is absent for that month.
func readQuoteSource(r io.Reader, pair string) (map[string]FXBackfillCandidate, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read source header: %w", err)
	}
	cols, err := quoteColumns(header)
	if err != nil {
		return nil, err
	}

	inverse := pair[3:] + pair[:3]
	direct := make(map[string]FXBackfillCandidate)
	inverted := make(map[string]FXBackfillCandidate)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		if len(record) <= cols.max {
			return nil, fmt.Errorf("source line has %d fields, need %d", len(record), cols.max+1)
		}
		rowPair := strings.ToUpper(strings.TrimSpace(record[cols.pair]))
		if rowPair != pair && rowPair != inverse {
			continue
		}
		month, err := time.Parse(periodLayout, strings.TrimSpace(record[cols.period]))
		if err != nil {
			return nil, fmt.Errorf("invalid period %q in source", record[cols.period])
		}
		period := month.Format(periodLayout)
		avg, err := decimal.NewFromString(strings.TrimSpace(record[cols.average]))
		if err != nil {
			return nil, fmt.Errorf("invalid average for %s: %w", period, err)
		}
		closing, err := decimal.NewFromString(strings.TrimSpace(record[cols.closing]))
		if err != nil {
			return nil, fmt.Errorf("invalid closing for %s: %w", period, err)
		}
		if rowPair == pair {
			direct[period] = FXBackfillCandidate{Period: period, Average: avg, Closing: closing}
			continue
		}
		if !avg.IsPositive() || !closing.IsPositive() {
			return nil, fmt.Errorf("cannot invert non-positive %s rate for %s", rowPair, period)
		}
		one := decimal.NewFromInt(1)
		inverted[period] = FXBackfillCandidate{
			Period:   period,
			Average:  one.DivRound(avg, inverseScale),
			Closing:  one.DivRound(closing, inverseScale),
			Inverted: true,
		}
	}
	for period, candidate := range inverted {
		if _, ok := direct[period]; !ok {
			direct[period] = candidate
		}
	}
	return direct, nil
}

type quoteColumnIndex struct {
	period, pair, average, closing, max int
}

func quoteColumns(header []string) (quoteColumnIndex, error) {
	idx := quoteColumnIndex{period: -1, pair: -1, average: -1, closing: -1}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "period":
			idx.period = i
		case "pair":
			idx.pair = i
		case "average", "average_rate":
			idx.average = i
		case "closing", "closing_rate":
			idx.closing = i
		}
	}
	for _, i := range []int{idx.period, idx.pair, idx.average, idx.closing} {
		if i < 0 {
			return idx, errors.New("source header needs period, pair, average and closing")
		}
		if i > idx.max {
			idx.max = i
		}
	}
	return idx, nil
}

func writeBackfillSummary(opts FXBackfillOptions, summary FXBackfillSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	out := opts.Stdout
	fmt.Fprintf(out, "FX backfill (%s) for %s, %s to %s\n", summary.Mode, summary.Pair, summary.From, summary.To)
	if len(summary.Missing) == 0 {
		fmt.Fprintln(out, "No gaps detected.")
		return nil
	}
	fmt.Fprintf(out, "%d gap(s) detected:\n", len(summary.Missing))
	for _, gap := range summary.Missing {
		fmt.Fprintf(out, " - %s missing %s\n", gap.Period, strings.Join(gap.Missing, ", "))
	}
	printCandidates(out, "Source quotes:", summary.Candidates)
	printCandidates(out, "Applied:", summary.Applied)
	if len(summary.Unsourced) > 0 {
		fmt.Fprintf(out, "No source quote for: %s\n", strings.Join(summary.Unsourced, ", "))
	}
	return nil
}

func printCandidates(out io.Writer, title string, rows []FXBackfillCandidate) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(out, title)
	for _, row := range rows {
		suffix := ""
		if row.Inverted {
			suffix = " (inverted)"
		}
		fmt.Fprintf(out, " - %s average %s closing %s%s\n", row.Period, row.Average, row.Closing, suffix)
	}
}

func confirmOnYes(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply FX backfill? Type YES to confirm: ")
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
