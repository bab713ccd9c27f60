package accounting

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func usd(t *testing.T, amount int64) Money {
	t.Helper()
	m, err := NewMoney(amount, "usd")
	require.NoError(t, err)
	return m
}

func baseInput(lines ...LineInput) EntryInput {
	return EntryInput{
		TenantID:           "t-1",
		EntityID:           "e-1",
		PostingDate:        time.Date(2024, 12, 15, 13, 30, 0, 0, time.UTC),
		SourceModule:       "MANUAL",
		SourceDocumentID:   "doc-1",
		SourceDocumentType: "JOURNAL",
		Description:        "accrual",
		CreatedBy:          "u-1",
		Lines:              lines,
	}
}

func TestNewJournalEntryBalanced(t *testing.T) {
	ids := &SequenceGenerator{Prefix: "id-"}
	entry, err := NewJournalEntry(ids, baseInput(
		DebitLine("1000-CASH", usd(t, 12_500)),
		CreditLine("4000-REV", usd(t, 10_000)),
		CreditLine("2100-TAX", usd(t, 2_500)),
	))
	require.NoError(t, err)
	require.Equal(t, "id-1", entry.ID())
	require.Equal(t, "USD", entry.Currency())
	require.Equal(t, int64(12_500), entry.Total().Amount())
	require.Equal(t, time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC), entry.PostingDate())
	require.Equal(t, entry.PostingDate(), entry.ValidTimeStart())
	require.Equal(t, 1, entry.Version())

	var debit, credit int64
	for _, l := range entry.Lines() {
		require.Equal(t, entry.ID(), l.EntryID())
		require.Equal(t, "USD", l.Credit().Currency())
		require.Equal(t, "USD", l.Debit().Currency())
		debit += l.Debit().Amount()
		credit += l.Credit().Amount()
	}
	require.Equal(t, debit, credit)
}

func TestNewJournalEntryRejectsSingleLine(t *testing.T) {
	_, err := NewJournalEntry(&SequenceGenerator{}, baseInput(DebitLine("1000-CASH", usd(t, 100))))
	var target *MinimumLinesError
	require.ErrorAs(t, err, &target)
	require.Equal(t, 1, target.Lines)
	require.Equal(t, CodeMinimumLines, Describe(err).Code)
}

func TestNewJournalEntryRejectsUnbalanced(t *testing.T) {
	_, err := NewJournalEntry(&SequenceGenerator{}, baseInput(
		DebitLine("1000-CASH", usd(t, 100)),
		CreditLine("4000-REV", usd(t, 90)),
	))
	var target *UnbalancedEntryError
	require.ErrorAs(t, err, &target)
	require.Equal(t, int64(100), target.DebitMinorUnits)
	require.Equal(t, int64(90), target.CreditMinorUnits)
}

func TestNewJournalEntryRejectsMixedCurrencies(t *testing.T) {
	eur, err := NewMoney(100, "EUR")
	require.NoError(t, err)
	_, err = NewJournalEntry(&SequenceGenerator{}, baseInput(
		DebitLine("1000-CASH", usd(t, 100)),
		CreditLine("4000-REV", eur),
	))
	var target *CurrencyMismatchError
	require.ErrorAs(t, err, &target)
	require.Equal(t, "USD", target.Expected)
	require.Equal(t, "EUR", target.Actual)
}

func TestNewJournalEntryRejectsMalformedLines(t *testing.T) {
	both := LineInput{AccountCode: "1000-CASH", Debit: usd(t, 5), Credit: usd(t, 5)}
	neither := LineInput{AccountCode: "4000-REV"}
	_, err := NewJournalEntry(&SequenceGenerator{}, baseInput(both, neither))
	var target *ValidationError
	require.ErrorAs(t, err, &target)
	require.Len(t, target.Violations, 3)
	require.Contains(t, target.Violations[0], "cannot be both debit and credit")
}

func TestReversedLinesStayBalanced(t *testing.T) {
	ids := &SequenceGenerator{}
	rate := decimal.RequireFromString("1.0842")
	txAmount := int64(9_223)
	original, err := NewJournalEntry(ids, baseInput(
		LineInput{AccountCode: "1000-CASH", Debit: usd(t, 10_000), TransactionAmountMinorUnits: &txAmount, TransactionCurrency: "eur", ExchangeRate: &rate},
		CreditLine("4000-REV", usd(t, 10_000)),
	))
	require.NoError(t, err)

	lines := original.Lines()
	reversed := lines[0].CreateReversal()
	require.True(t, reversed.Debit.IsZero())
	require.Equal(t, int64(10_000), reversed.Credit.Amount())
	require.Equal(t, int64(-9_223), *reversed.TransactionAmountMinorUnits)

	in := original.ReversalInput(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), "u-2")
	reversal, err := NewJournalEntry(ids, in)
	require.NoError(t, err)
	require.Equal(t, original.ID(), reversal.SourceDocumentID())
	for i, l := range reversal.Lines() {
		require.Equal(t, lines[i].Debit().Amount(), l.Credit().Amount())
		require.Equal(t, lines[i].Credit().Amount(), l.Debit().Amount())
		require.Equal(t, -lines[i].SignedAmount(), l.SignedAmount())
	}
}

func TestEntryIsNotMutableThroughAccessors(t *testing.T) {
	in := baseInput(
		DebitLine("1000-CASH", usd(t, 100)),
		CreditLine("4000-REV", usd(t, 100)),
	)
	in.Metadata = Metadata{"batch": StringValue("A")}
	entry, err := NewJournalEntry(&SequenceGenerator{}, in)
	require.NoError(t, err)

	in.Metadata["batch"] = StringValue("B")
	meta := entry.Metadata()
	meta["batch"] = StringValue("C")
	lines := entry.Lines()
	lines[0] = JournalEntryLine{}

	got, _ := entry.Metadata()["batch"].Str()
	require.Equal(t, "A", got)
	require.Equal(t, "1000-CASH", entry.Lines()[0].AccountCode())
}

func TestEntryJSONRoundTrip(t *testing.T) {
	in := baseInput(
		DebitLine("1000-CASH", usd(t, 100)),
		CreditLine("4000-REV", usd(t, 100)),
	)
	in.Metadata = Metadata{"approved": BoolValue(true), "score": NumberValue(3.5), "ref": StringValue("x")}
	entry, err := NewJournalEntry(&SequenceGenerator{}, in)
	require.NoError(t, err)

	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	var decoded JournalEntry
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, entry.Snapshot(), decoded.Snapshot())
}

func TestRestoreRejectsCorruptSnapshot(t *testing.T) {
	entry, err := NewJournalEntry(&SequenceGenerator{}, baseInput(
		DebitLine("1000-CASH", usd(t, 100)),
		CreditLine("4000-REV", usd(t, 100)),
	))
	require.NoError(t, err)
	snap := entry.Snapshot()
	snap.Lines[1].CreditMinorUnits = 99
	_, err = RestoreJournalEntry(snap)
	var target *UnbalancedEntryError
	require.True(t, errors.As(err, &target))
}

func TestReversalDescriptionStaysWithinLimit(t *testing.T) {
	in := baseInput(DebitLine("1000-CASH", usd(t, 100)), CreditLine("4000-REV", usd(t, 100)))
	in.Description = strings.Repeat("é", MaxDescriptionLength)
	original, err := NewJournalEntry(&SequenceGenerator{}, in)
	require.NoError(t, err)

	desc := original.ReversalInput(in.PostingDate, "u-2").Description
	require.Equal(t, MaxDescriptionLength, utf8.RuneCountInString(desc))
	require.True(t, strings.HasPrefix(desc, "Reversal of éé"))

	in.Description = "Invoice INV-9"
	short, err := NewJournalEntry(&SequenceGenerator{}, in)
	require.NoError(t, err)
	require.Equal(t, "Reversal of Invoice INV-9", short.ReversalInput(in.PostingDate, "u-2").Description)
}
