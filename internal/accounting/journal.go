package accounting

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// LineInput is the raw, unvalidated form of a journal line.
type LineInput struct {
	AccountCode            string
	Debit                  Money
	Credit                 Money
	CostCenter             string
	ProjectID              string
	IntercompanyPartnerID  string
	EliminationAccountCode string
	Metadata               Metadata

	TransactionAmountMinorUnits *int64
	TransactionCurrency         string
	ExchangeRate                *decimal.Decimal
}

// DebitLine is shorthand for a debit-only line input.
func DebitLine(accountCode string, amount Money) LineInput {
	return LineInput{AccountCode: accountCode, Debit: amount}
}

// CreditLine is shorthand for a credit-only line input.
func CreditLine(accountCode string, amount Money) LineInput {
	return LineInput{AccountCode: accountCode, Credit: amount}
}

// JournalEntryLine is one frozen debit-or-credit leg of an entry.
type JournalEntryLine struct {
	id                     string
	entryID                string
	accountCode            string
	debit                  Money
	credit                 Money
	costCenter             string
	projectID              string
	intercompanyPartnerID  string
	eliminationAccountCode string
	metadata               Metadata

	transactionAmount   *int64
	transactionCurrency string
	exchangeRate        *decimal.Decimal
}

func (l JournalEntryLine) ID() string                     { return l.id }
func (l JournalEntryLine) EntryID() string                { return l.entryID }
func (l JournalEntryLine) AccountCode() string            { return l.accountCode }
func (l JournalEntryLine) Debit() Money                   { return l.debit }
func (l JournalEntryLine) Credit() Money                  { return l.credit }
func (l JournalEntryLine) CostCenter() string             { return l.costCenter }
func (l JournalEntryLine) ProjectID() string              { return l.projectID }
func (l JournalEntryLine) IntercompanyPartnerID() string  { return l.intercompanyPartnerID }
func (l JournalEntryLine) EliminationAccountCode() string { return l.eliminationAccountCode }
func (l JournalEntryLine) Metadata() Metadata             { return l.metadata.Clone() }
func (l JournalEntryLine) TransactionCurrency() string    { return l.transactionCurrency }

// TransactionAmount returns the original transaction-currency amount if set.
func (l JournalEntryLine) TransactionAmount() (int64, bool) {
	if l.transactionAmount == nil {
		return 0, false
	}
	return *l.transactionAmount, true
}

// ExchangeRate returns the transaction→entry currency rate if set.
func (l JournalEntryLine) ExchangeRate() (decimal.Decimal, bool) {
	if l.exchangeRate == nil {
		return decimal.Zero, false
	}
	return *l.exchangeRate, true
}

// IsDebit reports whether the line carries the debit side.
func (l JournalEntryLine) IsDebit() bool { return !l.debit.IsZero() }

// SignedAmount is debit minus credit in minor units.
func (l JournalEntryLine) SignedAmount() int64 {
	return l.debit.Amount() - l.credit.Amount()
}

// Currency returns the line currency.
func (l JournalEntryLine) Currency() string { return l.debit.Currency() }

// Input returns the raw form of the line, preserving every attribute.
func (l JournalEntryLine) Input() LineInput {
	in := LineInput{
		AccountCode:            l.accountCode,
		Debit:                  l.debit,
		Credit:                 l.credit,
		CostCenter:             l.costCenter,
		ProjectID:              l.projectID,
		IntercompanyPartnerID:  l.intercompanyPartnerID,
		EliminationAccountCode: l.eliminationAccountCode,
		Metadata:               l.metadata.Clone(),
		TransactionCurrency:    l.transactionCurrency,
	}
	if l.transactionAmount != nil {
		v := *l.transactionAmount
		in.TransactionAmountMinorUnits = &v
	}
	if l.exchangeRate != nil {
		r := *l.exchangeRate
		in.ExchangeRate = &r
	}
	return in
}

// CreateReversal returns the line with debit and credit swapped.
func (l JournalEntryLine) CreateReversal() LineInput {
	in := l.Input()
	in.Debit, in.Credit = l.credit, l.debit
	if in.TransactionAmountMinorUnits != nil {
		neg := -*in.TransactionAmountMinorUnits
		in.TransactionAmountMinorUnits = &neg
	}
	return in
}

// EntryInput groups the fields required to construct a journal entry.
type EntryInput struct {
	TenantID             string
	EntityID             string
	CounterpartyEntityID string
	IsIntercompany       bool
	PostingDate          time.Time
	ValidTimeStart       time.Time
	SourceModule         string
	SourceDocumentID     string
	SourceDocumentType   string
	Description          string
	Lines                []LineInput
	CreatedBy            string
	IdempotencyKey       string
	Metadata             Metadata
}

// JournalEntry is an immutable, balanced set of lines.
type JournalEntry struct {
	id                   string
	tenantID             string
	entityID             string
	counterpartyEntityID string
	isIntercompany       bool
	postingDate          time.Time
	validTimeStart       time.Time
	sourceModule         string
	sourceDocumentID     string
	sourceDocumentType   string
	description          string
	lines                []JournalEntryLine
	version              int
	createdBy            string
	idempotencyKey       string
	metadata             Metadata
	currency             string
	total                int64
}

// NewJournalEntry validates the input and returns a frozen entry.
func NewJournalEntry(ids IDGenerator, in EntryInput) (JournalEntry, error) {
	if ids == nil {
		return JournalEntry{}, fmt.Errorf("accounting: id generator required")
	}
	entryID := ids.NewID()
	lineIDs := make([]string, len(in.Lines))
	for i := range in.Lines {
		lineIDs[i] = ids.NewID()
	}
	return build(entryID, lineIDs, 1, in)
}

func build(entryID string, lineIDs []string, version int, in EntryInput) (JournalEntry, error) {
	if len(in.Lines) < MinimumLines {
		return JournalEntry{}, &MinimumLinesError{Lines: len(in.Lines)}
	}
	var violations []string
	if strings.TrimSpace(in.TenantID) == "" {
		violations = append(violations, "tenant id required")
	}
	if strings.TrimSpace(in.EntityID) == "" {
		violations = append(violations, "entity id required")
	}
	if in.PostingDate.IsZero() {
		violations = append(violations, "posting date required")
	}

	entryCurrency := ""
	var debitTotal, creditTotal int64
	overflow := false
	lines := make([]JournalEntryLine, len(in.Lines))
	for idx, raw := range in.Lines {
		lineCurrency, problems := lineCurrency(raw)
		for _, p := range problems {
			violations = append(violations, fmt.Sprintf("line %d: %s", idx+1, p))
		}
		if len(problems) > 0 {
			continue
		}
		if entryCurrency == "" {
			entryCurrency = lineCurrency
		} else if lineCurrency != entryCurrency {
			return JournalEntry{}, &CurrencyMismatchError{Expected: entryCurrency, Actual: lineCurrency}
		}
		if strings.TrimSpace(raw.AccountCode) == "" {
			violations = append(violations, fmt.Sprintf("line %d: account code required", idx+1))
		}
		var ok bool
		if debitTotal, ok = addInt64(debitTotal, raw.Debit.Amount()); !ok {
			overflow = true
		}
		if creditTotal, ok = addInt64(creditTotal, raw.Credit.Amount()); !ok {
			overflow = true
		}
		lines[idx] = freezeLine(lineIDs[idx], entryID, lineCurrency, raw)
	}
	if overflow {
		violations = append(violations, ErrAmountOverflow.Error())
	}
	if len(violations) > 0 {
		return JournalEntry{}, &ValidationError{Violations: violations}
	}
	if debitTotal != creditTotal {
		return JournalEntry{}, &UnbalancedEntryError{
			DebitMinorUnits:  debitTotal,
			CreditMinorUnits: creditTotal,
			Currency:         entryCurrency,
		}
	}

	posting := CivilDate(in.PostingDate)
	validStart := posting
	if !in.ValidTimeStart.IsZero() {
		validStart = CivilDate(in.ValidTimeStart)
	}
	return JournalEntry{
		id:                   entryID,
		tenantID:             in.TenantID,
		entityID:             in.EntityID,
		counterpartyEntityID: in.CounterpartyEntityID,
		isIntercompany:       in.IsIntercompany,
		postingDate:          posting,
		validTimeStart:       validStart,
		sourceModule:         in.SourceModule,
		sourceDocumentID:     in.SourceDocumentID,
		sourceDocumentType:   in.SourceDocumentType,
		description:          in.Description,
		lines:                lines,
		version:              version,
		createdBy:            in.CreatedBy,
		idempotencyKey:       in.IdempotencyKey,
		metadata:             in.Metadata.Clone(),
		currency:             entryCurrency,
		total:                debitTotal,
	}, nil
}

// lineCurrency checks the one-sided rule and resolves the line currency. A
// side left as the zero Money takes the currency of the other side.
func lineCurrency(in LineInput) (string, []string) {
	var problems []string
	if in.Debit.IsNegative() || in.Credit.IsNegative() {
		problems = append(problems, "amounts must not be negative")
	}
	debitSet, creditSet := !in.Debit.IsZero(), !in.Credit.IsZero()
	switch {
	case debitSet && creditSet:
		problems = append(problems, "cannot be both debit and credit")
	case !debitSet && !creditSet:
		problems = append(problems, "must carry a debit or a credit amount")
	}
	dc, cc := in.Debit.Currency(), in.Credit.Currency()
	switch {
	case dc != "" && cc != "" && dc != cc:
		problems = append(problems, fmt.Sprintf("debit currency %s differs from credit currency %s", dc, cc))
	case dc == "" && cc == "":
		problems = append(problems, "currency required")
	}
	if dc == "" {
		dc = cc
	}
	return dc, problems
}

func freezeLine(id, entryID, currency string, in LineInput) JournalEntryLine {
	debit := Money{amount: in.Debit.Amount(), currency: currency}
	credit := Money{amount: in.Credit.Amount(), currency: currency}
	line := JournalEntryLine{
		id:                     id,
		entryID:                entryID,
		accountCode:            strings.TrimSpace(in.AccountCode),
		debit:                  debit,
		credit:                 credit,
		costCenter:             in.CostCenter,
		projectID:              in.ProjectID,
		intercompanyPartnerID:  in.IntercompanyPartnerID,
		eliminationAccountCode: in.EliminationAccountCode,
		metadata:               in.Metadata.Clone(),
		transactionCurrency:    strings.ToUpper(strings.TrimSpace(in.TransactionCurrency)),
	}
	if in.TransactionAmountMinorUnits != nil {
		v := *in.TransactionAmountMinorUnits
		line.transactionAmount = &v
	}
	if in.ExchangeRate != nil {
		r := *in.ExchangeRate
		line.exchangeRate = &r
	}
	return line
}

func (e JournalEntry) ID() string                   { return e.id }
func (e JournalEntry) TenantID() string             { return e.tenantID }
func (e JournalEntry) EntityID() string             { return e.entityID }
func (e JournalEntry) CounterpartyEntityID() string { return e.counterpartyEntityID }
func (e JournalEntry) IsIntercompany() bool         { return e.isIntercompany }
func (e JournalEntry) PostingDate() time.Time       { return e.postingDate }
func (e JournalEntry) ValidTimeStart() time.Time    { return e.validTimeStart }
func (e JournalEntry) SourceModule() string         { return e.sourceModule }
func (e JournalEntry) SourceDocumentID() string     { return e.sourceDocumentID }
func (e JournalEntry) SourceDocumentType() string   { return e.sourceDocumentType }
func (e JournalEntry) Description() string          { return e.description }
func (e JournalEntry) Version() int                 { return e.version }
func (e JournalEntry) CreatedBy() string            { return e.createdBy }
func (e JournalEntry) IdempotencyKey() string       { return e.idempotencyKey }
func (e JournalEntry) Currency() string             { return e.currency }
func (e JournalEntry) Metadata() Metadata           { return e.metadata.Clone() }

// Lines returns a copy of the ordered lines.
func (e JournalEntry) Lines() []JournalEntryLine {
	out := make([]JournalEntryLine, len(e.lines))
	copy(out, e.lines)
	return out
}

// Total returns the (equal) debit and credit total.
func (e JournalEntry) Total() Money {
	return Money{amount: e.total, currency: e.currency}
}

// Input returns the construction input that reproduces e's content.
func (e JournalEntry) Input() EntryInput {
	lines := make([]LineInput, len(e.lines))
	for i, l := range e.lines {
		lines[i] = l.Input()
	}
	return EntryInput{
		TenantID:             e.tenantID,
		EntityID:             e.entityID,
		CounterpartyEntityID: e.counterpartyEntityID,
		IsIntercompany:       e.isIntercompany,
		PostingDate:          e.postingDate,
		ValidTimeStart:       e.validTimeStart,
		SourceModule:         e.sourceModule,
		SourceDocumentID:     e.sourceDocumentID,
		SourceDocumentType:   e.sourceDocumentType,
		Description:          e.description,
		Lines:                lines,
		CreatedBy:            e.createdBy,
		IdempotencyKey:       e.idempotencyKey,
		Metadata:             e.metadata.Clone(),
	}
}

// MaxDescriptionLength is the longest entry description, in characters.
const MaxDescriptionLength = 500

// reversalDescription prefixes desc, cut to MaxDescriptionLength characters.
func reversalDescription(desc string) string {
	d := "Reversal of " + desc
	if utf8.RuneCountInString(d) <= MaxDescriptionLength {
		return d
	}
	return string([]rune(d)[:MaxDescriptionLength])
}

// ReversalInput builds the input of an entry that cancels e.
func (e JournalEntry) ReversalInput(postingDate time.Time, createdBy string) EntryInput {
	lines := make([]LineInput, len(e.lines))
	for i, l := range e.lines {
		lines[i] = l.CreateReversal()
	}
	return EntryInput{
		TenantID:             e.tenantID,
		EntityID:             e.entityID,
		CounterpartyEntityID: e.counterpartyEntityID,
		IsIntercompany:       e.isIntercompany,
		PostingDate:          postingDate,
		SourceModule:         e.sourceModule,
		SourceDocumentID:     e.id,
		SourceDocumentType:   "REVERSAL",
		Description:          reversalDescription(e.description),
		Lines:                lines,
		CreatedBy:            createdBy,
		Metadata:             e.metadata.Clone(),
	}
}

// LineSnapshot is the flat, persistable form of a line.
type LineSnapshot struct {
	ID                          string           `json:"id"`
	AccountCode                 string           `json:"accountCode"`
	DebitMinorUnits             int64            `json:"debitMinorUnits"`
	CreditMinorUnits            int64            `json:"creditMinorUnits"`
	CostCenter                  string           `json:"costCenter,omitempty"`
	ProjectID                   string           `json:"projectId,omitempty"`
	IntercompanyPartnerID       string           `json:"intercompanyPartnerId,omitempty"`
	EliminationAccountCode      string           `json:"eliminationAccountCode,omitempty"`
	Metadata                    Metadata         `json:"metadata,omitempty"`
	TransactionAmountMinorUnits *int64           `json:"transactionAmountMinorUnits,omitempty"`
	TransactionCurrency         string           `json:"transactionCurrency,omitempty"`
	ExchangeRate                *decimal.Decimal `json:"exchangeRate,omitempty"`
}

// EntrySnapshot is the flat, persistable form of an entry.
type EntrySnapshot struct {
	ID                   string         `json:"id"`
	TenantID             string         `json:"tenantId"`
	EntityID             string         `json:"entityId"`
	CounterpartyEntityID string         `json:"counterpartyEntityId,omitempty"`
	IsIntercompany       bool           `json:"isIntercompany"`
	PostingDate          time.Time      `json:"postingDate"`
	ValidTimeStart       time.Time      `json:"validTimeStart"`
	SourceModule         string         `json:"sourceModule"`
	SourceDocumentID     string         `json:"sourceDocumentId"`
	SourceDocumentType   string         `json:"sourceDocumentType"`
	Description          string         `json:"description"`
	Currency             string         `json:"currency"`
	Lines                []LineSnapshot `json:"lines"`
	Version              int            `json:"version"`
	CreatedBy            string         `json:"createdBy"`
	IdempotencyKey       string         `json:"idempotencyKey,omitempty"`
	Metadata             Metadata       `json:"metadata,omitempty"`
}

// Snapshot flattens the entry for persistence.
func (e JournalEntry) Snapshot() EntrySnapshot {
	lines := make([]LineSnapshot, len(e.lines))
	for i, l := range e.lines {
		in := l.Input()
		lines[i] = LineSnapshot{
			ID:                          l.id,
			AccountCode:                 l.accountCode,
			DebitMinorUnits:             l.debit.Amount(),
			CreditMinorUnits:            l.credit.Amount(),
			CostCenter:                  l.costCenter,
			ProjectID:                   l.projectID,
			IntercompanyPartnerID:       l.intercompanyPartnerID,
			EliminationAccountCode:      l.eliminationAccountCode,
			Metadata:                    in.Metadata,
			TransactionAmountMinorUnits: in.TransactionAmountMinorUnits,
			TransactionCurrency:         l.transactionCurrency,
			ExchangeRate:                in.ExchangeRate,
		}
	}
	return EntrySnapshot{
		ID:                   e.id,
		TenantID:             e.tenantID,
		EntityID:             e.entityID,
		CounterpartyEntityID: e.counterpartyEntityID,
		IsIntercompany:       e.isIntercompany,
		PostingDate:          e.postingDate,
		ValidTimeStart:       e.validTimeStart,
		SourceModule:         e.sourceModule,
		SourceDocumentID:     e.sourceDocumentID,
		SourceDocumentType:   e.sourceDocumentType,
		Description:          e.description,
		Currency:             e.currency,
		Lines:                lines,
		Version:              e.version,
		CreatedBy:            e.createdBy,
		IdempotencyKey:       e.idempotencyKey,
		Metadata:             e.metadata.Clone(),
	}
}

// RestoreJournalEntry rebuilds a persisted entry, re-checking every
// invariant so that a corrupt row never becomes a live entry.
func RestoreJournalEntry(s EntrySnapshot) (JournalEntry, error) {
	if s.ID == "" {
		return JournalEntry{}, fmt.Errorf("accounting: snapshot id required")
	}
	code, err := NormalizeCurrency(s.Currency)
	if err != nil {
		return JournalEntry{}, err
	}
	lineIDs := make([]string, len(s.Lines))
	lines := make([]LineInput, len(s.Lines))
	for i, l := range s.Lines {
		lineIDs[i] = l.ID
		lines[i] = LineInput{
			AccountCode:                 l.AccountCode,
			Debit:                       Money{amount: l.DebitMinorUnits, currency: code},
			Credit:                      Money{amount: l.CreditMinorUnits, currency: code},
			CostCenter:                  l.CostCenter,
			ProjectID:                   l.ProjectID,
			IntercompanyPartnerID:       l.IntercompanyPartnerID,
			EliminationAccountCode:      l.EliminationAccountCode,
			Metadata:                    l.Metadata,
			TransactionAmountMinorUnits: l.TransactionAmountMinorUnits,
			TransactionCurrency:         l.TransactionCurrency,
			ExchangeRate:                l.ExchangeRate,
		}
	}
	version := s.Version
	if version <= 0 {
		version = 1
	}
	return build(s.ID, lineIDs, version, EntryInput{
		TenantID:             s.TenantID,
		EntityID:             s.EntityID,
		CounterpartyEntityID: s.CounterpartyEntityID,
		IsIntercompany:       s.IsIntercompany,
		PostingDate:          s.PostingDate,
		ValidTimeStart:       s.ValidTimeStart,
		SourceModule:         s.SourceModule,
		SourceDocumentID:     s.SourceDocumentID,
		SourceDocumentType:   s.SourceDocumentType,
		Description:          s.Description,
		Lines:                lines,
		CreatedBy:            s.CreatedBy,
		IdempotencyKey:       s.IdempotencyKey,
		Metadata:             s.Metadata,
	})
}

// MarshalJSON encodes the snapshot form.
func (e JournalEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Snapshot())
}

// UnmarshalJSON decodes through RestoreJournalEntry.
func (e *JournalEntry) UnmarshalJSON(data []byte) error {
	var s EntrySnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	restored, err := RestoreJournalEntry(s)
	if err != nil {
		return err
	}
	*e = restored
	return nil
}
