package journals

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateJournalEntryCommand is the request to post one journal entry.
// Amounts are minor units in Currency.
type CreateJournalEntryCommand struct {
	TenantID             string              `json:"tenantId" validate:"required,max=64"`
	EntityID             string              `json:"entityId" validate:"required,max=64"`
	CounterpartyEntityID string              `json:"counterpartyEntityId,omitempty" validate:"required_if=IsIntercompany true,max=64"`
	IsIntercompany       bool                `json:"isIntercompany"`
	PostingDate          string              `json:"postingDate" validate:"required,datetime=2006-01-02"`
	SourceModule         string              `json:"sourceModule" validate:"required,max=64"`
	SourceDocumentID     string              `json:"sourceDocumentId" validate:"required,max=128"`
	SourceDocumentType   string              `json:"sourceDocumentType" validate:"required,max=64"`
	Description          string              `json:"description" validate:"required,max=500"`
	Currency             string              `json:"currency" validate:"required,len=3"`
	Lines                []CommandLine       `json:"lines" validate:"required,min=1,dive"`
	CreatedBy            string              `json:"createdBy" validate:"required,max=64"`
	IdempotencyKey       string              `json:"idempotencyKey,omitempty" validate:"max=255"`
	Metadata             accounting.Metadata `json:"metadata,omitempty"`
}

// CommandLine is one requested debit or credit.
type CommandLine struct {
	AccountCode                 string              `json:"accountCode" validate:"required,max=64"`
	DebitMinorUnits             int64               `json:"debitMinorUnits" validate:"gte=0"`
	CreditMinorUnits            int64               `json:"creditMinorUnits" validate:"gte=0"`
	CostCenter                  string              `json:"costCenter,omitempty" validate:"max=64"`
	ProjectID                   string              `json:"projectId,omitempty" validate:"max=64"`
	IntercompanyPartnerID       string              `json:"intercompanyPartnerId,omitempty" validate:"max=64"`
	EliminationAccountCode      string              `json:"eliminationAccountCode,omitempty" validate:"max=64"`
	Metadata                    accounting.Metadata `json:"metadata,omitempty"`
	TransactionAmountMinorUnits *int64              `json:"transactionAmountMinorUnits,omitempty"`
	TransactionCurrency         string              `json:"transactionCurrency,omitempty" validate:"omitempty,len=3"`
	ExchangeRate                *decimal.Decimal    `json:"exchangeRate,omitempty"`
}

// Validate checks the command shape and reports every violation at once as
// *accounting.ValidationError.
func (c CreateJournalEntryCommand) Validate() error {
	var violations []string
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			violations = append(violations, describeField(fe))
		}
	}
	if c.Currency != "" {
		if _, err := accounting.NormalizeCurrency(c.Currency); err != nil {
			violations = append(violations, fmt.Sprintf("currency: %q is not an ISO-4217 code", c.Currency))
		}
	}
	for i, l := range c.Lines {
		if l.TransactionCurrency != "" {
			if _, err := accounting.NormalizeCurrency(l.TransactionCurrency); err != nil {
				violations = append(violations, fmt.Sprintf("lines[%d].transactionCurrency: %q is not an ISO-4217 code", i, l.TransactionCurrency))
			}
		}
		if l.ExchangeRate != nil && !l.ExchangeRate.IsPositive() {
			violations = append(violations, fmt.Sprintf("lines[%d].exchangeRate: must be positive", i))
		}
	}
	if len(violations) > 0 {
		return &accounting.ValidationError{Violations: violations}
	}
	return nil
}

func describeField(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "CreateJournalEntryCommand.")
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: failed %s", field, fe.Tag())
}

// AccountCodes lists the referenced account codes in line order.
func (c CreateJournalEntryCommand) AccountCodes() []string {
	codes := make([]string, 0, len(c.Lines))
	for _, l := range c.Lines {
		codes = append(codes, strings.TrimSpace(l.AccountCode))
	}
	return codes
}

// EntryInput converts a validated command into aggregate input.
func (c CreateJournalEntryCommand) EntryInput() (accounting.EntryInput, error) {
	date, err := accounting.ParseDate(c.PostingDate)
	if err != nil {
		return accounting.EntryInput{}, &accounting.ValidationError{Violations: []string{"postingDate: " + err.Error()}}
	}
	lines := make([]accounting.LineInput, 0, len(c.Lines))
	for _, l := range c.Lines {
		debit, err := accounting.NewMoney(l.DebitMinorUnits, c.Currency)
		if err != nil {
			return accounting.EntryInput{}, err
		}
		credit, err := accounting.NewMoney(l.CreditMinorUnits, c.Currency)
		if err != nil {
			return accounting.EntryInput{}, err
		}
		lines = append(lines, accounting.LineInput{
			AccountCode:                 strings.TrimSpace(l.AccountCode),
			Debit:                       debit,
			Credit:                      credit,
			CostCenter:                  l.CostCenter,
			ProjectID:                   l.ProjectID,
			IntercompanyPartnerID:       l.IntercompanyPartnerID,
			EliminationAccountCode:      l.EliminationAccountCode,
			Metadata:                    l.Metadata,
			TransactionAmountMinorUnits: l.TransactionAmountMinorUnits,
			TransactionCurrency:         l.TransactionCurrency,
			ExchangeRate:                l.ExchangeRate,
		})
	}
	return accounting.EntryInput{
		TenantID:             c.TenantID,
		EntityID:             c.EntityID,
		CounterpartyEntityID: c.CounterpartyEntityID,
		IsIntercompany:       c.IsIntercompany,
		PostingDate:          date,
		ValidTimeStart:       date,
		SourceModule:         c.SourceModule,
		SourceDocumentID:     c.SourceDocumentID,
		SourceDocumentType:   c.SourceDocumentType,
		Description:          c.Description,
		Lines:                lines,
		CreatedBy:            c.CreatedBy,
		IdempotencyKey:       c.IdempotencyKey,
		Metadata:             c.Metadata,
	}, nil
}

// Fingerprint hashes the command so a reused idempotency key with a
// different payload can be detected.
func (c CreateJournalEntryCommand) Fingerprint() (string, error) {
	return shared.Fingerprint(c)
}

// CommandFromInput turns aggregate input (a reversal or a generated
// elimination) back into a command for the posting pipeline.
func CommandFromInput(in accounting.EntryInput, idempotencyKey string) CreateJournalEntryCommand {
	cmd := CreateJournalEntryCommand{
		TenantID:             in.TenantID,
		EntityID:             in.EntityID,
		CounterpartyEntityID: in.CounterpartyEntityID,
		IsIntercompany:       in.IsIntercompany,
		PostingDate:          accounting.CivilDate(in.PostingDate).Format(accounting.DateLayout),
		SourceModule:         in.SourceModule,
		SourceDocumentID:     in.SourceDocumentID,
		SourceDocumentType:   in.SourceDocumentType,
		Description:          in.Description,
		CreatedBy:            in.CreatedBy,
		IdempotencyKey:       idempotencyKey,
		Metadata:             in.Metadata,
	}
	for _, l := range in.Lines {
		if cmd.Currency == "" {
			if !l.Debit.IsZero() {
				cmd.Currency = l.Debit.Currency()
			} else {
				cmd.Currency = l.Credit.Currency()
			}
		}
		cmd.Lines = append(cmd.Lines, CommandLine{
			AccountCode:                 l.AccountCode,
			DebitMinorUnits:             l.Debit.Amount(),
			CreditMinorUnits:            l.Credit.Amount(),
			CostCenter:                  l.CostCenter,
			ProjectID:                   l.ProjectID,
			IntercompanyPartnerID:       l.IntercompanyPartnerID,
			EliminationAccountCode:      l.EliminationAccountCode,
			Metadata:                    l.Metadata,
			TransactionAmountMinorUnits: l.TransactionAmountMinorUnits,
			TransactionCurrency:         l.TransactionCurrency,
			ExchangeRate:                l.ExchangeRate,
		})
	}
	return cmd
}
