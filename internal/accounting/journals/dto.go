package journals

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// LineDTO is the wire form of a journal line.
type LineDTO struct {
	ID                          string              `json:"id"`
	AccountCode                 string              `json:"accountCode"`
	DebitMinorUnits             int64               `json:"debitMinorUnits"`
	CreditMinorUnits            int64               `json:"creditMinorUnits"`
	Currency                    string              `json:"currency"`
	CostCenter                  string              `json:"costCenter,omitempty"`
	ProjectID                   string              `json:"projectId,omitempty"`
	IntercompanyPartnerID       string              `json:"intercompanyPartnerId,omitempty"`
	EliminationAccountCode      string              `json:"eliminationAccountCode,omitempty"`
	Metadata                    accounting.Metadata `json:"metadata,omitempty"`
	TransactionAmountMinorUnits *int64              `json:"transactionAmountMinorUnits,omitempty"`
	TransactionCurrency         string              `json:"transactionCurrency,omitempty"`
	ExchangeRate                string              `json:"exchangeRate,omitempty"`
}

// JournalEntryDTO is the wire form of a journal entry.
type JournalEntryDTO struct {
	ID                   string              `json:"id"`
	TenantID             string              `json:"tenantId"`
	EntityID             string              `json:"entityId"`
	CounterpartyEntityID string              `json:"counterpartyEntityId,omitempty"`
	IsIntercompany       bool                `json:"isIntercompany"`
	PostingDate          string              `json:"postingDate"`
	SourceModule         string              `json:"sourceModule"`
	SourceDocumentID     string              `json:"sourceDocumentId"`
	SourceDocumentType   string              `json:"sourceDocumentType"`
	Description          string              `json:"description"`
	Currency             string              `json:"currency"`
	TotalMinorUnits      int64               `json:"totalMinorUnits"`
	Version              int                 `json:"version"`
	CreatedBy            string              `json:"createdBy"`
	IdempotencyKey       string              `json:"idempotencyKey,omitempty"`
	Metadata             accounting.Metadata `json:"metadata,omitempty"`
	Lines                []LineDTO           `json:"lines"`
}

// ToDTO renders an entry for the wire.
func ToDTO(e accounting.JournalEntry) JournalEntryDTO {
	lines := e.Lines()
	out := JournalEntryDTO{
		ID:                   e.ID(),
		TenantID:             e.TenantID(),
		EntityID:             e.EntityID(),
		CounterpartyEntityID: e.CounterpartyEntityID(),
		IsIntercompany:       e.IsIntercompany(),
		PostingDate:          e.PostingDate().Format(accounting.DateLayout),
		SourceModule:         e.SourceModule(),
		SourceDocumentID:     e.SourceDocumentID(),
		SourceDocumentType:   e.SourceDocumentType(),
		Description:          e.Description(),
		Currency:             e.Currency(),
		TotalMinorUnits:      e.Total().Amount(),
		Version:              e.Version(),
		CreatedBy:            e.CreatedBy(),
		IdempotencyKey:       e.IdempotencyKey(),
		Metadata:             e.Metadata(),
		Lines:                make([]LineDTO, 0, len(lines)),
	}
	for _, l := range lines {
		dto := LineDTO{
			ID:                     l.ID(),
			AccountCode:            l.AccountCode(),
			DebitMinorUnits:        l.Debit().Amount(),
			CreditMinorUnits:       l.Credit().Amount(),
			Currency:               l.Currency(),
			CostCenter:             l.CostCenter(),
			ProjectID:              l.ProjectID(),
			IntercompanyPartnerID:  l.IntercompanyPartnerID(),
			EliminationAccountCode: l.EliminationAccountCode(),
			Metadata:               l.Metadata(),
			TransactionCurrency:    l.TransactionCurrency(),
		}
		if amount, ok := l.TransactionAmount(); ok {
			dto.TransactionAmountMinorUnits = &amount
		}
		if rate, ok := l.ExchangeRate(); ok {
			dto.ExchangeRate = rate.String()
		}
		out.Lines = append(out.Lines, dto)
	}
	return out
}

// BalanceDTO is the wire form of a bitemporal balance query.
type BalanceDTO struct {
	EntityID          string     `json:"entityId"`
	AccountCode       string     `json:"accountCode"`
	Currency          string     `json:"currency"`
	ValidAt           string     `json:"validAt"`
	KnownAt           *time.Time `json:"knownAt,omitempty"`
	BalanceMinorUnits int64      `json:"balanceMinorUnits"`
}
