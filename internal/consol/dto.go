package consol

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// LineDTO is the wire form of a report line.
type LineDTO struct {
	AccountCode       string   `json:"accountCode"`
	AccountName       string   `json:"accountName,omitempty"`
	AccountType       string   `json:"accountType,omitempty"`
	Kind              LineKind `json:"kind"`
	EntityID          string   `json:"entityId,omitempty"`
	BalanceMinorUnits int64    `json:"balanceMinorUnits"`
}

// MemberDTO is the wire form of a consolidation member.
type MemberDTO struct {
	EntityID           string `json:"entityId"`
	Name               string `json:"name"`
	Method             Method `json:"method"`
	Currency           string `json:"currency"`
	EffectiveOwnership string `json:"effectiveOwnership"`
	Depth              int    `json:"depth"`
}

// ReportDTO is the wire form of a consolidated report.
type ReportDTO struct {
	ParentEntityID      string      `json:"parentEntityId"`
	AsOfDate            string      `json:"asOfDate"`
	KnownAt             time.Time   `json:"knownAt"`
	Currency            string      `json:"currency"`
	ConsolidationMethod Method      `json:"consolidationMethod"`
	Lines               []LineDTO   `json:"lines"`
	TotalNCIMinorUnits  *int64      `json:"totalNciMinorUnits,omitempty"`
	Members             []MemberDTO `json:"members"`
}

// ToReportDTO renders a report for the wire.
func ToReportDTO(r Report) ReportDTO {
	out := ReportDTO{
		ParentEntityID:      r.ParentEntityID,
		AsOfDate:            r.AsOfDate.Format(accounting.DateLayout),
		KnownAt:             r.KnownAt,
		Currency:            r.Currency,
		ConsolidationMethod: r.ConsolidationMethod,
		Lines:               make([]LineDTO, 0, len(r.Lines)),
		TotalNCIMinorUnits:  r.TotalNCIMinorUnits,
		Members:             make([]MemberDTO, 0, len(r.Members)),
	}
	for _, l := range r.Lines {
		out.Lines = append(out.Lines, LineDTO{
			AccountCode:       l.AccountCode,
			AccountName:       l.AccountName,
			AccountType:       string(l.AccountType),
			Kind:              l.Kind,
			EntityID:          l.EntityID,
			BalanceMinorUnits: l.BalanceMinorUnits,
		})
	}
	for _, m := range r.Members {
		out.Members = append(out.Members, MemberDTO(m))
	}
	return out
}
