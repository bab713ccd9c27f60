package accounting

import (
	"time"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// IsBalanceSheet reports whether the type belongs on the balance sheet.
func (t AccountType) IsBalanceSheet() bool {
	return t == AccountTypeAsset || t == AccountTypeLiability || t == AccountTypeEquity
}

// NormalBalance is the side on which an account increases.
type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "DEBIT"
	NormalBalanceCredit NormalBalance = "CREDIT"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen       PeriodStatus = "OPEN"
	PeriodStatusSoftClosed PeriodStatus = "SOFT_CLOSED"
	PeriodStatusHardClosed PeriodStatus = "HARD_CLOSED"
)

// AllowsPosting reports whether journal entries may be posted.
func (s PeriodStatus) AllowsPosting() bool {
	return s == PeriodStatusOpen
}

// Source modules with elevated rights on system-controlled accounts.
const (
	SourceModuleSystem       = "SYSTEM"
	SourceModuleEliminations = "ELIMINATIONS"
)

// MinimumLines is the smallest number of lines a journal entry may carry.
const MinimumLines = 2

// ReasonNoPeriod is reported when no period covers a posting date.
const ReasonNoPeriod = "no period found for date"

// DateLayout is the ISO-8601 civil date layout used on every boundary.
const DateLayout = "2006-01-02"

// Account models a chart of accounts node. Owned by account management.
type Account struct {
	ID                 string
	TenantID           string
	Code               string
	Name               string
	Type               AccountType
	NormalBalance      NormalBalance
	IsSystemControlled bool
	AllowsIntercompany bool
	ExternalMapping    string
}

// Period represents a fiscal period window.
type Period struct {
	ID        string
	TenantID  string
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
}

// Covers reports whether date falls within the period, inclusive.
func (p Period) Covers(date time.Time) bool {
	d := CivilDate(date)
	return !d.Before(CivilDate(p.StartDate)) && !d.After(CivilDate(p.EndDate))
}

// PostingEligibility is the answer of the period collaborator.
type PostingEligibility struct {
	Allowed bool
	Period  *Period
	Reason  string
}

// CivilDate truncates t to midnight UTC of the calendar date as written in
// t's own location. No zone conversion happens before truncation.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return CivilDate(t), nil
}
