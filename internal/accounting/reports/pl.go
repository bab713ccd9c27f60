package reports

import (
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// StatementLine is one account inside a statement section. Amounts carry the
// section's natural sign, so revenue and liabilities are positive.
type StatementLine struct {
	Code        string `json:"code"`
	Name        string `json:"name,omitempty"`
	AmountMinor int64  `json:"amount_minor_units"`
}

// Section groups statement lines under a label.
type Section struct {
	Label    string          `json:"label"`
	Accounts []StatementLine `json:"accounts"`
	Total    int64           `json:"total_minor_units"`
}

func (s *Section) add(line StatementLine) {
	s.Accounts = append(s.Accounts, line)
	s.Total += line.AmountMinor
}

func (s *Section) sort() {
	sort.Slice(s.Accounts, func(i, j int) bool { return s.Accounts[i].Code < s.Accounts[j].Code })
}

// ProfitAndLoss contains revenue, expense and the resulting net income.
type ProfitAndLoss struct {
	Revenue   Section `json:"revenue"`
	Expense   Section `json:"expense"`
	NetIncome int64   `json:"net_income_minor_units"`
}

// BuildProfitAndLoss aggregates accounts into revenue and expense sections.
func BuildProfitAndLoss(accounts []AccountBalance) ProfitAndLoss {
	revenue := Section{Label: "Revenue"}
	expense := Section{Label: "Expense"}

	for _, acc := range accounts {
		row := StatementLine{Code: acc.Code, Name: acc.Name, AmountMinor: acc.BalanceMinorUnits}
		switch acc.Type {
		case accounting.AccountTypeRevenue:
			row.AmountMinor = -acc.BalanceMinorUnits
			revenue.add(row)
		case accounting.AccountTypeExpense:
			expense.add(row)
		}
	}
	revenue.sort()
	expense.sort()

	return ProfitAndLoss{
		Revenue:   revenue,
		Expense:   expense,
		NetIncome: revenue.Total - expense.Total,
	}
}
