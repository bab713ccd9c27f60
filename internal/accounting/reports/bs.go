package reports

import "github.com/odyssey-erp/odyssey-ledger/internal/accounting"

// BalanceSheet is the structured balance sheet. CurrentEarnings is the net
// income not yet closed into retained earnings.
type BalanceSheet struct {
	Assets                    Section `json:"assets"`
	Liabilities               Section `json:"liabilities"`
	Equity                    Section `json:"equity"`
	CurrentEarnings           int64   `json:"current_earnings_minor_units"`
	TotalLiabilitiesAndEquity int64   `json:"total_liabilities_and_equity_minor_units"`
}

// Balanced reports whether assets equal liabilities plus equity.
func (bs BalanceSheet) Balanced() bool {
	return bs.Assets.Total == bs.TotalLiabilitiesAndEquity
}

// BuildBalanceSheet aggregates balances into assets, liabilities and equity.
func BuildBalanceSheet(accounts []AccountBalance) BalanceSheet {
	assets := Section{Label: "Assets"}
	liabilities := Section{Label: "Liabilities"}
	equity := Section{Label: "Equity"}

	for _, acc := range accounts {
		row := StatementLine{Code: acc.Code, Name: acc.Name}
		switch acc.Type {
		case accounting.AccountTypeAsset:
			row.AmountMinor = acc.BalanceMinorUnits
			assets.add(row)
		case accounting.AccountTypeLiability:
			row.AmountMinor = -acc.BalanceMinorUnits
			liabilities.add(row)
		case accounting.AccountTypeEquity:
			row.AmountMinor = -acc.BalanceMinorUnits
			equity.add(row)
		}
	}
	assets.sort()
	liabilities.sort()
	equity.sort()

	earnings := BuildProfitAndLoss(accounts).NetIncome
	return BalanceSheet{
		Assets:                    assets,
		Liabilities:               liabilities,
		Equity:                    equity,
		CurrentEarnings:           earnings,
		TotalLiabilitiesAndEquity: liabilities.Total + equity.Total + earnings,
	}
}

// Statements bundles the three reports built from one balance set.
type Statements struct {
	TrialBalance  TrialBalance  `json:"trial_balance"`
	ProfitAndLoss ProfitAndLoss `json:"profit_and_loss"`
	BalanceSheet  BalanceSheet  `json:"balance_sheet"`
}

// Build produces every statement for accounts.
func Build(accounts []AccountBalance) Statements {
	return Statements{
		TrialBalance:  BuildTrialBalance(accounts),
		ProfitAndLoss: BuildProfitAndLoss(accounts),
		BalanceSheet:  BuildBalanceSheet(accounts),
	}
}
