package fx

import "github.com/odyssey-erp/odyssey-ledger/internal/accounting"

// Policy describes which rate translates each class of account.
type Policy struct {
	ProfitLossMethod   Method
	BalanceSheetMethod Method
}

// Method enumerates supported FX conversion methods.
type Method string

const (
	// MethodAverage represents average rate usage for P&L.
	MethodAverage Method = "AVERAGE"
	// MethodClosing represents closing rate usage for balance sheet.
	MethodClosing Method = "CLOSING"
)

// DefaultPolicy translates P&L at the average rate and the balance sheet at
// the closing rate.
func DefaultPolicy() Policy {
	return Policy{
		ProfitLossMethod:   MethodAverage,
		BalanceSheetMethod: MethodClosing,
	}
}

// MethodFor picks the method for an account type.
func (p Policy) MethodFor(t accounting.AccountType) Method {
	if t.IsBalanceSheet() {
		if p.BalanceSheetMethod == "" {
			return MethodClosing
		}
		return p.BalanceSheetMethod
	}
	if p.ProfitLossMethod == "" {
		return MethodAverage
	}
	return p.ProfitLossMethod
}
