// Package reports shapes signed account balances into financial statements.
// Balances are minor units, debit positive.
package reports

import (
	"cmp"
	"slices"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// AccountBalance is one account's closing balance.
type AccountBalance struct {
	Code              string
	Name              string
	Type              accounting.AccountType
	BalanceMinorUnits int64
}

// GroupKey is the code prefix before the first "." or "-", or the first
// two characters when the code has no separator.
func (a AccountBalance) GroupKey() string {
	if idx := strings.IndexAny(a.Code, ".-"); idx > 0 {
		return a.Code[:idx]
	}
	return a.Code[:min(2, len(a.Code))]
}

// TrialBalanceAccount is one row: a debit balance or a credit balance.
type TrialBalanceAccount struct {
	Code   string `json:"code"`
	Name   string `json:"name,omitempty"`
	Debit  int64  `json:"debit_minor_units"`
	Credit int64  `json:"credit_minor_units"`
}

func rowOf(a AccountBalance) TrialBalanceAccount {
	row := TrialBalanceAccount{Code: a.Code, Name: a.Name}
	if a.BalanceMinorUnits < 0 {
		row.Credit = -a.BalanceMinorUnits
	} else {
		row.Debit = a.BalanceMinorUnits
	}
	return row
}

// TrialBalanceGroup holds the rows sharing a GroupKey, with subtotals.
type TrialBalanceGroup struct {
	Key      string                `json:"key"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Debit    int64                 `json:"debit_minor_units"`
	Credit   int64                 `json:"credit_minor_units"`
}

type TrialBalance struct {
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  int64               `json:"total_debit_minor_units"`
	TotalCredit int64               `json:"total_credit_minor_units"`
}

func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebit == tb.TotalCredit
}

// BuildTrialBalance orders accounts by group key then code and emits one
// group per key.
func BuildTrialBalance(accounts []AccountBalance) TrialBalance {
	ordered := slices.Clone(accounts)
	slices.SortStableFunc(ordered, func(a, b AccountBalance) int {
		if c := cmp.Compare(a.GroupKey(), b.GroupKey()); c != 0 {
			return c
		}
		return cmp.Compare(a.Code, b.Code)
	})

	var tb TrialBalance
	for _, acc := range ordered {
		key := acc.GroupKey()
		if n := len(tb.Groups); n == 0 || tb.Groups[n-1].Key != key {
			tb.Groups = append(tb.Groups, TrialBalanceGroup{Key: key})
		}
		grp := &tb.Groups[len(tb.Groups)-1]
		row := rowOf(acc)
		grp.Accounts = append(grp.Accounts, row)
		grp.Debit += row.Debit
		grp.Credit += row.Credit
		tb.TotalDebit += row.Debit
		tb.TotalCredit += row.Credit
	}
	return tb
}
