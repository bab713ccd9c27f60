package accounting

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
)

// ErrAmountOverflow indicates an int64 overflow during money arithmetic.
var ErrAmountOverflow = errors.New("accounting: amount overflows int64 minor units")

// Money is an immutable amount of integer minor units in a single currency.
type Money struct {
	amount   int64
	currency string
}

// NewMoney validates the currency code and returns a Money value.
func NewMoney(amountMinorUnits int64, code string) (Money, error) {
	normalized, err := NormalizeCurrency(code)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: amountMinorUnits, currency: normalized}, nil
}

// ZeroMoney returns a zero amount in the given currency.
func ZeroMoney(code string) (Money, error) {
	return NewMoney(0, code)
}

// NormalizeCurrency upper-cases the code and checks it against ISO 4217.
func NormalizeCurrency(code string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return "", fmt.Errorf("accounting: currency code required")
	}
	unit, err := currency.ParseISO(trimmed)
	if err != nil {
		return "", fmt.Errorf("accounting: invalid currency code %q", code)
	}
	return unit.String(), nil
}

// Amount returns the signed minor-unit amount.
func (m Money) Amount() int64 { return m.amount }

// Currency returns the ISO 4217 code.
func (m Money) Currency() string { return m.currency }

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.amount == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.amount < 0 }

// Add sums two amounts of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, &CurrencyMismatchError{Expected: m.currency, Actual: other.currency}
	}
	sum, ok := addInt64(m.amount, other.amount)
	if !ok {
		return Money{}, ErrAmountOverflow
	}
	return Money{amount: sum, currency: m.currency}, nil
}

// Sub subtracts other from m; both must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if other.amount == math.MinInt64 {
		return Money{}, ErrAmountOverflow
	}
	return m.Add(Money{amount: -other.amount, currency: other.currency})
}

// Neg flips the sign.
func (m Money) Neg() Money {
	return Money{amount: -m.amount, currency: m.currency}
}

// Equal reports value equality.
func (m Money) Equal(other Money) bool {
	return m.amount == other.amount && m.currency == other.currency
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.amount, m.currency)
}

type moneyJSON struct {
	AmountMinorUnits int64  `json:"amountMinorUnits"`
	Currency         string `json:"currency"`
}

// MarshalJSON always encodes integer minor units.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{AmountMinorUnits: m.amount, Currency: m.currency})
}

// UnmarshalJSON decodes and validates the currency.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewMoney(raw.AmountMinorUnits, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0) {
		return 0, false
	}
	return sum, true
}
