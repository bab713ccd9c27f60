package accounting

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMoneyArithmeticRequiresSameCurrency(t *testing.T) {
	a, err := NewMoney(1_000, "idr")
	require.NoError(t, err)
	b, err := NewMoney(250, "IDR")
	require.NoError(t, err)

	sum, err := a.Add(b)
	require.NoError(t, err)
	require.Equal(t, int64(1_250), sum.Amount())

	diff, err := b.Sub(a)
	require.NoError(t, err)
	require.Equal(t, int64(-750), diff.Amount())
	require.True(t, diff.IsNegative())

	eur, err := NewMoney(1, "EUR")
	require.NoError(t, err)
	_, err = a.Add(eur)
	var mismatch *CurrencyMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestMoneyRejectsUnknownCurrency(t *testing.T) {
	_, err := NewMoney(1, "ZZZ")
	require.Error(t, err)
	_, err = NewMoney(1, "")
	require.Error(t, err)
}

func TestMoneyOverflow(t *testing.T) {
	top, err := NewMoney(math.MaxInt64, "USD")
	require.NoError(t, err)
	one, err := NewMoney(1, "USD")
	require.NoError(t, err)
	_, err = top.Add(one)
	require.ErrorIs(t, err, ErrAmountOverflow)
}

func TestMoneyJSONUsesMinorUnits(t *testing.T) {
	m, err := NewMoney(123_456, "JPY")
	require.NoError(t, err)
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, `{"amountMinorUnits":123456,"currency":"JPY"}`, string(raw))

	var back Money
	require.NoError(t, json.Unmarshal(raw, &back))
	require.True(t, back.Equal(m))
}

func TestMetadataRejectsNonScalars(t *testing.T) {
	var meta Metadata
	err := json.Unmarshal([]byte(`{"nested":{"a":1}}`), &meta)
	require.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"a":"x","b":2,"c":false}`), &meta))
	s, ok := meta["a"].Str()
	require.True(t, ok)
	require.Equal(t, "x", s)
	n, ok := meta["b"].Num()
	require.True(t, ok)
	require.Equal(t, 2.0, n)
	b, ok := meta["c"].Bool()
	require.True(t, ok)
	require.False(t, b)
}
