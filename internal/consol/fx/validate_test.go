package fx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	quotes map[string]Quote
	err    error
}

func (f fakeProvider) QuoteForPeriod(_ context.Context, _ time.Time, pair string) (Quote, bool, error) {
	if f.err != nil {
		return Quote{}, false, f.err
	}
	quote, ok := f.quotes[pair]
	return quote, ok, nil
}

func TestValidateAllRatesAvailable(t *testing.T) {
	provider := fakeProvider{quotes: map[string]Quote{
		"IDRUSD": {Average: decimal.RequireFromString("0.000065"), Closing: decimal.RequireFromString("0.000063")},
	}}
	res, err := Validate(context.Background(), provider, time.Date(2025, 8, 7, 12, 0, 0, 0, time.UTC), []Requirement{
		{Pair: "idrusd", Methods: []Method{MethodAverage, MethodClosing}},
	})
	require.NoError(t, err)
	require.Empty(t, res.Gaps)
	require.Equal(t, 1, res.Checked)
	require.True(t, res.Available["IDRUSD"].Average.Equal(decimal.RequireFromString("0.000065")))
	require.Equal(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), res.Period)
}

func TestValidateReportsGaps(t *testing.T) {
	provider := fakeProvider{quotes: map[string]Quote{
		"EURUSD": {Closing: decimal.RequireFromString("1.3")},
	}}
	res, err := Validate(context.Background(), provider, time.Now(), []Requirement{
		{Pair: "EURUSD", Methods: []Method{MethodAverage, MethodClosing}},
		{Pair: "IDRUSD", Methods: []Method{MethodClosing, MethodAverage}},
	})
	require.NoError(t, err)
	require.Equal(t, []Gap{
		{Pair: "EURUSD", Methods: []Method{MethodAverage}},
		{Pair: "IDRUSD", Methods: []Method{MethodAverage, MethodClosing}},
	}, res.Gaps)
}

func TestValidateRejectsBadInput(t *testing.T) {
	provider := fakeProvider{}
	cases := map[string]struct {
		provider QuoteProvider
		period   time.Time
		reqs     []Requirement
	}{
		"empty pair":         {provider, time.Now(), []Requirement{{Methods: []Method{MethodAverage}}}},
		"unsupported method": {provider, time.Now(), []Requirement{{Pair: "IDRUSD", Methods: []Method{"SPOT"}}}},
		"no methods":         {provider, time.Now(), []Requirement{{Pair: "IDRUSD"}}},
		"nil provider":       {nil, time.Now(), []Requirement{{Pair: "IDRUSD", Methods: []Method{MethodAverage}}}},
		"zero period":        {provider, time.Time{}, []Requirement{{Pair: "IDRUSD", Methods: []Method{MethodAverage}}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Validate(context.Background(), tc.provider, tc.period, tc.reqs)
			require.Error(t, err)
		})
	}
}

func TestValidatePropagatesProviderError(t *testing.T) {
	wantErr := errors.New("boom")
	_, err := Validate(context.Background(), fakeProvider{err: wantErr}, time.Now(), []Requirement{{Pair: "IDRUSD", Methods: []Method{MethodAverage}}})
	require.ErrorIs(t, err, wantErr)
}

func TestValidateMergesRequirementsPerPair(t *testing.T) {
	provider := fakeProvider{quotes: map[string]Quote{
		"SGDUSD": {Average: decimal.RequireFromString("0.74")},
	}}
	res, err := Validate(context.Background(), provider, time.Now(), []Requirement{
		{Pair: "sgdusd", Methods: []Method{MethodAverage}},
		{Pair: "SGDUSD", Methods: []Method{MethodClosing}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Checked)
	require.Equal(t, []Gap{{Pair: "SGDUSD", Methods: []Method{MethodClosing}}}, res.Gaps)

	_, err = Validate(context.Background(), provider, time.Now(), []Requirement{{Pair: "SGDUSD", Methods: []Method{"SPOT"}}})
	require.ErrorIs(t, err, ErrInvalidRequirement)
}
