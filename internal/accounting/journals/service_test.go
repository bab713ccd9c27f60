package journals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

func TestCanPostReportsPeriodAndReason(t *testing.T) {
	svc := NewJournalEntryService(&stubPeriods{period: openPeriod(accounting.PeriodStatusOpen)}, nil)

	got, err := svc.CanPost(context.Background(), "t1", time.Date(2024, 12, 1, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, got.Allowed)
	require.Equal(t, "2024-12", got.Period.Name)

	got, err = svc.CanPost(context.Background(), "t1", time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, got.Allowed)
	require.Nil(t, got.Period)
	require.Equal(t, "no period found for date", got.Reason)
}

func TestEnsureCanPostMapsStatus(t *testing.T) {
	date := time.Date(2024, 12, 10, 0, 0, 0, 0, time.UTC)
	for _, status := range []accounting.PeriodStatus{accounting.PeriodStatusSoftClosed, accounting.PeriodStatusHardClosed} {
		svc := NewJournalEntryService(&stubPeriods{period: openPeriod(status)}, nil)
		err := svc.EnsureCanPost(context.Background(), "t1", date)
		var closed *accounting.PeriodClosedError
		require.True(t, errors.As(err, &closed), status)
		require.Equal(t, status, closed.Status)
		require.Equal(t, accounting.CodePeriodClosed, accounting.Describe(err).Code)
	}

	svc := NewJournalEntryService(&stubPeriods{period: openPeriod(accounting.PeriodStatusOpen)}, nil)
	require.NoError(t, svc.EnsureCanPost(context.Background(), "t1", date))

	err := svc.EnsureCanPost(context.Background(), "t1", date.AddDate(1, 0, 0))
	var noPeriod *accounting.NoPeriodFoundError
	require.True(t, errors.As(err, &noPeriod))
}
