package periods

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type stubRepo struct {
	periods map[string]accounting.Period
}

func (r *stubRepo) FindByID(_ context.Context, _ string, id string) (accounting.Period, error) {
	p, ok := r.periods[id]
	if !ok {
		return accounting.Period{}, ErrPeriodNotFound
	}
	return p, nil
}

func (r *stubRepo) FindCovering(_ context.Context, _ string, date time.Time) (*accounting.Period, error) {
	for _, p := range r.periods {
		if p.Covers(date) {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) UpdateStatus(_ context.Context, _ string, id string, status accounting.PeriodStatus) error {
	p := r.periods[id]
	p.Status = status
	r.periods[id] = p
	return nil
}

type stubAudit struct {
	logs []shared.AuditLog
	err  error
}

func (a *stubAudit) Append(_ context.Context, log shared.AuditLog) error {
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

func march(status accounting.PeriodStatus) accounting.Period {
	return accounting.Period{
		ID:        "p-2024-03",
		TenantID:  "t1",
		Name:      "March 2024",
		StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:    status,
	}
}

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to accounting.PeriodStatus
		ok       bool
	}{
		{accounting.PeriodStatusOpen, accounting.PeriodStatusSoftClosed, true},
		{accounting.PeriodStatusSoftClosed, accounting.PeriodStatusHardClosed, true},
		{accounting.PeriodStatusOpen, accounting.PeriodStatusOpen, true},
		{accounting.PeriodStatusOpen, accounting.PeriodStatusHardClosed, false},
		{accounting.PeriodStatusSoftClosed, accounting.PeriodStatusOpen, false},
		{accounting.PeriodStatusHardClosed, accounting.PeriodStatusSoftClosed, false},
	}
	for _, tc := range cases {
		err := ValidateTransition(tc.from, tc.to)
		if tc.ok {
			require.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
		}
	}
}

func TestCanPostToDate(t *testing.T) {
	repo := &stubRepo{periods: map[string]accounting.Period{"p-2024-03": march(accounting.PeriodStatusOpen)}}
	svc := NewService(repo, nil, nil)

	got, err := svc.CanPostToDate(context.Background(), "t1", time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, got.Allowed)
	require.Equal(t, "March 2024", got.Period.Name)

	got, err = svc.CanPostToDate(context.Background(), "t1", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, got.Allowed)
	require.Nil(t, got.Period)
	require.Equal(t, accounting.ReasonNoPeriod, got.Reason)
}

func TestSoftClosedPeriodRejectsPosting(t *testing.T) {
	repo := &stubRepo{periods: map[string]accounting.Period{"p-2024-03": march(accounting.PeriodStatusSoftClosed)}}
	got, err := NewService(repo, nil, nil).CanPostToDate(context.Background(), "t1", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, got.Allowed)
	require.NotNil(t, got.Period)
	require.Equal(t, accounting.PeriodStatusSoftClosed, got.Period.Status)
}

func TestTransitionRecordsAudit(t *testing.T) {
	repo := &stubRepo{periods: map[string]accounting.Period{"p-2024-03": march(accounting.PeriodStatusOpen)}}
	audit := &stubAudit{}
	svc := NewService(repo, audit, nil)

	p, err := svc.Transition(context.Background(), "t1", "p-2024-03", "u1", accounting.PeriodStatusSoftClosed)
	require.NoError(t, err)
	require.Equal(t, accounting.PeriodStatusSoftClosed, p.Status)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "period_transition", audit.logs[0].Action)

	_, err = svc.Transition(context.Background(), "t1", "p-2024-03", "u1", accounting.PeriodStatusOpen)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, accounting.PeriodStatusSoftClosed, repo.periods["p-2024-03"].Status)
}

func TestTransitionLogsFailedAudit(t *testing.T) {
	repo := &stubRepo{periods: map[string]accounting.Period{"p-2024-03": march(accounting.PeriodStatusOpen)}}
	var buf bytes.Buffer
	svc := NewService(repo, &stubAudit{err: errors.New("insert audit_logs: timeout")}, slog.New(slog.NewTextHandler(&buf, nil)))

	p, err := svc.Transition(context.Background(), "t1", "p-2024-03", "u1", accounting.PeriodStatusSoftClosed)
	require.NoError(t, err)
	require.Equal(t, accounting.PeriodStatusSoftClosed, p.Status)
	require.Contains(t, buf.String(), "level=ERROR")
	require.Contains(t, buf.String(), `msg="append period audit"`)
	require.Contains(t, buf.String(), "insert audit_logs: timeout")
}
