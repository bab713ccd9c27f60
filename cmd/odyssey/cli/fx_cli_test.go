package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/consol"
	"github.com/odyssey-erp/odyssey-ledger/internal/consol/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/elimination"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

type stubFXRepo struct {
	entities map[string]consol.Entity
	quotes   *fx.RateTable
	upserts  []string
}

func newStubFXRepo() *stubFXRepo {
	return &stubFXRepo{
		entities: map[string]consol.Entity{
			"group": {ID: "group", TenantID: "t1", Currency: "IDR", ConsolidationMethod: consol.MethodFull, OwnershipPercentage: decimal.NewFromInt(100)},
			"sg":    {ID: "sg", TenantID: "t1", ParentEntityID: "group", Currency: "USD", ConsolidationMethod: consol.MethodFull, OwnershipPercentage: decimal.NewFromInt(80)},
			"my":    {ID: "my", TenantID: "t1", ParentEntityID: "group", Currency: "IDR", ConsolidationMethod: consol.MethodProportional, OwnershipPercentage: decimal.NewFromInt(50)},
		},
		quotes: fx.NewRateTable(),
	}
}

func (s *stubFXRepo) FindByID(_ context.Context, _ string, id string) (consol.Entity, error) {
	e, ok := s.entities[id]
	if !ok {
		return consol.Entity{}, consol.ErrEntityNotFound
	}
	return e, nil
}

func (s *stubFXRepo) Children(_ context.Context, _ string, parentID string) ([]consol.Entity, error) {
	var out []consol.Entity
	for _, e := range s.entities {
		if e.ParentEntityID == parentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubFXRepo) QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (fx.Quote, bool, error) {
	return s.quotes.QuoteForPeriod(ctx, asOf, pair)
}

func (s *stubFXRepo) UpsertFxRate(_ context.Context, asOf time.Time, pair string, quote fx.Quote) error {
	s.upserts = append(s.upserts, asOf.Format("2006-01")+":"+pair)
	s.quotes.Set(asOf, pair, quote)
	return nil
}

func quote(avg, closing int64) fx.Quote {
	return fx.Quote{Average: decimal.NewFromInt(avg), Closing: decimal.NewFromInt(closing)}
}

func TestValidateCommandJSONSuccess(t *testing.T) {
	repo := newStubFXRepo()
	repo.quotes.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "USDIDR", quote(15500, 15450))
	cli, err := NewFXOpsCLI(repo)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ValidateCommand(context.Background(), FXValidateOptions{
		TenantID:   "t1",
		EntityID:   "group",
		Period:     "2024-01",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Zero(t, exitCode)
	require.Empty(t, stderr.String())

	var summary FXValidateSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)
	require.Empty(t, summary.Gaps)
	require.Len(t, summary.AvailableQuotes, 2)
}

func TestValidateCommandJSONGaps(t *testing.T) {
	cli, err := NewFXOpsCLI(newStubFXRepo())
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ValidateCommand(context.Background(), FXValidateOptions{
		TenantID:   "t1",
		EntityID:   "group",
		Period:     "2024-01",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, 10, exitCode)
	require.Empty(t, stderr.String())

	var summary FXValidateSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Len(t, summary.Gaps, 2)
	require.Equal(t, "USDIDR", summary.Gaps[0].Pair)
}

func TestValidateCommandInvalidPeriod(t *testing.T) {
	cli, err := NewFXOpsCLI(newStubFXRepo())
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ValidateCommand(context.Background(), FXValidateOptions{
		TenantID: "t1",
		EntityID: "group",
		Period:   "202401",
		Stdout:   stdout,
		Stderr:   stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "invalid period")
}

func TestBackfillApplyFillsGaps(t *testing.T) {
	repo := newStubFXRepo()
	repo.quotes.Set(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "USDIDR", quote(15600, 15650))
	cli, err := NewFXOpsCLI(repo)
	require.NoError(t, err)

	source := "period,pair,average,closing\n# comment\n2024-01,USDIDR,15500.25,15450.5\n2024-03,usdidr,15700,15720\n2024-03,EURIDR,17000,17010\n"
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), FXBackfillOptions{
		Pair:         "usdidr",
		From:         "2024-01",
		To:           "2024-03",
		Mode:         FXBackfillModeApply,
		SourceReader: strings.NewReader(source),
		JSONOutput:   true,
		Stdout:       stdout,
		Stderr:       stderr,
		Confirm:      func(io.Reader, io.Writer) (bool, error) { return true, nil },
	})
	require.Zero(t, exitCode, stderr.String())
	require.Equal(t, []string{"2024-01:USDIDR", "2024-03:USDIDR"}, repo.upserts)

	got, ok, err := repo.QuoteForPeriod(context.Background(), time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), "USDIDR")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "15500.25", got.Average.String())
}

func TestBackfillDryRunReportsGaps(t *testing.T) {
	cli, err := NewFXOpsCLI(newStubFXRepo())
	require.NoError(t, err)
	stdout := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), FXBackfillOptions{
		Pair:   "USDIDR",
		From:   "2024-01",
		To:     "2024-02",
		Stdout: stdout,
		Stderr: new(bytes.Buffer),
	})
	require.Equal(t, 10, exitCode)
	require.Contains(t, stdout.String(), "2 gap(s) detected")
}

func TestBackfillInvertsOppositePair(t *testing.T) {
	repo := newStubFXRepo()
	cli, err := NewFXOpsCLI(repo)
	require.NoError(t, err)

	source := "period,pair,average,closing\n2024-05,IDRUSD,0.0000625,0.00008\n"
	stdout := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), FXBackfillOptions{
		Pair:         "USDIDR",
		From:         "2024-05",
		To:           "2024-05",
		Mode:         FXBackfillModeApply,
		SourceReader: strings.NewReader(source),
		Stdout:       stdout,
		Stderr:       new(bytes.Buffer),
		Confirm:      func(io.Reader, io.Writer) (bool, error) { return true, nil },
	})
	require.Zero(t, exitCode)
	require.Contains(t, stdout.String(), "(inverted)")

	got, ok, err := repo.QuoteForPeriod(context.Background(), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), "USDIDR")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "16000", got.Average.String())
	require.Equal(t, "12500", got.Closing.String())
}

func TestBackfillRejectsBadRange(t *testing.T) {
	cli, err := NewFXOpsCLI(newStubFXRepo())
	require.NoError(t, err)
	stderr := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), FXBackfillOptions{
		Pair:   "USDIDR",
		From:   "2024-03",
		To:     "2024-01",
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "--from")
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "id", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestJobsCLIEnqueuesLedgerTasks(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := &JobsCLI{client: enq}

	_, err := c.Trigger(context.Background(), jobs.TaskIdempotencyCleanup)
	require.NoError(t, err)
	_, err = c.Trigger(context.Background(), "mail:send")
	require.Error(t, err)

	_, err = c.Eliminate(context.Background(), elimination.RunRequest{TenantID: "t1", ConsolidationEntityID: "group", From: "2024-01-01", To: "2024-01-31"})
	require.NoError(t, err)

	consolCLI := &ConsolOpsCLI{jobs: c}
	_, err = consolCLI.TriggerWarmup(context.Background(), "t1", "group", time.Date(2024, 1, 31, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, enq.tasks, 3)
	require.Equal(t, jobs.TaskLedgerEliminate, enq.tasks[1].Type())
	var payload jobs.ConsolWarmupPayload
	require.NoError(t, json.Unmarshal(enq.tasks[2].Payload(), &payload))
	require.Equal(t, "2024-01-31", payload.AsOf)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func (f *fakeInspector) Close() error { return nil }

func TestJobsCLIInspectQueue(t *testing.T) {
	c := &JobsCLI{inspector: &fakeInspector{info: &asynq.QueueInfo{Pending: 2, Retry: 1, Archived: 4}}}
	stats, err := c.InspectQueue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "queue=default pending=2 active=0 scheduled=0 retry=1 archived=4", stats.String())

	c = &JobsCLI{inspector: &fakeInspector{err: errors.New("redis down")}}
	_, err = c.InspectQueue(context.Background())
	require.ErrorContains(t, err, "redis down")

	_, err = (&JobsCLI{}).InspectQueue(context.Background())
	require.Error(t, err)
	_, err = (&JobsCLI{}).Trigger(context.Background(), jobs.TaskIdempotencyCleanup)
	require.Error(t, err)
}
