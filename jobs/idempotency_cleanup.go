package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// DefaultIdempotencyRetention keeps idempotency records for a week.
const DefaultIdempotencyRetention = 7 * 24 * time.Hour

// IdempotencyPruner deletes records older than a retention window.
type IdempotencyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob prunes expired idempotency records.
type IdempotencyCleanupJob struct {
	Store     IdempotencyPruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires the cleanup handler.
func NewIdempotencyCleanupJob(store IdempotencyPruner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	return &IdempotencyCleanupJob{Store: store, Retention: retention, Logger: logger, Metrics: metrics}
}

// CronRegistration schedules the job daily at 03:00 UTC.
func (j *IdempotencyCleanupJob) CronRegistration() CronRegistration {
	return CronRegistration{Spec: "0 3 * * *", Task: NewIdempotencyCleanupTask()}
}

// Handle executes the cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: store not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskIdempotencyCleanup))

	tracker := metrics.Track(TaskIdempotencyCleanup)
	removed, err := j.Store.Cleanup(ctx, j.Retention)
	if err != nil {
		logger.Error("cleanup idempotency records", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("idempotency records pruned",
		slog.Int64("removed", removed),
		slog.Duration("retention", j.Retention))
	return tracker.End(nil)
}
