package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// ReportWarmer builds and caches one consolidation report.
type ReportWarmer interface {
	Warm(ctx context.Context, tenantID, parentEntityID string, asOf time.Time) error
}

// ConsolWarmupJob primes the consolidation report cache.
type ConsolWarmupJob struct {
	Warmer  ReportWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewConsolWarmupJob wires the warm-up handler.
func NewConsolWarmupJob(warmer ReportWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsolWarmupJob {
	return &ConsolWarmupJob{
		Warmer:  warmer,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ConsolWarmupJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

// Handle executes the warm-up job.
func (j *ConsolWarmupJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Warmer == nil {
		return errors.New("consol warmup: dependencies not configured")
	}
	var payload ConsolWarmupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("consol warmup: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if strings.TrimSpace(payload.TenantID) == "" || strings.TrimSpace(payload.EntityID) == "" {
		return fmt.Errorf("consol warmup: tenant and entity required: %w", asynq.SkipRetry)
	}
	asOf := accounting.CivilDate(j.now())
	if payload.AsOf != "" {
		parsed, err := accounting.ParseDate(payload.AsOf)
		if err != nil {
			return fmt.Errorf("consol warmup: as_of %q: %w", payload.AsOf, asynq.SkipRetry)
		}
		asOf = parsed
	}

	tracker := j.metrics().Track(TaskConsolWarmup)
	err := j.Warmer.Warm(ctx, payload.TenantID, payload.EntityID, asOf)
	if err != nil {
		j.log().Error("warm consolidation report",
			slog.String("tenant_id", payload.TenantID),
			slog.String("entity_id", payload.EntityID),
			slog.Any("error", err))
		return tracker.End(err)
	}
	j.log().Info("consolidation report warmed",
		slog.String("tenant_id", payload.TenantID),
		slog.String("entity_id", payload.EntityID),
		slog.String("as_of", asOf.Format(accounting.DateLayout)))
	return tracker.End(nil)
}

func (j *ConsolWarmupJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ConsolWarmupJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsolWarmup))
	}
	return slog.Default().With(slog.String("job", TaskConsolWarmup))
}

func (j *ConsolWarmupJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
