package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/elimination"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// EliminationGenerator produces the unposted elimination entries for a run.
type EliminationGenerator interface {
	Generate(ctx context.Context, req elimination.RunRequest) ([]accounting.JournalEntry, error)
}

// Poster runs a command through the posting pipeline.
type Poster interface {
	Handle(ctx context.Context, cmd journals.CreateJournalEntryCommand) (journals.CreateJournalEntryResult, error)
}

// CacheInvalidator drops cached consolidation reports for a tenant.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// EliminationJob generates intercompany eliminations and posts them. Each
// generated entry carries a deterministic idempotency key, so a retried run
// replays the entries it already posted.
type EliminationJob struct {
	Generator      EliminationGenerator
	Poster         Poster
	Cache          CacheInvalidator
	DefaultAccount string
	Logger         *slog.Logger
	Metrics        *jobmetrics.Metrics
}

// NewEliminationJob wires the elimination handler.
func NewEliminationJob(generator EliminationGenerator, poster Poster, cache CacheInvalidator, defaultAccount string, logger *slog.Logger, metrics *jobmetrics.Metrics) *EliminationJob {
	return &EliminationJob{
		Generator:      generator,
		Poster:         poster,
		Cache:          cache,
		DefaultAccount: defaultAccount,
		Logger:         logger,
		Metrics:        metrics,
	}
}

// Handle executes one elimination run.
func (j *EliminationJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Generator == nil || j.Poster == nil {
		return errors.New("eliminate: dependencies not configured")
	}
	var req elimination.RunRequest
	if err := json.Unmarshal(task.Payload(), &req); err != nil {
		return fmt.Errorf("eliminate: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if req.EliminationAccountCode == "" {
		req.EliminationAccountCode = j.DefaultAccount
	}

	metrics := j.metrics()
	tracker := metrics.Track(TaskLedgerEliminate)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(
		slog.String("tenant_id", req.TenantID),
		slog.String("entity_id", req.ConsolidationEntityID),
		slog.String("from", req.From),
		slog.String("to", req.To))

	start := time.Now()
	entries, err := j.Generator.Generate(ctx, req)
	if err != nil {
		logger.Error("generate eliminations", slog.Any("error", err))
		return permanent(err)
	}

	posted, replayed := 0, 0
	defer func() {
		metrics.AddEliminations("posted", posted)
		metrics.AddEliminations("replayed", replayed)
	}()
	for _, entry := range entries {
		cmd := journals.CommandFromInput(entry.Input(), entry.IdempotencyKey())
		result, err := j.Poster.Handle(ctx, cmd)
		if err != nil {
			logger.Error("post elimination",
				slog.String("source_document_id", entry.SourceDocumentID()),
				slog.Any("error", err))
			return permanent(err)
		}
		if result.WasIdempotent {
			replayed++
		} else {
			posted++
		}
	}

	if posted > 0 && j.Cache != nil {
		if err := j.Cache.Invalidate(ctx, req.TenantID); err != nil {
			logger.Warn("invalidate consolidation cache", slog.Any("error", err))
		}
	}
	logger.Info("elimination run complete",
		slog.Int("generated", len(entries)),
		slog.Int("posted", posted),
		slog.Int("replayed", replayed),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// permanent stops asynq from retrying domain rejections; only unclassified
// collaborator failures are retried.
func permanent(err error) error {
	if accounting.Describe(err).Code == accounting.CodeInternal {
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func (j *EliminationJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *EliminationJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerEliminate))
	}
	return slog.Default().With(slog.String("job", TaskLedgerEliminate))
}
