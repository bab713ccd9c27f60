package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/elimination"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerEliminate generates and posts intercompany eliminations.
	TaskLedgerEliminate = "ledger:eliminate"
	// TaskConsolWarmup primes the consolidation report cache.
	TaskConsolWarmup = "consol:warmup"
	// TaskIdempotencyCleanup prunes expired idempotency records.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ConsolWarmupPayload names one report to prebuild. AsOf is YYYY-MM-DD and
// defaults to the current date.
type ConsolWarmupPayload struct {
	TenantID string `json:"tenant_id"`
	EntityID string `json:"entity_id"`
	AsOf     string `json:"as_of,omitempty"`
}

// NewEliminationTask wraps an elimination run. The task id is derived from the
// request so a duplicate schedule collapses into the queued one.
func NewEliminationTask(req elimination.RunRequest) (*asynq.Task, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerEliminate, data,
		asynq.Queue(QueueDefault),
		asynq.TaskID(EliminationTaskID(req)),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	), nil
}

// EliminationTaskID is the queue id of the run for req's tenant, entity and window.
func EliminationTaskID(req elimination.RunRequest) string {
	return TaskLedgerEliminate + ":" + req.TenantID + ":" + req.ConsolidationEntityID + ":" + req.From + ":" + req.To
}

// NewConsolWarmupTask wraps a cache warm-up request.
func NewConsolWarmupTask(payload ConsolWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsolWarmup, data, asynq.Queue(QueueDefault), asynq.MaxRetry(2)), nil
}

// NewIdempotencyCleanupTask builds the payload-less cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}
