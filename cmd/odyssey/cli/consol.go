package cli

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// ConsolOpsCLI exposes helpers for managing consolidation warm-up jobs.
type ConsolOpsCLI struct {
	jobs *JobsCLI
}

// NewConsolOpsCLI constructs the helper wired to the provided Redis endpoint.
func NewConsolOpsCLI(redisAddr string) (*ConsolOpsCLI, error) {
	base, err := NewJobsCLI(redisAddr)
	if err != nil {
		return nil, err
	}
	return &ConsolOpsCLI{jobs: base}, nil
}

// Close releases the underlying Asynq resources.
func (c *ConsolOpsCLI) Close() error {
	if c == nil || c.jobs == nil {
		return nil
	}
	return c.jobs.Close()
}

// TriggerWarmup enqueues a report warm-up. A zero asOf leaves the date to the
// worker, which uses the current day.
func (c *ConsolOpsCLI) TriggerWarmup(ctx context.Context, tenantID, entityID string, asOf time.Time) (*asynq.TaskInfo, error) {
	if c == nil || c.jobs == nil {
		return nil, errors.New("consol cli: client not configured")
	}
	payload := jobs.ConsolWarmupPayload{TenantID: tenantID, EntityID: entityID}
	if !asOf.IsZero() {
		payload.AsOf = accounting.CivilDate(asOf).Format(accounting.DateLayout)
	}
	task, err := jobs.NewConsolWarmupTask(payload)
	if err != nil {
		return nil, err
	}
	return c.jobs.enqueue(ctx, task, asynq.MaxRetry(3))
}
