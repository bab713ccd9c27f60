package jobs

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/elimination"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client is the API process's handle on the task queue.
type Client struct {
	client enqueuer
}

func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

func (c *Client) submit(ctx context.Context, task *asynq.Task) (string, error) {
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// ScheduleElimination queues an elimination run and returns its task id. When
// the same window is already queued the existing id is returned.
func (c *Client) ScheduleElimination(ctx context.Context, req elimination.RunRequest) (string, error) {
	if _, _, err := req.Window(); err != nil {
		return "", err
	}
	task, err := NewEliminationTask(req)
	if err != nil {
		return "", err
	}
	id, err := c.submit(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return EliminationTaskID(req), nil
	}
	return id, err
}

// EnqueueConsolWarmup queues a cache warm-up of one consolidation report.
func (c *Client) EnqueueConsolWarmup(ctx context.Context, payload ConsolWarmupPayload) (string, error) {
	task, err := NewConsolWarmupTask(payload)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, task)
}

func (c *Client) Close() error {
	return c.client.Close()
}
