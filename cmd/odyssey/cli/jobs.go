package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/elimination"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

var (
	errNoClient    = errors.New("jobs cli: client not configured")
	errNoInspector = errors.New("jobs cli: inspector not configured")
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// manualTasks are the jobs an operator may trigger without a payload.
var manualTasks = map[string]func() *asynq.Task{
	jobs.TaskIdempotencyCleanup: jobs.NewIdempotencyCleanupTask,
}

// JobsCLI enqueues ledger tasks and reads queue state from Redis.
type JobsCLI struct {
	client    taskEnqueuer
	inspector queueInspector
}

func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if strings.TrimSpace(redisAddr) == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}, nil
}

// Close closes the client and the inspector, joining their errors.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

func (c *JobsCLI) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errNoClient
	}
	return c.client.EnqueueContext(ctx, task, opts...)
}

// Trigger enqueues one of the payload-less tasks by type name.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	build, ok := manualTasks[name]
	if !ok {
		known := make([]string, 0, len(manualTasks))
		for k := range manualTasks {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("jobs cli: unsupported job %q (known: %s)", name, strings.Join(known, ", "))
	}
	return c.enqueue(ctx, build(), asynq.MaxRetry(3))
}

// Eliminate validates the window of req and enqueues an elimination run.
func (c *JobsCLI) Eliminate(ctx context.Context, req elimination.RunRequest) (*asynq.TaskInfo, error) {
	if _, _, err := req.Window(); err != nil {
		return nil, err
	}
	task, err := jobs.NewEliminationTask(req)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

// QueueStats is a snapshot of the ledger queue.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

func (s QueueStats) String() string {
	return fmt.Sprintf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d",
		s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
}

// InspectQueue reads the counters of the ledger queue.
func (c *JobsCLI) InspectQueue(_ context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errNoInspector
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	info, err := c.inspector.GetQueueInfo(stats.Queue)
	if err != nil {
		return QueueStats{}, fmt.Errorf("jobs cli: queue %s: %w", stats.Queue, err)
	}
	if info != nil {
		stats.Pending, stats.Active = info.Pending, info.Active
		stats.Scheduled, stats.Retry = info.Scheduled, info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}
