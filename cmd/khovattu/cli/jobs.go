package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/khovattu/khovattu/jobs"
)

// TaskEnqueuer is the part of asynq.Client the CLI needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueInspector is the part of asynq.Inspector the CLI needs.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    TaskEnqueuer
	inspector QueueInspector
	closers   []io.Closer
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client := asynq.NewClient(opts)
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{client: client, inspector: inspector, closers: []io.Closer{client, inspector}}
}

// NewJobsCLIWith builds a JobsCLI over explicit collaborators.
func NewJobsCLIWith(client TaskEnqueuer, inspector QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Trigger enqueues a supported job by name. factory is required for
// qr:regenerate and ignored otherwise.
func (c *JobsCLI) Trigger(ctx context.Context, name, factory string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case jobs.TaskQRRegenerate:
		factory = strings.TrimSpace(factory)
		if factory == "" {
			return nil, errors.New("jobs cli: --factory is required for " + jobs.TaskQRRegenerate)
		}
		task, err = jobs.NewQRRegenerateTask(jobs.QRRegeneratePayload{FactoryCode: factory})
	case jobs.TaskIdempotencyCleanup:
		task, err = jobs.NewIdempotencyCleanupTask(time.Now().UTC())
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// TriggerOptions defines the flags of the jobs trigger command.
type TriggerOptions struct {
	Name       string
	Factory    string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

type triggerResult struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Queue string `json:"queue"`
}

// TriggerCommand runs jobs trigger and returns the process exit code.
func (c *JobsCLI) TriggerCommand(ctx context.Context, opts TriggerOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if strings.TrimSpace(opts.Name) == "" {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: job name is required (%s, %s)\n", jobs.TaskQRRegenerate, jobs.TaskIdempotencyCleanup)
		return 1
	}
	info, err := c.Trigger(ctx, opts.Name, opts.Factory)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
		return 1
	}
	res := triggerResult{ID: info.ID, Type: info.Type, Queue: info.Queue}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(res); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s as %s on queue %s\n", res.Type, res.ID, res.Queue)
	return 0
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}
