package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/khovattu/khovattu/internal/jobs"
)

// IdempotencyCleaner deletes idempotency keys older than a retention window.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges expired idempotency keys.
type IdempotencyCleanupJob struct {
	Store     IdempotencyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the job handler.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &IdempotencyCleanupJob{Store: store, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle executes one idempotency:cleanup task.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	deleted, err := j.Store.Cleanup(ctx, j.Retention)
	if err != nil {
		j.log().Error("cleanup idempotency keys", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddItems(TaskIdempotencyCleanup, "deleted", int(deleted))
	j.log().Info("purged idempotency keys", slog.Int64("deleted", deleted), slog.Duration("retention", j.Retention))
	return tracker.End(nil)
}

func (j *IdempotencyCleanupJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
