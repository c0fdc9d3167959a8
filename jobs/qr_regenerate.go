package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/khovattu/khovattu/internal/jobs"
	"github.com/khovattu/khovattu/internal/shared"
)

// QRRegenerateLimit caps concurrent label renders.
const QRRegenerateLimit = 8

// QRService renders labels and enumerates the materials of a factory.
type QRService interface {
	RegenerateQR(ctx context.Context, id int64) error
	MaterialIDs(ctx context.Context, factory string) ([]int64, error)
}

// QRRegenerateJob re-renders QR labels in parallel.
type QRRegenerateJob struct {
	Service QRService
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	LockTTL time.Duration
}

// NewQRRegenerateJob constructs the job handler. redisClient may be nil, in
// which case factory-wide runs are not serialised.
func NewQRRegenerateJob(service QRService, redisClient *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *QRRegenerateJob {
	return &QRRegenerateJob{Service: service, Redis: redisClient, Logger: logger, Metrics: metrics, LockTTL: 30 * time.Minute}
}

// Handle executes one qr:regenerate task.
func (j *QRRegenerateJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("qr regenerate: dependencies not configured")
	}
	var payload QRRegeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	payload.FactoryCode = strings.TrimSpace(payload.FactoryCode)
	if payload.FactoryCode == "" {
		return fmt.Errorf("qr regenerate: factory_code is required: %w", asynq.SkipRetry)
	}
	return j.Run(ctx, payload)
}

// Run regenerates the labels selected by payload.
func (j *QRRegenerateJob) Run(ctx context.Context, payload QRRegeneratePayload) (resultErr error) {
	tracker := j.Metrics.Track(TaskQRRegenerate)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	ids := payload.MaterialIDs
	if len(ids) == 0 {
		release, acquired, err := j.lock(ctx, payload.FactoryCode)
		if err != nil {
			return err
		}
		if !acquired {
			j.log().Info("qr regeneration already running", slog.String("factory", payload.FactoryCode))
			return nil
		}
		defer release()
		ids, err = j.Service.MaterialIDs(ctx, payload.FactoryCode)
		if err != nil {
			j.log().Error("list materials", slog.String("factory", payload.FactoryCode), slog.Any("error", err))
			return err
		}
	}

	start := time.Now()
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(QRRegenerateLimit)
	for _, id := range ids {
		g.Go(func() error {
			if err := j.Service.RegenerateQR(gctx, id); err != nil {
				failed.Add(1)
				j.log().Warn("regenerate qr", slog.Int64("material_id", id), slog.Any("error", err))
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	n := int(failed.Load())
	j.Metrics.AddItems(TaskQRRegenerate, "ok", len(ids)-n)
	j.Metrics.AddItems(TaskQRRegenerate, "failed", n)
	j.log().Info("regenerated qr labels",
		slog.String("factory", payload.FactoryCode),
		slog.Int("total", len(ids)),
		slog.Int("failed", n),
		slog.Duration("duration", time.Since(start)))
	if n > 0 {
		return fmt.Errorf("qr regenerate: %d of %d labels failed", n, len(ids))
	}
	return nil
}

func (j *QRRegenerateJob) lock(ctx context.Context, factory string) (func(), bool, error) {
	if j.Redis == nil {
		return func() {}, true, nil
	}
	key := shared.QRRegenerateLockKey(factory)
	ok, err := j.Redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), j.LockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("qr regenerate: lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := j.Redis.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			j.log().Warn("release qr lock", slog.String("factory", factory), slog.Any("error", err))
		}
	}, true, nil
}

func (j *QRRegenerateJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
