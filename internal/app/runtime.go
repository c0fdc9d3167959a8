package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/khovattu/khovattu/internal/platform/cache"
	"github.com/khovattu/khovattu/internal/platform/db"
	"github.com/khovattu/khovattu/internal/storage"
)

const testModeEnv = "KHOVATTU_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether the binaries should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	detectTestMode()
}

// Infra holds the connections shared by the API server and the worker.
type Infra struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
	// Store is nil when MINIO_ENDPOINT is empty.
	Store storage.Store
}

// Connect opens PostgreSQL, Redis and object storage. Storage failures are
// logged and leave Store nil so the service keeps running without labels
// and photos.
func Connect(ctx context.Context, cfg *Config, logger *slog.Logger) (*Infra, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, TimeZone: cfg.AppTimezone})
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store, err := storage.New(ctx, cfg.Storage())
	if err != nil {
		logger.Warn("object storage unavailable", slog.String("endpoint", cfg.MinioEndpoint), slog.Any("error", err))
		store = nil
	}
	if store == nil {
		logger.Info("object storage disabled, qr labels and photos are skipped")
	}
	return &Infra{Pool: pool, Redis: redisClient, Store: store}, nil
}

// AsynqOpts returns the asynq connection settings for cfg.
func (c *Config) AsynqOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr}
}

// Close releases every connection.
func (i *Infra) Close() error {
	if i == nil {
		return nil
	}
	var errs []error
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if i.Pool != nil {
		i.Pool.Close()
	}
	return errors.Join(errs...)
}
