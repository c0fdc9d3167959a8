package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client and pings it.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// Versioned stores JSON values under keys suffixed with a generation number.
// Bumping the generation orphans every value written before it; orphans
// expire with their TTL.
type Versioned struct {
	client *redis.Client
	ttl    time.Duration
}

// NewVersioned returns a Versioned cache. A nil client disables caching.
func NewVersioned(client *redis.Client, ttl time.Duration) *Versioned {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Versioned{client: client, ttl: ttl}
}

func (v *Versioned) version(ctx context.Context, versionKey string) (int64, error) {
	n, err := v.client.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func dataKey(versionKey, name string, version int64) string {
	return fmt.Sprintf("%s:%s:v%d", versionKey, name, version)
}

// Get loads name into dst. ok is false on a miss.
func (v *Versioned) Get(ctx context.Context, versionKey, name string, dst any) (bool, error) {
	if v == nil || v.client == nil {
		return false, nil
	}
	ver, err := v.version(ctx, versionKey)
	if err != nil {
		return false, fmt.Errorf("platform/cache: version: %w", err)
	}
	raw, err := v.client.Get(ctx, dataKey(versionKey, name, ver)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("platform/cache: get: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("platform/cache: decode: %w", err)
	}
	return true, nil
}

// Set stores value under the current generation.
func (v *Versioned) Set(ctx context.Context, versionKey, name string, value any) error {
	if v == nil || v.client == nil {
		return nil
	}
	ver, err := v.version(ctx, versionKey)
	if err != nil {
		return fmt.Errorf("platform/cache: version: %w", err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("platform/cache: encode: %w", err)
	}
	return v.client.Set(ctx, dataKey(versionKey, name, ver), raw, v.ttl).Err()
}

// Bump starts a new generation for every versionKey.
func (v *Versioned) Bump(ctx context.Context, versionKeys ...string) error {
	if v == nil || v.client == nil || len(versionKeys) == 0 {
		return nil
	}
	pipe := v.client.TxPipeline()
	for _, key := range versionKeys {
		pipe.Incr(ctx, key)
	}
	_, err := pipe.Exec(ctx)
	return err
}
