package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestVersionedBumpOrphansValues(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	c := NewVersioned(client, time.Minute)

	var got map[string]int
	ok, err := c.Get(ctx, "k:version", "stats", &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "k:version", "stats", map[string]int{"total": 3}))
	ok, err = c.Get(ctx, "k:version", "stats", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, got["total"])

	require.NoError(t, c.Bump(ctx, "k:version"))
	ok, err = c.Get(ctx, "k:version", "stats", &got)
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("k:version:stats:v0"))
}

func TestVersionedNilClientIsNoop(t *testing.T) {
	c := NewVersioned(nil, 0)
	ok, err := c.Get(context.Background(), "k", "n", &struct{}{})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Set(context.Background(), "k", "n", 1))
	require.NoError(t, c.Bump(context.Background(), "k"))
}
