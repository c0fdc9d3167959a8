package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client, "secret", time.Hour), mr
}

func TestSessionIssueResolveRevoke(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	token, sess, err := store.Issue(ctx, 42)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := store.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, int64(42), got.UserID)
	require.Equal(t, sess.ID, got.ID)

	require.NoError(t, store.Revoke(ctx, token))
	_, err = store.Resolve(ctx, token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionRejectsForeignSignature(t *testing.T) {
	store, mr := newTestStore(t)
	other := NewSessionStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "other", time.Hour)

	token, _, err := other.Issue(context.Background(), 1)
	require.NoError(t, err)

	_, err = store.Resolve(context.Background(), token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionExpiresWithRedisTTL(t *testing.T) {
	store, mr := newTestStore(t)
	token, _, err := store.Issue(context.Background(), 7)
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = store.Resolve(context.Background(), token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestNewPageNeverNil(t *testing.T) {
	page := NewPage[int](nil, 0, 10, 25)
	require.NotNil(t, page.Items)
	require.Equal(t, 1, page.Pagination.Page)
	require.Equal(t, 3, page.Pagination.TotalPages)
}
