package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithoutEndpointDisablesStorage(t *testing.T) {
	store, err := New(context.Background(), Config{})
	require.NoError(t, err)
	require.Nil(t, store)
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	url, err := m.Put(ctx, "qr_codes/qr_A.png", []byte{1, 2}, "image/png")
	require.NoError(t, err)
	require.Equal(t, "memory://qr_codes/qr_A.png", url)

	data, err := m.Get(ctx, "qr_codes/qr_A.png")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, data)
	require.Equal(t, "image/png", m.ContentType("qr_codes/qr_A.png"))

	require.NoError(t, m.Remove(ctx, "qr_codes/qr_A.png"))
	_, err = m.Get(ctx, "qr_codes/qr_A.png")
	require.Error(t, err)
}

func TestMinIOURL(t *testing.T) {
	m := &MinIO{bucket: "khovattu", publicURL: "http://files.local/khovattu"}
	require.Equal(t, "http://files.local/khovattu/qr_codes/qr_A.png", m.URL("qr_codes/qr_A.png"))
	require.Equal(t, "http://files.local/khovattu/a/b.png", m.URL("/a/../a/b.png"))
}
