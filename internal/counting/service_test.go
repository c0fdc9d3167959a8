package counting_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/counting"
	"github.com/khovattu/khovattu/internal/platform/cache"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/testing/memstore"
)

var admin = access.Principal{UserID: 1, IsSuperuser: true}

func seed(t *testing.T, store *memstore.Store, factory string, rows ...[2]int) {
	t.Helper()
	err := store.Counting().WithTx(context.Background(), func(ctx context.Context, tx counting.TxRepository) error {
		for i, r := range rows {
			_, err := tx.Insert(ctx, counting.Record{
				Seq:         i + 1,
				FactoryCode: factory,
				Code:        "1.26.46.001.000.A8.00" + string(rune('0'+i)),
				Name:        "Vật tư",
				Unit:        "Cái",
				Expected:    r[0],
				Actual:      r[1],
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func newService(t *testing.T) (*counting.Service, *memstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := memstore.New()
	return counting.NewService(store.Counting(), cache.NewVersioned(client, time.Minute), nil), store, mr
}

func TestClassify(t *testing.T) {
	require.Equal(t, counting.StatusMatch, counting.Classify(counting.Variance(5, 5)))
	require.Equal(t, counting.StatusSurplus, counting.Classify(counting.Variance(5, 7)))
	require.Equal(t, counting.StatusShortage, counting.Classify(counting.Variance(5, 2)))
}

func TestStatsPercentagesAndCache(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	seed(t, store, "VSH1", [2]int{5, 5}, [2]int{5, 7}, [2]int{5, 2})
	seed(t, store, "VSH2", [2]int{1, 1})

	stats, err := svc.Stats(ctx, admin, "VSH1")
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 1, stats.Match)
	require.InDelta(t, 33.3, stats.MatchPercent, 0.001)
	require.Empty(t, stats.Factories)

	all, err := svc.Stats(ctx, admin, "")
	require.NoError(t, err)
	require.Equal(t, 4, all.Total)
	require.Len(t, all.Factories, 2)

	// Rows written behind the service stay invisible until invalidated.
	seed(t, store, "VSH1", [2]int{2, 2})
	stats, err = svc.Stats(ctx, admin, "VSH1")
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)

	svc.Invalidate(ctx, "VSH1")
	stats, err = svc.Stats(ctx, admin, "VSH1")
	require.NoError(t, err)
	require.Equal(t, 4, stats.Total)
	all, err = svc.Stats(ctx, admin, "")
	require.NoError(t, err)
	require.Equal(t, 5, all.Total)
}

func TestStatsScopedPrincipal(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	seed(t, store, "VSH1", [2]int{5, 5})
	seed(t, store, "VSH2", [2]int{5, 1})

	own := "VSH2"
	clerk := access.Principal{HasProfile: true, FactoryCode: &own}
	stats, err := svc.Stats(ctx, clerk, "")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.Shortage)

	_, err = svc.Stats(ctx, clerk, "VSH1")
	require.ErrorIs(t, err, httpx.ErrForbidden)

	stats, err = svc.Stats(ctx, access.Principal{}, "")
	require.NoError(t, err)
	require.Zero(t, stats.Total)
}

func TestListFiltersByStatus(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	seed(t, store, "VSH1", [2]int{5, 5}, [2]int{5, 7}, [2]int{5, 2})

	page, err := svc.List(ctx, admin, counting.Filter{Factory: "VSH1", Status: counting.FilterDiff})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, 2, page.Pagination.Total)

	page, err = svc.List(ctx, admin, counting.Filter{Status: string(counting.StatusSurplus)})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, 2, page.Items[0].Variance)

	_, err = svc.List(ctx, admin, counting.Filter{Status: "bogus"})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestSetActualInvalidatesStats(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	seed(t, store, "VSH1", [2]int{5, 5})

	stats, err := svc.Stats(ctx, admin, "VSH1")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Match)

	rows, err := svc.ForFactory(ctx, admin, "VSH1")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rec, err := svc.SetActual(ctx, admin, rows[0].ID, 3)
	require.NoError(t, err)
	require.Equal(t, counting.StatusShortage, rec.Status)
	require.Equal(t, -2, rec.Variance)

	stats, err = svc.Stats(ctx, admin, "VSH1")
	require.NoError(t, err)
	require.Equal(t, 0, stats.Match)
	require.Equal(t, 1, stats.Shortage)

	_, err = svc.SetActual(ctx, admin, rows[0].ID, -1)
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = svc.SetActual(ctx, admin, 999, 1)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	_, err = svc.ForFactory(ctx, admin, "")
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestStatsSurvivesRedisOutage(t *testing.T) {
	svc, store, mr := newService(t)
	ctx := context.Background()
	seed(t, store, "VSH1", [2]int{5, 5})
	mr.Close()

	stats, err := svc.Stats(ctx, admin, "VSH1")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
}
